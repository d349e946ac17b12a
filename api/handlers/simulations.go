package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/lnguide/api/metrics"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
)

// SimulationResponse is a simulated channel and its session id.
type SimulationResponse struct {
	ID string `json:"id"`
	simulation.Snapshot
}

func (a *API) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	id, ch, err := a.simulations.Create(func(id string) (*simulation.Channel, error) {
		cfg := a.cfg.Simulation
		cfg.Logger = a.log.With("simulation", id)
		cfg.Clock = a.cfg.Clock
		ch, err := simulation.New(cfg)
		if err != nil {
			return nil, err
		}
		ch.SetObserver(a.feed.SimulationObserver(id))
		return ch, nil
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.SetSessions(sessionKindSimulation, a.simulations.Len())
	a.writeJSON(w, http.StatusCreated, SimulationResponse{ID: id, Snapshot: ch.Snapshot()})
}

func (a *API) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.simulations.List())
}

func (a *API) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, err := a.simulations.Get(id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, SimulationResponse{ID: id, Snapshot: ch.Snapshot()})
}

func (a *API) handleDeleteSimulation(w http.ResponseWriter, r *http.Request) {
	if err := a.simulations.Delete(chi.URLParam(r, "id")); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSimulationAction applies a user trigger. Rejected triggers leave the
// channel unchanged and answer 409.
func (a *API) handleSimulationAction(trigger simulation.Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ch, err := a.simulations.Get(id)
		if err != nil {
			a.writeErr(w, r, err)
			return
		}

		switch trigger {
		case simulation.TriggerCreate:
			err = ch.Create()
		case simulation.TriggerPay:
			err = ch.SendPayment()
		case simulation.TriggerClose:
			err = ch.Close()
		default:
			err = simulation.ErrInvalidTransition
		}
		metrics.RecordSimulationAction(string(trigger), err)
		if err != nil {
			a.writeErr(w, r, err)
			return
		}
		a.writeJSON(w, http.StatusOK, SimulationResponse{ID: id, Snapshot: ch.Snapshot()})
	}
}
