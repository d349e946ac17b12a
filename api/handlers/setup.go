package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/lnguide/api/metrics"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
	"github.com/malbeclabs/lnguide/explainer/pkg/setup"
)

// SetupResponse is a wizard snapshot with its session id.
type SetupResponse struct {
	ID string `json:"id"`
	setup.Snapshot
}

// FundingRequest is the body of POST /api/setup/{id}/funding.
type FundingRequest struct {
	OptionID string `json:"optionId"`
}

func (a *API) handleCreateSetup(w http.ResponseWriter, r *http.Request) {
	id, wiz, err := a.wizards.Create(func(id string) (*setup.Wizard, error) {
		cfg := a.cfg.Setup
		cfg.Logger = a.log.With("setup", id)
		cfg.Clock = a.cfg.Clock
		return setup.New(cfg)
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	metrics.SetSessions(sessionKindSetup, a.wizards.Len())
	a.writeJSON(w, http.StatusCreated, SetupResponse{ID: id, Snapshot: wiz.Snapshot()})
}

func (a *API) handleFundingOptions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, setup.FundingOptions())
}

func (a *API) handleSuggestedPeers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, setup.SuggestedPeers())
}

// withWizard resolves the {id} session and renders its snapshot after fn.
func (a *API) withWizard(w http.ResponseWriter, r *http.Request, fn func(*setup.Wizard) error) {
	id := chi.URLParam(r, "id")
	wiz, err := a.wizards.Get(id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if fn != nil {
		if err := fn(wiz); err != nil {
			a.writeErr(w, r, err)
			return
		}
	}
	a.writeJSON(w, http.StatusOK, SetupResponse{ID: id, Snapshot: wiz.Snapshot()})
}

func (a *API) handleGetSetup(w http.ResponseWriter, r *http.Request) {
	a.withWizard(w, r, nil)
}

func (a *API) handleDeleteSetup(w http.ResponseWriter, r *http.Request) {
	if err := a.wizards.Delete(chi.URLParam(r, "id")); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetupNext(w http.ResponseWriter, r *http.Request) {
	a.withWizard(w, r, func(wiz *setup.Wizard) error {
		_, err := wiz.Next()
		return err
	})
}

func (a *API) handleSetupBack(w http.ResponseWriter, r *http.Request) {
	a.withWizard(w, r, func(wiz *setup.Wizard) error {
		_, err := wiz.Back()
		return err
	})
}

func (a *API) handleSetupRestart(w http.ResponseWriter, r *http.Request) {
	a.withWizard(w, r, func(wiz *setup.Wizard) error {
		wiz.Restart()
		return nil
	})
}

// handleSetupWallet starts wallet creation; it answers 202 while the wallet
// is being created.
func (a *API) handleSetupWallet(w http.ResponseWriter, r *http.Request) {
	var form setup.WalletForm
	if _, err := decodeJSON(r, &form); err != nil {
		a.writeErr(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	wiz, err := a.wizards.Get(id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if err := wiz.SubmitWallet(form); err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.feed.Publish(activity.Entry{
		Source:  activity.SourceSetup,
		Subject: id,
		Kind:    "wallet",
		Message: "creating wallet " + form.Alias,
	})
	a.writeJSON(w, http.StatusAccepted, SetupResponse{ID: id, Snapshot: wiz.Snapshot()})
}

func (a *API) handleSetupFunding(w http.ResponseWriter, r *http.Request) {
	var req FundingRequest
	if _, err := decodeJSON(r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	a.withWizard(w, r, func(wiz *setup.Wizard) error {
		opt, err := wiz.SelectFunding(req.OptionID)
		if err != nil {
			return err
		}
		a.feed.Publish(activity.Entry{
			Source:  activity.SourceSetup,
			Subject: id,
			Kind:    "funding",
			Message: "funded with " + opt.BTC + " BTC (" + opt.Name + ")",
		})
		return nil
	})
}
