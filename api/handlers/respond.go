package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/lnguide/explainer/pkg/routes"
	"github.com/malbeclabs/lnguide/explainer/pkg/session"
	"github.com/malbeclabs/lnguide/explainer/pkg/setup"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errBadJSON = errors.New("invalid JSON")

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("api: failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps err to a status code. Server-side failures are reported to
// Sentry when the request carries a hub.
func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Warn("api: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
	a.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadJSON),
		errors.Is(err, aggregator.ErrInvalidRequest),
		errors.Is(err, setup.ErrInvalidWallet),
		errors.Is(err, setup.ErrUnknownFunding):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrInvalidID),
		errors.Is(err, routes.ErrUnknownRoute):
		return http.StatusNotFound
	case errors.Is(err, simulation.ErrInvalidTransition),
		errors.Is(err, simulation.ErrInsufficientBalance),
		errors.Is(err, simulation.ErrStopped),
		errors.Is(err, aggregator.ErrNotConnected),
		errors.Is(err, setup.ErrWrongStep),
		errors.Is(err, setup.ErrCreating),
		errors.Is(err, setup.ErrStopped),
		errors.Is(err, routes.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, aggregator.ErrConnection),
		errors.Is(err, aggregator.ErrFetch),
		errors.Is(err, aggregator.ErrAction):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrCapacity),
		errors.Is(err, session.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads an optional JSON body into v. It reports whether a body
// was present.
func decodeJSON(r *http.Request, v any) (bool, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return true, nil
}
