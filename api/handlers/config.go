package handlers

import (
	"net/http"

	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
)

// PublicConfig holds configuration that is safe to expose to the frontend
type PublicConfig struct {
	Mode              aggregator.Mode `json:"mode"`
	Demo              bool            `json:"demo"`
	SentryDSN         string          `json:"sentryDsn,omitempty"`
	SentryEnvironment string          `json:"sentryEnvironment,omitempty"`
	Version           string          `json:"version,omitempty"`
}

// handleGetConfig returns public configuration for the frontend
func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.cfg.Public)
}
