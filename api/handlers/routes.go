package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
)

func (a *API) handleGetTopology(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.routes.Topology())
}

func (a *API) handleGetAnimation(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.routes.State())
}

func (a *API) handleAnimate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "route index must be an integer")
		return
	}
	state, err := a.routes.Animate(index)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	route := a.routes.Topology().Routes[index]
	a.feed.Publish(activity.Entry{
		Source:  activity.SourceRoutes,
		Kind:    "animate",
		Message: fmt.Sprintf("%s: %d hops, %d sat fee", route.Name, route.Hops, route.Fee),
	})
	a.writeJSON(w, http.StatusOK, state)
}
