package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/malbeclabs/lnguide/api/metrics"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
)

const defaultActivityLimit = 100

// handleGetActivity returns recent entries, oldest first. Query params:
// source (default all), since (sequence number), limit.
func (a *API) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since uint64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		since = v
	}
	limit := defaultActivityLimit
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = min(v, MaxLimit)
		}
	}
	a.writeJSON(w, http.StatusOK, a.feed.Recent(activity.Source(q.Get("source")), since, limit))
}

// handleActivityStream streams new entries via Server-Sent Events.
func (a *API) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sourceFilter := r.URL.Query().Get("source")

	ch := a.feed.Subscribe()
	defer a.feed.Unsubscribe(ch)
	metrics.ActivityStreams.Inc()
	defer metrics.ActivityStreams.Dec()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if sourceFilter != "" && sourceFilter != "all" && string(entry.Source) != sourceFilter {
				continue
			}

			data, err := json.Marshal(entry)
			if err != nil {
				a.log.Error("activity: failed to marshal entry", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", entry.Seq, data)
			flusher.Flush()
		}
	}
}
