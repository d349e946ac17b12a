package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
)

// NodeResponse is the aggregator status with the current snapshots.
type NodeResponse struct {
	aggregator.Status
	Data      aggregator.Data      `json:"data"`
	Liquidity aggregator.Liquidity `json:"liquidity"`
}

// OpenChannelRequest is the body of POST /api/node/channels. Amounts are sats.
type OpenChannelRequest struct {
	NodePubkey string `json:"nodePubkey"`
	Amount     int64  `json:"amount"`
	PushAmount int64  `json:"pushAmount"`
}

func (a *API) nodeResponse() NodeResponse {
	data := a.node.Data()
	return NodeResponse{
		Status:    a.node.Status(),
		Data:      data,
		Liquidity: aggregator.ComputeLiquidity(data.Channels),
	}
}

func (a *API) publishNode(kind string, err error, message string) {
	e := activity.Entry{Source: activity.SourceNode, Kind: kind, Message: message}
	if err != nil {
		e.Level = activity.LevelError
		e.Message = err.Error()
	}
	a.feed.Publish(e)
}

func (a *API) handleGetNode(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.nodeResponse())
}

// handleConnect accepts an optional {baseUrl, macaroonHex} body. Without one,
// the stored credentials are reused.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var conn aggregator.ConnectionConfig
	present, err := decodeJSON(r, &conn)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	var connPtr *aggregator.ConnectionConfig
	if present {
		connPtr = &conn
	}

	err = a.node.Connect(r.Context(), connPtr)
	a.publishNode("connect", err, "connected to "+a.nodeAlias())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.nodeResponse())
}

func (a *API) nodeAlias() string {
	if info := a.node.Status().NodeInfo; info != nil && info.Alias != "" {
		return info.Alias
	}
	return "node"
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := a.node.Refresh(r.Context())
	a.publishNode("refresh", err, "node data refreshed")
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.nodeResponse())
}

func (a *API) handleGetLiquidity(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.node.Liquidity())
}

func (a *API) handleListChannels(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, Paginate(a.node.Channels(), ParsePagination(r, DefaultLimit)))
}

func (a *API) handleRecommended(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			a.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecommendedLimit)
	}
	nodes, err := a.node.RecommendedNodes(r.Context(), limit)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []lnd.RecommendedNode{}
	}
	a.writeJSON(w, http.StatusOK, nodes)
}

func (a *API) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req OpenChannelRequest
	present, err := decodeJSON(r, &req)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if !present {
		a.writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	res, err := a.node.OpenChannel(r.Context(), req.NodePubkey, req.Amount, req.PushAmount)
	a.publishNode("open_channel", err, fmt.Sprintf("channel of %d sats requested with %s", req.Amount, req.NodePubkey))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}
