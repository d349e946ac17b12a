package lndtesting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
)

// TestMacaroon is the credential the fake server accepts by default.
const TestMacaroon = "0201036c6e64"

// Fixture is the data a Server returns. Zero values are served as empty responses.
type Fixture struct {
	Info            lnd.WalletInfo
	Channels        []lnd.Channel
	Pending         lnd.PendingChannels
	WalletBalance   lnd.WalletBalance
	ChannelBalance  lnd.ChannelBalance
	Network         lnd.NetworkInfo
	Nodes           map[string]lnd.NodeDetail
	OpenChannelResp lnd.OpenChannelResult
}

// OpenChannelCall is a recorded POST /v1/channels body.
type OpenChannelCall struct {
	NodePubkeyString   string `json:"node_pubkey_string"`
	LocalFundingAmount string `json:"local_funding_amount"`
	PushSat            string `json:"push_sat"`
}

// Server is an httptest server speaking the LND REST routes the client uses.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	macaroon  string
	fixture   Fixture
	failures  map[string]int
	requests  []string
	openCalls []OpenChannelCall
}

// NewServer starts a fake LND REST server serving fixture. It is closed
// when the test ends.
func NewServer(t *testing.T, fixture Fixture) *Server {
	t.Helper()
	s := &Server{
		macaroon: TestMacaroon,
		fixture:  fixture,
		failures: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request whose path starts with prefix return status.
// A status of 0 clears the failure.
func (s *Server) Fail(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, prefix)
		return
	}
	s.failures[prefix] = status
}

func (s *Server) SetFixture(f Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixture = f
}

func (s *Server) UpdateFixture(fn func(f *Fixture)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.fixture)
}

// Requests returns the request URIs received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) OpenChannelCalls() []OpenChannelCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OpenChannelCall(nil), s.openCalls...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.URL.RequestURI())

	if r.Header.Get(lnd.MacaroonHeader) != s.macaroon {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 2, "message": "verification failed: signature mismatch after caveat verification"})
		return
	}
	for prefix, status := range s.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			writeJSON(w, status, map[string]any{"code": 2, "message": "injected failure"})
			return
		}
	}

	f := &s.fixture
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/getinfo":
		writeJSON(w, http.StatusOK, f.Info)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/channels":
		channels := f.Channels
		if r.URL.Query().Get("active_only") == "true" {
			channels = make([]lnd.Channel, 0, len(f.Channels))
			for _, ch := range f.Channels {
				if ch.Active {
					channels = append(channels, ch)
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/channels":
		var call OpenChannelCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 3, "message": err.Error()})
			return
		}
		s.openCalls = append(s.openCalls, call)
		writeJSON(w, http.StatusOK, f.OpenChannelResp)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/channels/pending":
		writeJSON(w, http.StatusOK, f.Pending)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/balance/blockchain":
		writeJSON(w, http.StatusOK, f.WalletBalance)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/balance/channels":
		writeJSON(w, http.StatusOK, f.ChannelBalance)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/graph/info":
		writeJSON(w, http.StatusOK, f.Network)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/graph/node/"):
		pk := strings.TrimPrefix(r.URL.Path, "/v1/graph/node/")
		detail, ok := f.Nodes[pk]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 5, "message": "unable to find node"})
			return
		}
		writeJSON(w, http.StatusOK, detail)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 5, "message": "Not Found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
