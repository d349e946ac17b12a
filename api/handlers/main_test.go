package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/api/handlers"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
	"github.com/malbeclabs/lnguide/explainer/pkg/routes"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
	"github.com/malbeclabs/lnguide/lightning/pkg/demo"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	lntesting "github.com/malbeclabs/lnguide/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	api    *handlers.API
	router http.Handler
	clock  *clockwork.FakeClock
	node   *aggregator.Aggregator
	feed   *activity.Feed
}

type envOption func(*handlers.Config, *aggregator.Config)

// withRealNode points the aggregator at baseURL instead of the demo backend.
func withRealNode(baseURL, macaroon string) envOption {
	return func(_ *handlers.Config, ac *aggregator.Config) {
		ac.Mode = aggregator.ModeReal
		ac.DemoClient = nil
		ac.NewClient = func(conn aggregator.ConnectionConfig) (lnd.Client, error) {
			c, err := lnd.NewRESTClient(lnd.Config{
				Logger:   lntesting.NewLogger(),
				BaseURL:  conn.BaseURL,
				Macaroon: conn.MacaroonHex,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		if baseURL != "" {
			ac.Connection = &aggregator.ConnectionConfig{BaseURL: baseURL, MacaroonHex: macaroon}
		}
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	log := lntesting.NewLogger()
	clock := clockwork.NewFakeClock()

	backend, err := demo.New(demo.Config{Logger: log, Clock: clock})
	require.NoError(t, err)
	aggCfg := aggregator.Config{
		Logger:     log,
		Clock:      clock,
		Mode:       aggregator.ModeDemo,
		DemoClient: backend,
	}

	feed, err := activity.New(activity.Config{Logger: log, Clock: clock})
	require.NoError(t, err)
	explainer, err := routes.New(routes.Config{Logger: log, Clock: clock})
	require.NoError(t, err)

	cfg := handlers.Config{
		Logger:   log,
		Clock:    clock,
		Activity: feed,
		Routes:   explainer,
	}
	for _, opt := range opts {
		opt(&cfg, &aggCfg)
	}

	node, err := aggregator.New(aggCfg)
	require.NoError(t, err)
	cfg.Aggregator = node

	api, err := handlers.New(cfg)
	require.NoError(t, err)
	t.Cleanup(api.Stop)

	r := chi.NewRouter()
	r.Route("/api", api.Routes)
	return &testEnv{api: api, router: r, clock: clock, node: node, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[handlers.ErrorResponse](t, rec).Error
}
