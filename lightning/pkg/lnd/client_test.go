package lnd_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	lndtesting "github.com/malbeclabs/lnguide/lightning/pkg/lnd/testing"
	"github.com/malbeclabs/lnguide/utils/pkg/retry"
	lntesting "github.com/malbeclabs/lnguide/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pubkeyG = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func newClient(t *testing.T, baseURL string) *lnd.RESTClient {
	t.Helper()
	c, err := lnd.NewRESTClient(lnd.Config{
		Logger:   lntesting.NewLogger(),
		BaseURL:  baseURL,
		Macaroon: lndtesting.TestMacaroon,
	})
	require.NoError(t, err)
	return c
}

func TestLN_LND_Config_Validate(t *testing.T) {
	t.Parallel()

	log := lntesting.NewLogger()
	tests := []struct {
		name string
		cfg  lnd.Config
		want string
	}{
		{"missing logger", lnd.Config{BaseURL: "https://n:8080", Macaroon: "ab"}, "logger is required"},
		{"missing url", lnd.Config{Logger: log, Macaroon: "ab"}, "base url is required"},
		{"relative url", lnd.Config{Logger: log, BaseURL: "localhost:8080", Macaroon: "ab"}, "absolute http(s) url"},
		{"missing macaroon", lnd.Config{Logger: log, BaseURL: "https://n:8080"}, "macaroon is required"},
		{"non-hex macaroon", lnd.Config{Logger: log, BaseURL: "https://n:8080", Macaroon: "demo"}, "hex encoded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := lnd.Config{Logger: log, BaseURL: "https://n:8080/", Macaroon: "ab"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
	assert.NotNil(t, cfg.Clock)
}

func TestLN_LND_Client_SendsMacaroonAndDecodesStrings(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, lndtesting.Fixture{
		Info: lnd.WalletInfo{IdentityPubkey: pubkeyG, Alias: "alice", SyncedToChain: true},
		Channels: []lnd.Channel{
			{ChanID: "1", Active: true, Capacity: 400, LocalBalance: 150, RemoteBalance: 250},
			{ChanID: "2", Active: false, Capacity: 100},
		},
		WalletBalance: lnd.WalletBalance{TotalBalance: 1_000_000, ConfirmedBalance: 900_000},
	})
	c := newClient(t, srv.URL+"/")

	info, err := c.GetInfo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Alias)
	assert.True(t, info.SyncedToChain)

	active, err := c.ListChannels(t.Context(), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, lnd.Sats(150), active[0].LocalBalance)

	all, err := c.ListChannels(t.Context(), false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bal, err := c.WalletBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, lnd.Sats(1_000_000), bal.TotalBalance)

	assert.Equal(t, []string{
		"/v1/getinfo",
		"/v1/channels?active_only=true",
		"/v1/channels",
		"/v1/balance/blockchain",
	}, srv.Requests())
}

func TestLN_LND_Client_NodeInfoAndOpenChannel(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, lndtesting.Fixture{
		Nodes: map[string]lnd.NodeDetail{
			pubkeyG: {Node: lnd.LightningNode{PubKey: pubkeyG, Alias: "bob"}, NumChannels: 12, TotalCapacity: 5_000_000},
		},
		OpenChannelResp: lnd.OpenChannelResult{FundingTxidStr: "abcd", OutputIndex: 1},
	})
	c := newClient(t, srv.URL)

	detail, err := c.NodeInfo(t.Context(), pubkeyG, false)
	require.NoError(t, err)
	assert.Equal(t, "bob", detail.Node.Alias)
	assert.Equal(t, lnd.Sats(5_000_000), detail.TotalCapacity)

	res, err := c.OpenChannel(t.Context(), pubkeyG, 250_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, "abcd", res.FundingTxidStr)

	calls := srv.OpenChannelCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, lndtesting.OpenChannelCall{
		NodePubkeyString:   pubkeyG,
		LocalFundingAmount: "250000",
		PushSat:            "1000",
	}, calls[0])
	assert.Contains(t, srv.Requests(), "/v1/graph/node/"+pubkeyG+"?include_channels=false")
}

func TestLN_LND_Client_APIErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, lndtesting.Fixture{})
	c := newClient(t, srv.URL)

	_, err := c.NodeInfo(t.Context(), pubkeyG, true)
	require.Error(t, err)

	var apiErr *lnd.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode())
	assert.Equal(t, "lnd API error: unable to find node (status 404)", apiErr.Error())
}

func TestLN_LND_Client_RejectsWrongMacaroon(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, lndtesting.Fixture{})
	c, err := lnd.NewRESTClient(lnd.Config{
		Logger:   lntesting.NewLogger(),
		BaseURL:  srv.URL,
		Macaroon: "deadbeef",
	})
	require.NoError(t, err)

	_, err = c.GetInfo(t.Context())
	var apiErr *lnd.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestLN_LND_Client_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.GetInfo(t.Context())

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestLN_LND_Client_RetriesWhenConfigured(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"total_balance":"42"}`))
	}))
	defer srv.Close()

	c, err := lnd.NewRESTClient(lnd.Config{
		Logger:   lntesting.NewLogger(),
		BaseURL:  srv.URL,
		Macaroon: lndtesting.TestMacaroon,
		Retry:    retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)

	bal, err := c.WalletBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, lnd.Sats(42), bal.TotalBalance)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestLN_LND_Client_EmptyChannelListIsNotNil(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	channels, err := newClient(t, srv.URL).ListChannels(t.Context(), true)
	require.NoError(t, err)
	assert.NotNil(t, channels)
	assert.Empty(t, channels)
}
