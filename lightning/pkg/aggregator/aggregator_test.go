package aggregator_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
	"github.com/malbeclabs/lnguide/lightning/pkg/demo"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	lndtesting "github.com/malbeclabs/lnguide/lightning/pkg/lnd/testing"
	lntesting "github.com/malbeclabs/lnguide/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pubkeyG  = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	pubkey2G = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"
	pubkey3G = "02f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9"
)

var epoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixture(now time.Time) lndtesting.Fixture {
	recent := now.Add(-time.Hour).Unix()
	return lndtesting.Fixture{
		Info: lnd.WalletInfo{IdentityPubkey: pubkeyG, Alias: "alice", NumActiveChannels: 2},
		Channels: []lnd.Channel{
			{ChanID: "1", RemotePubkey: pubkey2G, Active: true, Capacity: 300, LocalBalance: 100, RemoteBalance: 200},
			{ChanID: "2", RemotePubkey: pubkey3G, Active: true, Capacity: 100, LocalBalance: 50, RemoteBalance: 50},
			{ChanID: "3", RemotePubkey: pubkey3G, Active: false, Capacity: 1_000, LocalBalance: 1_000},
		},
		WalletBalance:  lnd.WalletBalance{TotalBalance: 5_000, ConfirmedBalance: 5_000},
		ChannelBalance: lnd.ChannelBalance{Balance: 150},
		Network: lnd.NetworkInfo{
			NumNodes: 4,
			Nodes: []lnd.GraphNode{
				{PubKey: "aa", Alias: "small", NumChannels: 10, Capacity: 1, LastUpdate: recent},
				{PubKey: "bb", Alias: "big", NumChannels: 50, Capacity: 1, LastUpdate: recent},
				{PubKey: "cc", Alias: "mid", NumChannels: 30, Capacity: 1, LastUpdate: recent},
				{PubKey: "dd", Alias: "stale", NumChannels: 1_000, Capacity: 1_000_000, LastUpdate: now.Add(-25 * time.Hour).Unix()},
			},
		},
		Nodes: map[string]lnd.NodeDetail{
			"aa": {Node: lnd.LightningNode{PubKey: "aa", Alias: "small-detail", LastUpdate: recent}},
			"bb": {Node: lnd.LightningNode{PubKey: "bb", Alias: "big-detail", LastUpdate: recent,
				Addresses: []lnd.NodeAddress{{Network: "tcp", Addr: "203.0.113.7:9735"}}}},
		},
		OpenChannelResp: lnd.OpenChannelResult{FundingTxidStr: "abcd", OutputIndex: 1},
	}
}

func clientFactory() aggregator.ClientFactory {
	return func(conn aggregator.ConnectionConfig) (lnd.Client, error) {
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
}

func newReal(t *testing.T, srv *lndtesting.Server, clock clockwork.Clock) *aggregator.Aggregator {
	t.Helper()
	a, err := aggregator.New(aggregator.Config{
		Logger:     lntesting.NewLogger(),
		Clock:      clock,
		Mode:       aggregator.ModeReal,
		NewClient:  clientFactory(),
		Connection: &aggregator.ConnectionConfig{BaseURL: srv.URL, MacaroonHex: lndtesting.TestMacaroon},
	})
	require.NoError(t, err)
	return a
}

func newDemo(t *testing.T, clock clockwork.Clock, mutate ...func(*aggregator.Config)) *aggregator.Aggregator {
	t.Helper()
	backend, err := demo.New(demo.Config{Logger: lntesting.NewLogger(), Clock: clock})
	require.NoError(t, err)
	cfg := aggregator.Config{
		Logger:     lntesting.NewLogger(),
		Clock:      clock,
		Mode:       aggregator.ModeDemo,
		DemoClient: backend,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	a, err := aggregator.New(cfg)
	require.NoError(t, err)
	return a
}

func countPath(reqs []string, path string) int {
	n := 0
	for _, r := range reqs {
		if strings.SplitN(r, "?", 2)[0] == path {
			n++
		}
	}
	return n
}

func TestLN_Aggregator_Config_Validate(t *testing.T) {
	t.Parallel()

	log := lntesting.NewLogger()
	require.EqualError(t, (&aggregator.Config{}).Validate(), "logger is required")
	require.EqualError(t, (&aggregator.Config{Logger: log, Mode: aggregator.ModeDemo}).Validate(), "demo client is required in demo mode")
	require.EqualError(t, (&aggregator.Config{Logger: log, Mode: aggregator.ModeReal}).Validate(), "client factory is required in real mode")
	require.EqualError(t, (&aggregator.Config{Logger: log, Mode: "mainnet"}).Validate(), `unknown mode "mainnet"`)

	cfg := aggregator.Config{Logger: log, Mode: aggregator.ModeReal, NewClient: clientFactory()}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, aggregator.DefaultRecommendationLimit, cfg.RecommendationLimit)
	assert.Equal(t, aggregator.DefaultRecencyWindow, cfg.RecencyWindow)
	assert.NotNil(t, cfg.Clock)
}

func TestLN_Aggregator_Connect_LoadsEverything(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clock)

	assert.False(t, a.Ready())
	require.NoError(t, a.Connect(t.Context(), nil))
	assert.True(t, a.Ready())

	st := a.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.NodeInfo)
	assert.Equal(t, "alice", st.NodeInfo.Alias)
	require.NotNil(t, st.LastRefresh)
	assert.Equal(t, epoch, *st.LastRefresh)

	data := a.Data()
	assert.Len(t, data.Channels, 2, "inactive channels are not listed")
	require.NotNil(t, data.WalletBalance)
	assert.Equal(t, lnd.Sats(5_000), data.WalletBalance.TotalBalance)
	require.NotNil(t, data.NetworkInfo)
	assert.Len(t, data.NetworkInfo.Nodes, 4)
	require.Len(t, data.RecommendedNodes, 3)

	reqs := srv.Requests()
	assert.Contains(t, reqs, "/v1/channels?active_only=true")
	assert.Equal(t, 1, countPath(reqs, "/v1/getinfo"))
}

func TestLN_Aggregator_Liquidity(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	assert.Equal(t, aggregator.Liquidity{}, a.Liquidity())

	require.NoError(t, a.Connect(t.Context(), nil))
	l := a.Liquidity()
	assert.Equal(t, btcutil.Amount(250), l.Inbound)
	assert.Equal(t, btcutil.Amount(150), l.Outbound)
	assert.Equal(t, btcutil.Amount(400), l.Capacity)
	assert.Equal(t, 2, l.Channels)
	assert.InDelta(t, 0.0000025, l.InboundBTC(), 1e-12)
}

func TestLN_Aggregator_ComputeLiquidity_UnparsableCountsAsZero(t *testing.T) {
	t.Parallel()

	var ch lnd.Channel
	require.NoError(t, ch.Capacity.UnmarshalJSON([]byte(`"1000"`)))
	require.NoError(t, ch.LocalBalance.UnmarshalJSON([]byte(`"lots"`)))
	require.NoError(t, ch.RemoteBalance.UnmarshalJSON([]byte(`null`)))

	l := aggregator.ComputeLiquidity([]lnd.Channel{ch})
	assert.Equal(t, aggregator.Liquidity{Capacity: 1_000, Channels: 1}, l)
}

func TestLN_Aggregator_Recommended_RankingAndFallback(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, a.Connect(t.Context(), nil))

	recs := a.Data().RecommendedNodes
	require.Len(t, recs, 3)

	assert.Equal(t, "bb", recs[0].PubKey)
	assert.Equal(t, "big-detail", recs[0].Alias)
	assert.Len(t, recs[0].Addresses, 1)
	require.NotNil(t, recs[0].Score)
	assert.InDelta(t, 50.0/1e12, *recs[0].Score, 1e-18)

	// No detail for cc: graph summary, no score, slot kept.
	assert.Equal(t, "cc", recs[1].PubKey)
	assert.Equal(t, "mid", recs[1].Alias)
	assert.Nil(t, recs[1].Score)

	assert.Equal(t, "aa", recs[2].PubKey)
	assert.Equal(t, int64(10), recs[2].NumChannels)
	require.NotNil(t, recs[2].Score)

	for _, r := range recs {
		assert.NotEqual(t, "dd", r.PubKey, "stale nodes are excluded")
	}
}

func TestLN_Aggregator_Recommended_TopDetailFailureKeepsLimit(t *testing.T) {
	t.Parallel()

	f := fixture(epoch)
	delete(f.Nodes, "bb")
	f.Nodes["cc"] = lnd.NodeDetail{Node: lnd.LightningNode{PubKey: "cc", Alias: "mid-detail", LastUpdate: epoch.Unix()}}
	srv := lndtesting.NewServer(t, f)
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, a.Connect(t.Context(), nil))

	recs, err := a.RecommendedNodes(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "bb", recs[0].PubKey)
	assert.Equal(t, "big", recs[0].Alias)
	assert.Equal(t, int64(50), recs[0].NumChannels)
	assert.Nil(t, recs[0].Score)

	assert.Equal(t, "cc", recs[1].PubKey)
	assert.Equal(t, "mid-detail", recs[1].Alias)
	require.NotNil(t, recs[1].Score)
	assert.InDelta(t, 30.0/1e12, *recs[1].Score, 1e-18)
}

func TestLN_Aggregator_Recommended_LimitAndTies(t *testing.T) {
	t.Parallel()

	now := epoch
	f := fixture(now)
	f.Network.Nodes = []lnd.GraphNode{
		{PubKey: "t1", NumChannels: 2, Capacity: 10, LastUpdate: now.Unix()},
		{PubKey: "t2", NumChannels: 4, Capacity: 5, LastUpdate: now.Unix()},
		{PubKey: "t3", NumChannels: 1, Capacity: 20, LastUpdate: now.Unix()},
		{PubKey: "x", NumChannels: 1, Capacity: 1, LastUpdate: now.Unix()},
	}
	srv := lndtesting.NewServer(t, f)
	a := newReal(t, srv, clockwork.NewFakeClockAt(now))
	require.NoError(t, a.Connect(t.Context(), nil))

	recs, err := a.RecommendedNodes(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "t1", recs[0].PubKey)
	assert.Equal(t, "t2", recs[1].PubKey)
}

func TestLN_Aggregator_Recommended_NoRecentNodes(t *testing.T) {
	t.Parallel()

	f := fixture(epoch)
	for i := range f.Network.Nodes {
		f.Network.Nodes[i].LastUpdate = epoch.Add(-48 * time.Hour).Unix()
	}
	srv := lndtesting.NewServer(t, f)
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, a.Connect(t.Context(), nil))

	assert.Empty(t, a.Data().RecommendedNodes)
	assert.Zero(t, countPath(srv.Requests(), "/v1/graph/node/aa"))
}

func TestLN_Aggregator_Connect_Failure(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))

	err := a.Connect(t.Context(), &aggregator.ConnectionConfig{MacaroonHex: "abcdef"})
	require.ErrorIs(t, err, aggregator.ErrConnection)

	st := a.Status()
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, "failed to connect")
	assert.Nil(t, st.NodeInfo)
	assert.Zero(t, countPath(srv.Requests(), "/v1/channels"))

	// Correct credentials clear the previous error.
	require.NoError(t, a.Connect(t.Context(), &aggregator.ConnectionConfig{MacaroonHex: lndtesting.TestMacaroon}))
	assert.Empty(t, a.LastError())
	assert.True(t, a.IsConnected())
}

func TestLN_Aggregator_Connect_MissingCredentials(t *testing.T) {
	t.Parallel()

	a, err := aggregator.New(aggregator.Config{
		Logger:    lntesting.NewLogger(),
		Mode:      aggregator.ModeReal,
		NewClient: clientFactory(),
	})
	require.NoError(t, err)

	err = a.Connect(t.Context(), nil)
	require.ErrorIs(t, err, aggregator.ErrConnection)
	assert.Contains(t, err.Error(), "base url and macaroon are required")
}

func TestLN_Aggregator_Connect_RefreshFailureStaysConnected(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	srv.Fail("/v1/graph/info", http.StatusInternalServerError)
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))

	err := a.Connect(t.Context(), nil)
	require.ErrorIs(t, err, aggregator.ErrFetch)
	assert.True(t, a.IsConnected())
	assert.False(t, a.Ready())
	assert.Empty(t, a.Data().Channels)
}

func TestLN_Aggregator_Refresh_FailureKeepsPreviousData(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clock)
	require.NoError(t, a.Connect(t.Context(), nil))
	before := a.Data()
	refreshedAt := *a.Status().LastRefresh

	srv.UpdateFixture(func(f *lndtesting.Fixture) {
		f.Channels = f.Channels[:1]
		f.WalletBalance.TotalBalance = 1
	})
	srv.Fail("/v1/balance/blockchain", http.StatusServiceUnavailable)
	clock.Advance(time.Minute)

	err := a.Refresh(t.Context())
	require.ErrorIs(t, err, aggregator.ErrFetch)
	assert.Contains(t, err.Error(), "wallet balance")

	after := a.Data()
	assert.Equal(t, before, after)
	st := a.Status()
	assert.Equal(t, refreshedAt, *st.LastRefresh)
	assert.Contains(t, st.Error, "failed to refresh")
	assert.True(t, st.Connected)

	srv.Fail("/v1/balance/blockchain", 0)
	require.NoError(t, a.Refresh(t.Context()))
	assert.Len(t, a.Data().Channels, 1)
	assert.Equal(t, epoch.Add(time.Minute), *a.Status().LastRefresh)
}

func TestLN_Aggregator_Refresh_NotConnected(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))

	require.ErrorIs(t, a.Refresh(t.Context()), aggregator.ErrNotConnected)
	assert.Empty(t, a.LastError())
	assert.Empty(t, srv.Requests())

	_, err := a.RecommendedNodes(t.Context(), 0)
	require.ErrorIs(t, err, aggregator.ErrNotConnected)
}

func TestLN_Aggregator_OpenChannel(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))

	_, err := a.OpenChannel(t.Context(), pubkey2G, 100_000, 0)
	require.ErrorIs(t, err, aggregator.ErrNotConnected)
	assert.Equal(t, aggregator.ErrNotConnected.Error(), a.LastError())

	require.NoError(t, a.Connect(t.Context(), nil))
	channelLists := countPath(srv.Requests(), "/v1/channels")

	res, err := a.OpenChannel(t.Context(), pubkey2G, 100_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, "abcd", res.FundingTxidStr)

	calls := srv.OpenChannelCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, lndtesting.OpenChannelCall{NodePubkeyString: pubkey2G, LocalFundingAmount: "100000", PushSat: "1000"}, calls[0])
	assert.Equal(t, channelLists+1, countPath(srv.Requests(), "/v1/channels"), "open is followed by a refresh")
}

func TestLN_Aggregator_OpenChannel_Validation(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, a.Connect(t.Context(), nil))

	tests := []struct {
		name   string
		pubkey string
		amount int64
		push   int64
	}{
		{"not hex", "zz", 100_000, 0},
		{"wrong length", "02abcd", 100_000, 0},
		{"not on curve", "02" + strings.Repeat("ff", 32), 100_000, 0},
		{"zero amount", pubkey2G, 0, 0},
		{"negative push", pubkey2G, 100_000, -1},
		{"push above amount", pubkey2G, 100_000, 100_001},
	}
	for _, tt := range tests {
		_, err := a.OpenChannel(t.Context(), tt.pubkey, tt.amount, tt.push)
		require.ErrorIs(t, err, aggregator.ErrInvalidRequest, tt.name)
	}
	assert.Empty(t, srv.OpenChannelCalls())
}

func TestLN_Aggregator_OpenChannel_NodeRejects(t *testing.T) {
	t.Parallel()

	srv := lndtesting.NewServer(t, fixture(epoch))
	a := newReal(t, srv, clockwork.NewFakeClockAt(epoch))
	require.NoError(t, a.Connect(t.Context(), nil))
	before := countPath(srv.Requests(), "/v1/channels")

	srv.Fail("/v1/channels", http.StatusInternalServerError)
	_, err := a.OpenChannel(t.Context(), pubkey2G, 100_000, 0)
	require.ErrorIs(t, err, aggregator.ErrAction)
	assert.Contains(t, a.LastError(), "failed to open channel")
	assert.Equal(t, before+1, countPath(srv.Requests(), "/v1/channels"), "no refresh after a rejected open")
}

func TestLN_Aggregator_Demo(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	a := newDemo(t, clock)

	// Demo mode refreshes without an explicit connect.
	require.NoError(t, a.Refresh(t.Context()))
	assert.False(t, a.IsConnected())
	assert.Len(t, a.Data().Channels, 3)

	require.NoError(t, a.Connect(t.Context(), nil))
	st := a.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, aggregator.ModeDemo, st.Mode)
	assert.Equal(t, demo.SelfAlias, st.NodeInfo.Alias)

	recs := a.Data().RecommendedNodes
	require.Len(t, recs, aggregator.DefaultRecommendationLimit)
	assert.Equal(t, "ACINQ", recs[0].Alias)
	for _, r := range recs {
		assert.NotEqual(t, "abandoned-node", r.Alias)
		assert.NotNil(t, r.Score)
	}

	res, err := a.OpenChannel(t.Context(), demo.DerivePubKey("Voltage"), 250_000, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.FundingTxidStr)
	assert.Equal(t, 1, a.Data().PendingChannels.Len())
}

func TestLN_Aggregator_StartRefreshesPeriodically(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(epoch)
	a := newDemo(t, clock, func(c *aggregator.Config) { c.RefreshInterval = time.Minute })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	a.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, a.WaitReady(waitCtx))
	assert.True(t, a.IsConnected())

	lntesting.WaitForWaiters(t, clock, 1)
	lntesting.AdvanceAndWait(t, clock, time.Minute, func() bool {
		last := a.Status().LastRefresh
		return last != nil && last.Equal(epoch.Add(time.Minute))
	})
}
