package demo

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
)

const (
	SelfAlias          = "lnguide-demo"
	demoBlockHeight    = 840_000
	demoWalletBalance  = 2_500_000
	demoUnconfirmed    = 50_000
	minFundingAmount   = 20_000
	maxFundingAmount   = 16_777_215
	demoGraphDiameter  = 9
	demoNetworkNodes   = 15_800
	demoNetworkChanCnt = 51_200
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Latency is added to every call to imitate a remote node.
	Latency time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Latency < 0 {
		return errors.New("latency must not be negative")
	}
	return nil
}

type peer struct {
	alias       string
	color       string
	numChannels int64
	capacity    int64

	// age is subtracted from the current time to produce last_update.
	age time.Duration
}

// peers is the fixed demo graph. The last entry has not announced in days and
// is never recommended.
var peers = []peer{
	{"ACINQ", "#49daaa", 2_900, 38_000_000_000, 10 * time.Minute},
	{"Bitrefill", "#ff6600", 1_150, 21_500_000_000, 35 * time.Minute},
	{"River Financial", "#1c2b4a", 610, 45_000_000_000, 2 * time.Hour},
	{"Kraken", "#5741d9", 740, 30_100_000_000, 4 * time.Hour},
	{"WalletOfSatoshi", "#3399ff", 1_020, 17_800_000_000, 20 * time.Minute},
	{"OpenNode", "#0a0a0a", 430, 9_200_000_000, 6 * time.Hour},
	{"Voltage", "#ff5000", 380, 7_500_000_000, 12 * time.Hour},
	{"coffee-shop", "#6f4e37", 12, 40_000_000, 90 * time.Minute},
	{"abandoned-node", "#999999", 3_500, 60_000_000_000, 72 * time.Hour},
}

// Backend is an in-memory lnd.Client with representative data. It is safe for
// concurrent use.
type Backend struct {
	log   *slog.Logger
	clock clockwork.Clock
	cfg   Config

	mu       sync.Mutex
	self     string
	pubkeys  []string
	channels []lnd.Channel
	pending  []lnd.PendingOpenChannel
	nextChan uint64
}

var _ lnd.Client = (*Backend)(nil)

// New creates a demo node with three active channels and a small graph.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		log:      cfg.Logger,
		clock:    cfg.Clock,
		cfg:      cfg,
		self:     DerivePubKey(SelfAlias),
		nextChan: 923_681_123_456_000,
	}
	for _, p := range peers {
		b.pubkeys = append(b.pubkeys, DerivePubKey(p.alias))
	}
	b.channels = []lnd.Channel{
		b.newChannel(0, true, 2_000_000, 1_250_000, 740_000),
		b.newChannel(1, true, 1_000_000, 400_000, 590_000),
		b.newChannel(7, true, 500_000, 480_000, 10_000),
		b.newChannel(5, false, 750_000, 300_000, 440_000),
	}
	return b, nil
}

// DerivePubKey returns a deterministic valid node key for seed.
func DerivePubKey(seed string) string {
	_, pub := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return hex.EncodeToString(pub.SerializeCompressed())
}

func fundingOutpoint(seed string, index uint32) (*chainhash.Hash, string) {
	txid := chainhash.DoubleHashH([]byte(seed))
	return &txid, wire.NewOutPoint(&txid, index).String()
}

func (b *Backend) newChannel(peerIdx int, active bool, capacity, local, remote int64) lnd.Channel {
	b.nextChan++
	_, point := fundingOutpoint(fmt.Sprintf("demo-channel-%d", b.nextChan), uint32(peerIdx%2))
	return lnd.Channel{
		ChannelPoint:          point,
		ChanID:                strconv.FormatUint(b.nextChan, 10),
		RemotePubkey:          b.pubkeys[peerIdx],
		Active:                active,
		Capacity:              lnd.Sats(capacity),
		LocalBalance:          lnd.Sats(local),
		RemoteBalance:         lnd.Sats(remote),
		CommitFee:             lnd.Sats(capacity - local - remote),
		CommitWeight:          772,
		FeePerKw:              2_500,
		TotalSatoshisSent:     lnd.Sats(remote / 3),
		TotalSatoshisReceived: lnd.Sats(local / 5),
		NumUpdates:            lnd.Int(40 + peerIdx*17),
		CsvDelay:              144,
		Initiator:             true,
		ChanStatusFlags:       "ChanStatusDefault",
		LocalChanReserveSat:   lnd.Sats(capacity / 100),
		RemoteChanReserveSat:  lnd.Sats(capacity / 100),
		Lifetime:              86_400 * 30,
		Uptime:                86_400 * 29,
	}
}

func (b *Backend) wait(ctx context.Context) error {
	if b.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(b.cfg.Latency):
		}
	}
	return ctx.Err()
}

func (b *Backend) GetInfo(ctx context.Context) (*lnd.WalletInfo, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var active, inactive int64
	for _, ch := range b.channels {
		if ch.Active {
			active++
		} else {
			inactive++
		}
	}
	return &lnd.WalletInfo{
		IdentityPubkey:      b.self,
		Alias:               SelfAlias,
		Color:               "#f7931a",
		Version:             "0.18.0-beta demo",
		NumActiveChannels:   active,
		NumInactiveChannels: inactive,
		NumPendingChannels:  int64(len(b.pending)),
		NumPeers:            int64(len(b.channels)),
		BlockHeight:         demoBlockHeight,
		SyncedToChain:       true,
		SyncedToGraph:       true,
		Chains:              []lnd.Chain{{Chain: "bitcoin", Network: "regtest"}},
	}, nil
}

func (b *Backend) ListChannels(ctx context.Context, activeOnly bool) ([]lnd.Channel, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]lnd.Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		if activeOnly && !ch.Active {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

func (b *Backend) PendingChannels(ctx context.Context) (*lnd.PendingChannels, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return &lnd.PendingChannels{
		PendingOpenChannels:         append([]lnd.PendingOpenChannel{}, b.pending...),
		PendingForceClosingChannels: []lnd.ForceClosedChannel{},
		WaitingCloseChannels:        []lnd.WaitingCloseChannel{},
	}, nil
}

func (b *Backend) WalletBalance(ctx context.Context) (*lnd.WalletBalance, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	confirmed := int64(demoWalletBalance)
	for _, p := range b.pending {
		confirmed -= p.Channel.Capacity.Int64()
	}
	if confirmed < 0 {
		confirmed = 0
	}
	return &lnd.WalletBalance{
		TotalBalance:       lnd.Sats(confirmed + demoUnconfirmed),
		ConfirmedBalance:   lnd.Sats(confirmed),
		UnconfirmedBalance: demoUnconfirmed,
	}, nil
}

func (b *Backend) ChannelBalance(ctx context.Context) (*lnd.ChannelBalance, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var local, remote, pendingLocal, pendingRemote int64
	for _, ch := range b.channels {
		if !ch.Active {
			continue
		}
		local += ch.LocalBalance.Int64()
		remote += ch.RemoteBalance.Int64()
	}
	for _, p := range b.pending {
		pendingLocal += p.Channel.LocalBalance.Int64()
		pendingRemote += p.Channel.RemoteBalance.Int64()
	}
	return &lnd.ChannelBalance{
		Balance:                  lnd.Sats(local),
		PendingOpenBalance:       lnd.Sats(pendingLocal),
		LocalBalance:             lnd.Amount{Sat: lnd.Sats(local), Msat: lnd.Sats(local * 1000)},
		RemoteBalance:            lnd.Amount{Sat: lnd.Sats(remote), Msat: lnd.Sats(remote * 1000)},
		PendingOpenLocalBalance:  lnd.Amount{Sat: lnd.Sats(pendingLocal), Msat: lnd.Sats(pendingLocal * 1000)},
		PendingOpenRemoteBalance: lnd.Amount{Sat: lnd.Sats(pendingRemote), Msat: lnd.Sats(pendingRemote * 1000)},
	}, nil
}

func (b *Backend) graphNodes() []lnd.GraphNode {
	now := b.clock.Now()
	nodes := make([]lnd.GraphNode, len(peers))
	for i, p := range peers {
		nodes[i] = lnd.GraphNode{
			PubKey:      b.pubkeys[i],
			Alias:       p.alias,
			Color:       p.color,
			NumChannels: p.numChannels,
			Capacity:    lnd.Sats(p.capacity),
			LastUpdate:  now.Add(-p.age).Unix(),
		}
	}
	return nodes
}

func (b *Backend) NetworkInfo(ctx context.Context) (*lnd.NetworkInfo, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	nodes := b.graphNodes()

	sizes := make([]int64, 0, len(nodes))
	var total int64
	for _, n := range nodes {
		size := n.Capacity.Int64() / max(n.NumChannels, 1)
		sizes = append(sizes, size)
		total += n.Capacity.Int64()
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	return &lnd.NetworkInfo{
		GraphDiameter:        demoGraphDiameter,
		AvgOutDegree:         float64(demoNetworkChanCnt*2) / float64(demoNetworkNodes),
		MaxOutDegree:         peers[0].numChannels,
		NumNodes:             demoNetworkNodes,
		NumChannels:          demoNetworkChanCnt,
		TotalNetworkCapacity: lnd.Sats(total),
		AvgChannelSize:       float64(total) / float64(demoNetworkChanCnt),
		MinChannelSize:       lnd.Sats(sizes[0]),
		MaxChannelSize:       lnd.Sats(sizes[len(sizes)-1]),
		MedianChannelSizeSat: lnd.Sats(sizes[len(sizes)/2]),
		Nodes:                nodes,
	}, nil
}

func (b *Backend) NodeInfo(ctx context.Context, pubkey string, includeChannels bool) (*lnd.NodeDetail, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	for _, n := range b.graphNodes() {
		if n.PubKey != pubkey {
			continue
		}
		detail := &lnd.NodeDetail{
			Node: lnd.LightningNode{
				PubKey:     n.PubKey,
				Alias:      n.Alias,
				Color:      n.Color,
				LastUpdate: n.LastUpdate,
				Addresses:  []lnd.NodeAddress{{Network: "tcp", Addr: n.Alias + ".demo.invalid:9735"}},
			},
			NumChannels:   n.NumChannels,
			TotalCapacity: n.Capacity,
		}
		if includeChannels {
			detail.Channels = []any{}
		}
		return detail, nil
	}
	return nil, &lnd.APIError{Status: http.StatusNotFound, Message: "unable to find node"}
}

// OpenChannel records a pending channel to pubkey and returns a synthetic
// funding txid.
func (b *Backend) OpenChannel(ctx context.Context, pubkey string, localFundingAmount, pushSat int64) (*lnd.OpenChannelResult, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if _, err := lnd.ParsePubKey(pubkey); err != nil {
		return nil, &lnd.APIError{Status: http.StatusBadRequest, Message: err.Error()}
	}
	if localFundingAmount < minFundingAmount || localFundingAmount > maxFundingAmount {
		return nil, &lnd.APIError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("funding amount must be between %d and %d sat", minFundingAmount, maxFundingAmount),
		}
	}
	if pushSat < 0 || pushSat >= localFundingAmount {
		return nil, &lnd.APIError{Status: http.StatusBadRequest, Message: "amount pushed to remote peer must be below the funding amount"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pubkey == b.self {
		return nil, &lnd.APIError{Status: http.StatusBadRequest, Message: "cannot open channel to self"}
	}

	b.nextChan++
	txid, point := fundingOutpoint(fmt.Sprintf("demo-open-%d-%s", b.nextChan, pubkey), 0)
	b.pending = append(b.pending, lnd.PendingOpenChannel{
		Channel: lnd.PendingChannel{
			RemoteNodePub: pubkey,
			ChannelPoint:  point,
			Capacity:      lnd.Sats(localFundingAmount),
			LocalBalance:  lnd.Sats(localFundingAmount - pushSat),
			RemoteBalance: lnd.Sats(pushSat),
			Initiator:     "INITIATOR_LOCAL",
		},
		CommitWeight: 772,
		FeePerKw:     2_500,
	})
	b.log.Info("demo: channel open requested", "peer", pubkey, "amount", localFundingAmount, "push", pushSat, "channel_point", point)

	return &lnd.OpenChannelResult{
		FundingTxidBytes: base64.StdEncoding.EncodeToString(txid[:]),
		FundingTxidStr:   txid.String(),
		OutputIndex:      0,
	}, nil
}
