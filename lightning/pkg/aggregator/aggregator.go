package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	"github.com/malbeclabs/lnguide/lightning/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Mode selects between the built-in demo node and a real LND node.
type Mode string

const (
	ModeDemo Mode = "demo"
	ModeReal Mode = "real"
)

const (
	DefaultRecommendationLimit = 5
	DefaultRecencyWindow       = 24 * time.Hour
	defaultDetailConcurrency   = 5
)

var (
	ErrConnection     = errors.New("failed to connect to lightning node")
	ErrFetch          = errors.New("failed to refresh lightning data")
	ErrAction         = errors.New("failed to open channel")
	ErrNotConnected   = errors.New("not connected to lightning node")
	ErrInvalidRequest = errors.New("invalid request")
)

// ConnectionConfig holds the credentials for a real node.
type ConnectionConfig struct {
	BaseURL     string `json:"baseUrl"`
	MacaroonHex string `json:"macaroonHex"`
}

// ClientFactory builds a client for a real node connection.
type ClientFactory func(conn ConnectionConfig) (lnd.Client, error)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Mode   Mode

	// DemoClient serves every call in demo mode.
	DemoClient lnd.Client
	// NewClient is required in real mode.
	NewClient ClientFactory
	// Connection is used when Connect is called without credentials.
	Connection *ConnectionConfig

	// IncludeInactive lists inactive channels too. The default mirrors the
	// node's active_only=true listing.
	IncludeInactive     bool
	RecommendationLimit int
	RecencyWindow       time.Duration
	DetailConcurrency   int
	// RefreshInterval enables the background refresh loop started by Start.
	RefreshInterval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	switch cfg.Mode {
	case ModeDemo:
		if cfg.DemoClient == nil {
			return errors.New("demo client is required in demo mode")
		}
	case ModeReal:
		if cfg.NewClient == nil {
			return errors.New("client factory is required in real mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RecommendationLimit <= 0 {
		cfg.RecommendationLimit = DefaultRecommendationLimit
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = DefaultRecencyWindow
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}
	if cfg.RefreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return nil
}

// Data is the set of node snapshots replaced together by a successful refresh.
type Data struct {
	Channels         []lnd.Channel         `json:"channels"`
	PendingChannels  *lnd.PendingChannels  `json:"pendingChannels"`
	WalletBalance    *lnd.WalletBalance    `json:"walletBalance"`
	ChannelBalance   *lnd.ChannelBalance   `json:"channelBalance"`
	RecommendedNodes []lnd.RecommendedNode `json:"recommendedNodes"`
	NetworkInfo      *lnd.NetworkInfo      `json:"networkInfo"`
}

// Status is what the UI renders around the data.
type Status struct {
	Mode        Mode            `json:"mode"`
	Connected   bool            `json:"connected"`
	Loading     bool            `json:"loading"`
	Error       string          `json:"error,omitempty"`
	NodeInfo    *lnd.WalletInfo `json:"nodeInfo,omitempty"`
	LastRefresh *time.Time      `json:"lastRefresh,omitempty"`
	BaseURL     string          `json:"baseUrl,omitempty"`
}

// Aggregator mediates between the UI and one node. It holds the latest
// snapshots, the connection flag, a single error string and a loading flag.
type Aggregator struct {
	log *slog.Logger
	cfg Config

	refreshMu sync.Mutex
	inFlight  atomic.Int32

	mu          sync.RWMutex
	client      lnd.Client
	conn        *ConnectionConfig
	connected   bool
	nodeInfo    *lnd.WalletInfo
	data        Data
	lastError   string
	lastRefresh time.Time

	readyOnce sync.Once
	readyCh   chan struct{}
}

// New creates a disconnected aggregator. Connect or Start brings it online.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
		data: Data{
			Channels:         []lnd.Channel{},
			RecommendedNodes: []lnd.RecommendedNode{},
		},
	}
	if cfg.Connection != nil {
		conn := *cfg.Connection
		a.conn = &conn
	}
	return a, nil
}

func (a *Aggregator) Mode() Mode { return a.cfg.Mode }

func (a *Aggregator) demo() bool { return a.cfg.Mode == ModeDemo }

func (a *Aggregator) begin() func() {
	a.inFlight.Add(1)
	return func() { a.inFlight.Add(-1) }
}

func (a *Aggregator) recordError(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.mu.Unlock()
	a.log.Warn("aggregator: operation failed", "error", err)
}

// activeClient returns the client calls should use. Demo mode always has one.
func (a *Aggregator) activeClient() (lnd.Client, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.demo() {
		if a.client != nil {
			return a.client, true
		}
		return a.cfg.DemoClient, true
	}
	if !a.connected || a.client == nil {
		return nil, false
	}
	return a.client, true
}

// Connect establishes the node connection and loads all data. In real mode
// conn overrides the stored credentials; a nil conn reuses them. A refresh
// failure after a successful handshake leaves the aggregator connected and is
// returned.
func (a *Aggregator) Connect(ctx context.Context, conn *ConnectionConfig) error {
	defer a.begin()()

	a.mu.Lock()
	a.lastError = ""
	a.mu.Unlock()

	client, resolved, err := a.buildClient(conn)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		a.markDisconnected(err)
		return err
	}

	info, err := client.GetInfo(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		a.markDisconnected(err)
		return err
	}

	a.mu.Lock()
	a.client = client
	a.conn = resolved
	a.nodeInfo = info
	a.connected = true
	a.mu.Unlock()
	metrics.SetConnected(true)
	a.log.Info("aggregator: connected", "mode", a.cfg.Mode, "alias", info.Alias, "pubkey", info.IdentityPubkey)

	return a.refresh(ctx, client)
}

func (a *Aggregator) buildClient(conn *ConnectionConfig) (lnd.Client, *ConnectionConfig, error) {
	if a.demo() {
		return a.cfg.DemoClient, nil, nil
	}

	a.mu.RLock()
	var resolved ConnectionConfig
	if a.conn != nil {
		resolved = *a.conn
	}
	a.mu.RUnlock()
	if conn != nil {
		if conn.BaseURL != "" {
			resolved.BaseURL = strings.TrimSpace(conn.BaseURL)
		}
		if conn.MacaroonHex != "" {
			resolved.MacaroonHex = strings.TrimSpace(conn.MacaroonHex)
		}
	}
	if resolved.BaseURL == "" || resolved.MacaroonHex == "" {
		return nil, nil, errors.New("base url and macaroon are required")
	}

	client, err := a.cfg.NewClient(resolved)
	if err != nil {
		return nil, nil, err
	}
	return client, &resolved, nil
}

func (a *Aggregator) markDisconnected(err error) {
	a.mu.Lock()
	a.connected = false
	a.lastError = err.Error()
	a.mu.Unlock()
	metrics.SetConnected(false)
	a.log.Warn("aggregator: connect failed", "mode", a.cfg.Mode, "error", err)
}

// Refresh reloads all six snapshots concurrently. Any failure aborts the
// refresh: every snapshot keeps its previous value and the error is recorded.
// Without a connection outside demo mode it returns ErrNotConnected and
// changes nothing.
func (a *Aggregator) Refresh(ctx context.Context) error {
	client, ok := a.activeClient()
	if !ok {
		return ErrNotConnected
	}
	defer a.begin()()
	return a.refresh(ctx, client)
}

func (a *Aggregator) refresh(ctx context.Context, client lnd.Client) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	span := sentry.StartSpan(ctx, "node.refresh", sentry.WithDescription(fmt.Sprintf("refresh %s node", a.cfg.Mode)))
	defer span.Finish()
	ctx = span.Context()

	start := a.cfg.Clock.Now()
	a.log.Debug("aggregator: refresh started")

	var next Data
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		channels, err := client.ListChannels(gctx, !a.cfg.IncludeInactive)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		if channels == nil {
			channels = []lnd.Channel{}
		}
		next.Channels = channels
		return nil
	})
	g.Go(func() error {
		pending, err := client.PendingChannels(gctx)
		if err != nil {
			return fmt.Errorf("pending channels: %w", err)
		}
		next.PendingChannels = pending
		return nil
	})
	g.Go(func() error {
		bal, err := client.WalletBalance(gctx)
		if err != nil {
			return fmt.Errorf("wallet balance: %w", err)
		}
		next.WalletBalance = bal
		return nil
	})
	g.Go(func() error {
		bal, err := client.ChannelBalance(gctx)
		if err != nil {
			return fmt.Errorf("channel balance: %w", err)
		}
		next.ChannelBalance = bal
		return nil
	})
	g.Go(func() error {
		nodes, err := a.recommend(gctx, client, a.cfg.RecommendationLimit)
		if err != nil {
			return fmt.Errorf("recommended nodes: %w", err)
		}
		next.RecommendedNodes = nodes
		return nil
	})
	g.Go(func() error {
		info, err := client.NetworkInfo(gctx)
		if err != nil {
			return fmt.Errorf("network info: %w", err)
		}
		next.NetworkInfo = info
		return nil
	})

	err := g.Wait()
	duration := a.cfg.Clock.Since(start)
	metrics.RecordRefresh(string(a.cfg.Mode), duration, err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		err = fmt.Errorf("%w: %w", ErrFetch, err)
		a.recordError(err)
		return err
	}
	span.Status = sentry.SpanStatusOK

	a.mu.Lock()
	a.data = next
	a.lastRefresh = a.cfg.Clock.Now()
	a.mu.Unlock()
	a.readyOnce.Do(func() { close(a.readyCh) })

	a.log.Info("aggregator: refresh completed", "duration", duration.String(),
		"channels", len(next.Channels), "pending", next.PendingChannels.Len(), "recommended", len(next.RecommendedNodes))
	return nil
}

// OpenChannel asks the node to open a channel to pubkey, then refreshes
// regardless of outcome. A refresh failure is recorded but not returned.
func (a *Aggregator) OpenChannel(ctx context.Context, pubkey string, amount, push int64) (*lnd.OpenChannelResult, error) {
	client, ok := a.activeClient()
	if !ok {
		a.recordError(ErrNotConnected)
		return nil, ErrNotConnected
	}
	if err := validateOpen(pubkey, amount, push); err != nil {
		a.recordError(err)
		return nil, err
	}

	defer a.begin()()

	res, err := client.OpenChannel(ctx, strings.TrimSpace(pubkey), amount, push)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAction, err)
		a.recordError(err)
		return nil, err
	}
	a.log.Info("aggregator: channel open submitted", "peer", pubkey, "amount", amount, "push", push, "txid", res.FundingTxidStr)

	if err := a.refresh(ctx, client); err != nil {
		a.log.Warn("aggregator: refresh after open failed", "error", err)
	}
	return res, nil
}

func validateOpen(pubkey string, amount, push int64) error {
	if _, err := lnd.ParsePubKey(pubkey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: funding amount must be positive", ErrInvalidRequest)
	}
	if push < 0 || push > amount {
		return fmt.Errorf("%w: push amount must be between 0 and the funding amount", ErrInvalidRequest)
	}
	return nil
}

// RecommendedNodes computes a fresh ranking from the node's graph.
func (a *Aggregator) RecommendedNodes(ctx context.Context, limit int) ([]lnd.RecommendedNode, error) {
	client, ok := a.activeClient()
	if !ok {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = a.cfg.RecommendationLimit
	}
	defer a.begin()()
	nodes, err := a.recommend(ctx, client, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return nodes, nil
}

// Status returns the connection state, loading flag and last error.
func (a *Aggregator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{
		Mode:      a.cfg.Mode,
		Connected: a.connected,
		Loading:   a.inFlight.Load() > 0,
		Error:     a.lastError,
		NodeInfo:  a.nodeInfo,
	}
	if !a.lastRefresh.IsZero() {
		t := a.lastRefresh
		st.LastRefresh = &t
	}
	if a.conn != nil {
		st.BaseURL = a.conn.BaseURL
	}
	return st
}

// Data returns the latest snapshots. Slices are copies.
func (a *Aggregator) Data() Data {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d := a.data
	d.Channels = append([]lnd.Channel{}, a.data.Channels...)
	d.RecommendedNodes = append([]lnd.RecommendedNode{}, a.data.RecommendedNodes...)
	return d
}

// Channels returns the channel list from the last successful refresh.
func (a *Aggregator) Channels() []lnd.Channel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]lnd.Channel{}, a.data.Channels...)
}

// IsConnected reports whether Connect has succeeded.
func (a *Aggregator) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Loading reports whether any operation is in flight.
func (a *Aggregator) Loading() bool {
	return a.inFlight.Load() > 0
}

// LastError returns the message of the most recent failure, if any.
func (a *Aggregator) LastError() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastError
}

// Ready reports whether at least one refresh has succeeded.
func (a *Aggregator) Ready() bool {
	select {
	case <-a.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the first successful refresh or ctx is done.
func (a *Aggregator) WaitReady(ctx context.Context) error {
	select {
	case <-a.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for node data: %w", ctx.Err())
	}
}
