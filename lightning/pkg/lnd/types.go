package lnd

// Field names follow the LND REST gateway (snake_case, 64-bit integers as
// strings). Fields the explainer computes with are typed; the rest are carried
// through so clients see the full record.

type Chain struct {
	Chain   string `json:"chain"`
	Network string `json:"network"`
}

// WalletInfo is the response of GET /v1/getinfo. IdentityPubkey is required.
type WalletInfo struct {
	IdentityPubkey      string   `json:"identity_pubkey"`
	Alias               string   `json:"alias"`
	Color               string   `json:"color,omitempty"`
	Version             string   `json:"version,omitempty"`
	NumActiveChannels   int64    `json:"num_active_channels"`
	NumInactiveChannels int64    `json:"num_inactive_channels"`
	NumPendingChannels  int64    `json:"num_pending_channels"`
	NumPeers            int64    `json:"num_peers"`
	BlockHeight         int64    `json:"block_height"`
	BlockHash           string   `json:"block_hash,omitempty"`
	SyncedToChain       bool     `json:"synced_to_chain"`
	SyncedToGraph       bool     `json:"synced_to_graph"`
	Chains              []Chain  `json:"chains,omitempty"`
	URIs                []string `json:"uris,omitempty"`
}

// Channel is one entry of GET /v1/channels. Capacity, LocalBalance and
// RemoteBalance are the only fields used in computations.
type Channel struct {
	ChannelPoint          string `json:"channel_point"`
	ChanID                string `json:"chan_id"`
	RemotePubkey          string `json:"remote_pubkey"`
	Active                bool   `json:"active"`
	Capacity              Sats   `json:"capacity"`
	LocalBalance          Sats   `json:"local_balance"`
	RemoteBalance         Sats   `json:"remote_balance"`
	CommitFee             Sats   `json:"commit_fee"`
	CommitWeight          Int    `json:"commit_weight"`
	FeePerKw              Int    `json:"fee_per_kw"`
	UnsettledBalance      Sats   `json:"unsettled_balance"`
	TotalSatoshisSent     Sats   `json:"total_satoshis_sent"`
	TotalSatoshisReceived Sats   `json:"total_satoshis_received"`
	NumUpdates            Int    `json:"num_updates"`
	CsvDelay              int64  `json:"csv_delay"`
	Private               bool   `json:"private"`
	Initiator             bool   `json:"initiator"`
	ChanStatusFlags       string `json:"chan_status_flags,omitempty"`
	LocalChanReserveSat   Sats   `json:"local_chan_reserve_sat"`
	RemoteChanReserveSat  Sats   `json:"remote_chan_reserve_sat"`
	Lifetime              Int    `json:"lifetime"`
	Uptime                Int    `json:"uptime"`
	CloseAddress          string `json:"close_address,omitempty"`
	PushAmountSat         Sats   `json:"push_amount_sat"`
	ThawHeight            int64  `json:"thaw_height"`
}

type listChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type PendingChannel struct {
	RemoteNodePub        string `json:"remote_node_pub"`
	ChannelPoint         string `json:"channel_point"`
	Capacity             Sats   `json:"capacity"`
	LocalBalance         Sats   `json:"local_balance"`
	RemoteBalance        Sats   `json:"remote_balance"`
	LocalChanReserveSat  Sats   `json:"local_chan_reserve_sat"`
	RemoteChanReserveSat Sats   `json:"remote_chan_reserve_sat"`
	Initiator            string `json:"initiator,omitempty"`
}

type PendingOpenChannel struct {
	Channel      PendingChannel `json:"channel"`
	CommitFee    Sats           `json:"commit_fee"`
	CommitWeight Int            `json:"commit_weight"`
	FeePerKw     Int            `json:"fee_per_kw"`
}

type WaitingCloseChannel struct {
	Channel      PendingChannel `json:"channel"`
	LimboBalance Sats           `json:"limbo_balance"`
	ClosingTxid  string         `json:"closing_txid,omitempty"`
}

type ForceClosedChannel struct {
	Channel           PendingChannel `json:"channel"`
	ClosingTxid       string         `json:"closing_txid,omitempty"`
	LimboBalance      Sats           `json:"limbo_balance"`
	MaturityHeight    int64          `json:"maturity_height"`
	BlocksTilMaturity int64          `json:"blocks_til_maturity"`
	RecoveredBalance  Sats           `json:"recovered_balance"`
}

// PendingChannels is the response of GET /v1/channels/pending.
type PendingChannels struct {
	TotalLimboBalance           Sats                  `json:"total_limbo_balance"`
	PendingOpenChannels         []PendingOpenChannel  `json:"pending_open_channels"`
	PendingForceClosingChannels []ForceClosedChannel  `json:"pending_force_closing_channels"`
	WaitingCloseChannels        []WaitingCloseChannel `json:"waiting_close_channels"`
}

// Len is the total number of pending channels across all categories.
func (p *PendingChannels) Len() int {
	if p == nil {
		return 0
	}
	return len(p.PendingOpenChannels) + len(p.PendingForceClosingChannels) + len(p.WaitingCloseChannels)
}

// WalletBalance is the response of GET /v1/balance/blockchain.
type WalletBalance struct {
	TotalBalance       Sats `json:"total_balance"`
	ConfirmedBalance   Sats `json:"confirmed_balance"`
	UnconfirmedBalance Sats `json:"unconfirmed_balance"`
	LockedBalance      Sats `json:"locked_balance"`
}

// Amount is a balance in sats and millisats.
type Amount struct {
	Sat  Sats `json:"sat"`
	Msat Sats `json:"msat"`
}

// ChannelBalance is the response of GET /v1/balance/channels.
type ChannelBalance struct {
	Balance                  Sats   `json:"balance"`
	PendingOpenBalance       Sats   `json:"pending_open_balance"`
	LocalBalance             Amount `json:"local_balance"`
	RemoteBalance            Amount `json:"remote_balance"`
	UnsettledLocalBalance    Amount `json:"unsettled_local_balance"`
	UnsettledRemoteBalance   Amount `json:"unsettled_remote_balance"`
	PendingOpenLocalBalance  Amount `json:"pending_open_local_balance"`
	PendingOpenRemoteBalance Amount `json:"pending_open_remote_balance"`
}

// GraphNode is a node summary carried in NetworkInfo.Nodes. PubKey is required.
// LastUpdate is unix seconds.
type GraphNode struct {
	PubKey      string `json:"pub_key"`
	Alias       string `json:"alias"`
	Color       string `json:"color,omitempty"`
	NumChannels int64  `json:"num_channels"`
	Capacity    Sats   `json:"capacity"`
	LastUpdate  int64  `json:"last_update"`
}

// NetworkInfo is the response of GET /v1/graph/info.
type NetworkInfo struct {
	GraphDiameter        int64       `json:"graph_diameter"`
	AvgOutDegree         float64     `json:"avg_out_degree"`
	MaxOutDegree         int64       `json:"max_out_degree"`
	NumNodes             int64       `json:"num_nodes"`
	NumChannels          int64       `json:"num_channels"`
	TotalNetworkCapacity Sats        `json:"total_network_capacity"`
	AvgChannelSize       float64     `json:"avg_channel_size"`
	MinChannelSize       Sats        `json:"min_channel_size"`
	MaxChannelSize       Sats        `json:"max_channel_size"`
	MedianChannelSizeSat Sats        `json:"median_channel_size_sat"`
	NumZombieChans       Int         `json:"num_zombie_chans"`
	Nodes                []GraphNode `json:"nodes,omitempty"`
}

type NodeAddress struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
}

// LightningNode is a graph node as returned by /v1/graph/node.
type LightningNode struct {
	PubKey     string        `json:"pub_key"`
	Alias      string        `json:"alias"`
	Color      string        `json:"color,omitempty"`
	LastUpdate int64         `json:"last_update"`
	Addresses  []NodeAddress `json:"addresses,omitempty"`
}

// NodeDetail is the response of GET /v1/graph/node/{pubkey}.
type NodeDetail struct {
	Node          LightningNode `json:"node"`
	NumChannels   int64         `json:"num_channels"`
	TotalCapacity Sats          `json:"total_capacity"`
	Channels      []any         `json:"channels,omitempty"`
}

// RecommendedNode is a ranked peer suggestion. Score is nil when the detail
// lookup failed and the entry is the unmodified graph summary.
type RecommendedNode struct {
	PubKey      string        `json:"pub_key"`
	Alias       string        `json:"alias"`
	Color       string        `json:"color,omitempty"`
	LastUpdate  int64         `json:"last_update"`
	Addresses   []NodeAddress `json:"addresses,omitempty"`
	NumChannels int64         `json:"num_channels"`
	Capacity    Sats          `json:"capacity"`
	Score       *float64      `json:"score,omitempty"`
}

type openChannelRequest struct {
	NodePubkeyString   string `json:"node_pubkey_string"`
	LocalFundingAmount string `json:"local_funding_amount"`
	PushSat            string `json:"push_sat"`
}

// OpenChannelResult is the channel point returned by POST /v1/channels.
type OpenChannelResult struct {
	FundingTxidBytes string `json:"funding_txid_bytes,omitempty"`
	FundingTxidStr   string `json:"funding_txid_str,omitempty"`
	OutputIndex      int64  `json:"output_index"`
}
