package aggregator

import (
	"context"
	"math/bits"
	"sort"

	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	"github.com/malbeclabs/lnguide/lightning/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const scoreDivisor = 1e12

// recommend ranks recently active graph nodes by channels times capacity and
// looks up details for the top limit. A failed lookup keeps the graph summary
// in that slot without a score.
func (a *Aggregator) recommend(ctx context.Context, client lnd.Client, limit int) ([]lnd.RecommendedNode, error) {
	info, err := client.NetworkInfo(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := a.cfg.Clock.Now().Add(-a.cfg.RecencyWindow).Unix()
	candidates := make([]lnd.GraphNode, 0, len(info.Nodes))
	for _, n := range info.Nodes {
		if n.LastUpdate > cutoff {
			candidates = append(candidates, n)
		}
	}
	rank(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]lnd.RecommendedNode, len(candidates))
	var g errgroup.Group
	g.SetLimit(a.cfg.DetailConcurrency)
	for i, n := range candidates {
		g.Go(func() error {
			out[i] = a.describe(ctx, client, n)
			return nil
		})
	}
	_ = g.Wait()

	a.log.Debug("aggregator: recommendations computed", "graph_nodes", len(info.Nodes), "recommended", len(out))
	return out, nil
}

func (a *Aggregator) describe(ctx context.Context, client lnd.Client, n lnd.GraphNode) lnd.RecommendedNode {
	summary := lnd.RecommendedNode{
		PubKey:      n.PubKey,
		Alias:       n.Alias,
		Color:       n.Color,
		LastUpdate:  n.LastUpdate,
		NumChannels: n.NumChannels,
		Capacity:    n.Capacity,
	}

	detail, err := client.NodeInfo(ctx, n.PubKey, false)
	if err != nil {
		metrics.RecommendationFallbacksTotal.Inc()
		a.log.Debug("aggregator: node detail lookup failed, using graph summary", "pubkey", n.PubKey, "error", err)
		return summary
	}

	rec := summary
	if detail.Node.PubKey != "" {
		rec.PubKey = detail.Node.PubKey
	}
	rec.Alias = detail.Node.Alias
	rec.Color = detail.Node.Color
	rec.LastUpdate = detail.Node.LastUpdate
	rec.Addresses = detail.Node.Addresses
	score := float64(n.NumChannels) * float64(n.Capacity) / scoreDivisor
	rec.Score = &score
	return rec
}

// rank sorts nodes by num_channels*capacity, descending. Equal weights keep
// their graph order.
func rank(nodes []lnd.GraphNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		hi, lo := weight(nodes[i])
		hj, lj := weight(nodes[j])
		if hi != hj {
			return hi > hj
		}
		return lo > lj
	})
}

// weight is the 128-bit product of channel count and capacity.
func weight(n lnd.GraphNode) (hi, lo uint64) {
	channels, capacity := n.NumChannels, n.Capacity.Int64()
	if channels < 0 {
		channels = 0
	}
	if capacity < 0 {
		capacity = 0
	}
	return bits.Mul64(uint64(channels), uint64(capacity))
}
