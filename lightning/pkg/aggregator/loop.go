package aggregator

import (
	"context"
	"errors"

	"github.com/malbeclabs/lnguide/lightning/pkg/metrics"
)

// Start connects once and then refreshes every RefreshInterval until ctx is
// done. With a zero interval only the initial connect runs.
func (a *Aggregator) Start(ctx context.Context) {
	go func() {
		a.log.Info("aggregator: starting refresh loop", "mode", a.cfg.Mode, "interval", a.cfg.RefreshInterval)

		a.safeRun(ctx, func(ctx context.Context) error { return a.Connect(ctx, nil) })
		if a.cfg.RefreshInterval == 0 {
			return
		}

		ticker := a.cfg.Clock.NewTicker(a.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				a.safeRun(ctx, a.Refresh)
			}
		}
	}()
}

func (a *Aggregator) safeRun(ctx context.Context, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("aggregator: refresh panicked", "panic", r)
			metrics.RefreshTotal.WithLabelValues(string(a.cfg.Mode), "panic").Inc()
		}
	}()

	if err := fn(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConnected) {
			return
		}
		a.log.Error("aggregator: background refresh failed", "error", err)
	}
}
