package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/api/config"
	"github.com/malbeclabs/lnguide/api/handlers"
	"github.com/malbeclabs/lnguide/api/metrics"
	"github.com/malbeclabs/lnguide/api/server"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
	"github.com/malbeclabs/lnguide/explainer/pkg/routes"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
	"github.com/malbeclabs/lnguide/lightning/pkg/demo"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
	"github.com/malbeclabs/lnguide/utils/pkg/logger"
	"github.com/malbeclabs/lnguide/utils/pkg/retry"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Verbose)
	clock := clockwork.NewRealClock()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	node, err := newAggregator(log, clock, cfg)
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}
	// Without credentials the aggregator waits for a connect request.
	autoConnect := cfg.Demo || cfg.HasNodeCredentials()
	if autoConnect {
		node.Start(ctx)
	} else {
		log.Warn("no lnd credentials configured, waiting for a connect request")
	}

	feed, err := activity.New(activity.Config{Logger: log, Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create activity feed: %w", err)
	}
	explainer, err := routes.New(routes.Config{Logger: log, Clock: clock})
	if err != nil {
		return fmt.Errorf("failed to create route explainer: %w", err)
	}

	api, err := handlers.New(handlers.Config{
		Logger:      log,
		Clock:       clock,
		Aggregator:  node,
		Activity:    feed,
		Routes:      explainer,
		SessionTTL:  cfg.SessionTTL,
		NodeLimiter: handlers.PerMinute(clock, cfg.NodeRateLimit),
		Public: handlers.PublicConfig{
			SentryDSN:         cfg.SentryDSN,
			SentryEnvironment: cfg.SentryEnvironment,
			Version:           version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create api: %w", err)
	}
	api.Start(ctx)

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      cfg.ListenAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		AllowedOrigins:  cfg.AllowedOrigins,
		Sentry:          cfg.SentryDSN != "",
		Ready: func() bool {
			return !autoConnect || node.Ready()
		},
		API: api,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("starting lnguide api",
		"version", version,
		"mode", node.Mode(),
		"listen_addr", cfg.ListenAddr,
		"auto_refresh", cfg.AutoRefresh,
	)
	return srv.Run(ctx)
}

func newAggregator(log *slog.Logger, clock clockwork.Clock, cfg *config.Config) (*aggregator.Aggregator, error) {
	aggCfg := aggregator.Config{
		Logger:          log,
		Clock:           clock,
		RefreshInterval: cfg.AutoRefresh,
	}

	if cfg.Demo {
		backend, err := demo.New(demo.Config{Logger: log, Clock: clock})
		if err != nil {
			return nil, err
		}
		aggCfg.Mode = aggregator.ModeDemo
		aggCfg.DemoClient = backend
		return aggregator.New(aggCfg)
	}

	aggCfg.Mode = aggregator.ModeReal
	aggCfg.NewClient = func(conn aggregator.ConnectionConfig) (lnd.Client, error) {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.LNDRetryAttempts
		retryCfg.Clock = clock
		c, err := lnd.NewRESTClient(lnd.Config{
			Logger:             log,
			BaseURL:            conn.BaseURL,
			Macaroon:           conn.MacaroonHex,
			RequestTimeout:     cfg.LNDTimeout,
			InsecureSkipVerify: cfg.LNDInsecure,
			Retry:              retryCfg,
			Clock:              clock,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if cfg.HasNodeCredentials() {
		aggCfg.Connection = &aggregator.ConnectionConfig{BaseURL: cfg.LNDURL, MacaroonHex: cfg.LNDMacaroon}
	}
	return aggregator.New(aggCfg)
}
