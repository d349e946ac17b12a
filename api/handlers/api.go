package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/api/metrics"
	"github.com/malbeclabs/lnguide/explainer/pkg/activity"
	"github.com/malbeclabs/lnguide/explainer/pkg/routes"
	"github.com/malbeclabs/lnguide/explainer/pkg/session"
	"github.com/malbeclabs/lnguide/explainer/pkg/setup"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
	"github.com/malbeclabs/lnguide/lightning/pkg/aggregator"
)

const (
	sessionKindSimulation = "simulation"
	sessionKindSetup      = "setup"
	maxRecommendedLimit   = 50
)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Aggregator *aggregator.Aggregator
	Activity   *activity.Feed
	Routes     *routes.Explainer

	SessionTTL  time.Duration
	MaxSessions int
	// NodeLimiter guards the endpoints that act on the node. Nil disables it.
	NodeLimiter *RateLimiter

	// Simulation and Setup are templates for new sessions. Logger and Clock
	// are filled in from this config.
	Simulation simulation.Config
	Setup      setup.Config

	Public PublicConfig
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Aggregator == nil {
		return errors.New("aggregator is required")
	}
	if cfg.Activity == nil {
		return errors.New("activity feed is required")
	}
	if cfg.Routes == nil {
		return errors.New("route explainer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.Public.SentryEnvironment == "" {
		cfg.Public.SentryEnvironment = "development"
	}
	cfg.Public.Mode = cfg.Aggregator.Mode()
	cfg.Public.Demo = cfg.Aggregator.Mode() == aggregator.ModeDemo
	return nil
}

// API serves the explainer and node endpoints under /api.
type API struct {
	log *slog.Logger
	cfg Config

	node        *aggregator.Aggregator
	feed        *activity.Feed
	routes      *routes.Explainer
	simulations *session.Store[*simulation.Channel]
	wizards     *session.Store[*setup.Wizard]
}

// New creates the API and its session stores. Call Start to run their
// sweepers.
func New(cfg Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &API{
		log:    cfg.Logger,
		cfg:    cfg,
		node:   cfg.Aggregator,
		feed:   cfg.Activity,
		routes: cfg.Routes,
	}

	sims, err := session.NewStore(session.Config[*simulation.Channel]{
		Logger:      cfg.Logger,
		Clock:       cfg.Clock,
		Name:        sessionKindSimulation,
		TTL:         cfg.SessionTTL,
		MaxSessions: cfg.MaxSessions,
		Release: func(c *simulation.Channel) {
			c.Stop()
			metrics.SetSessions(sessionKindSimulation, a.simulations.Len())
		},
	})
	if err != nil {
		return nil, err
	}
	a.simulations = sims

	wizards, err := session.NewStore(session.Config[*setup.Wizard]{
		Logger:      cfg.Logger,
		Clock:       cfg.Clock,
		Name:        sessionKindSetup,
		TTL:         cfg.SessionTTL,
		MaxSessions: cfg.MaxSessions,
		Release: func(w *setup.Wizard) {
			w.Stop()
			metrics.SetSessions(sessionKindSetup, a.wizards.Len())
		},
	})
	if err != nil {
		return nil, err
	}
	a.wizards = wizards

	return a, nil
}

// Start runs the session sweepers and the rate limiter cleanup.
func (a *API) Start(ctx context.Context) {
	a.simulations.Start(ctx)
	a.wizards.Start(ctx)
	if a.cfg.NodeLimiter != nil {
		a.cfg.NodeLimiter.Start(ctx)
	}
}

// Stop releases every session.
func (a *API) Stop() {
	a.simulations.Stop()
	a.wizards.Stop()
	a.routes.Stop()
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/config", a.handleGetConfig)

	r.Route("/simulations", func(r chi.Router) {
		r.Get("/", a.handleListSimulations)
		r.Post("/", a.handleCreateSimulation)
		r.Get("/{id}", a.handleGetSimulation)
		r.Delete("/{id}", a.handleDeleteSimulation)
		r.Post("/{id}/create", a.handleSimulationAction(simulation.TriggerCreate))
		r.Post("/{id}/pay", a.handleSimulationAction(simulation.TriggerPay))
		r.Post("/{id}/close", a.handleSimulationAction(simulation.TriggerClose))
	})

	r.Route("/node", func(r chi.Router) {
		r.Get("/", a.handleGetNode)
		r.Get("/liquidity", a.handleGetLiquidity)
		r.Get("/channels", a.handleListChannels)
		r.Get("/recommended", a.handleRecommended)
		r.Group(func(r chi.Router) {
			if a.cfg.NodeLimiter != nil {
				r.Use(RateLimitMiddleware(a.cfg.NodeLimiter))
			}
			r.Post("/connect", a.handleConnect)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/channels", a.handleOpenChannel)
		})
	})

	r.Route("/setup", func(r chi.Router) {
		r.Post("/", a.handleCreateSetup)
		r.Get("/funding-options", a.handleFundingOptions)
		r.Get("/peers", a.handleSuggestedPeers)
		r.Get("/{id}", a.handleGetSetup)
		r.Delete("/{id}", a.handleDeleteSetup)
		r.Post("/{id}/next", a.handleSetupNext)
		r.Post("/{id}/back", a.handleSetupBack)
		r.Post("/{id}/wallet", a.handleSetupWallet)
		r.Post("/{id}/funding", a.handleSetupFunding)
		r.Post("/{id}/restart", a.handleSetupRestart)
	})

	r.Route("/routes", func(r chi.Router) {
		r.Get("/", a.handleGetTopology)
		r.Get("/state", a.handleGetAnimation)
		r.Post("/{index}/animate", a.handleAnimate)
	})

	r.Get("/activity", a.handleGetActivity)
	r.Get("/activity/stream", a.handleActivityStream)
}
