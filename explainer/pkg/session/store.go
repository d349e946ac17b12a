package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 1000
	stopTimeout        = 5 * time.Second
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrCapacity    = errors.New("too many active sessions")
	ErrInvalidID   = errors.New("invalid session id")
	ErrStoreClosed = errors.New("session store closed")
)

type Config[T any] struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Name labels log lines, e.g. "simulation".
	Name        string
	TTL         time.Duration
	MaxSessions int
	// Release is called when a session is removed, expired or the store stops.
	Release func(T)
}

func (cfg *Config[T]) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Name == "" {
		return errors.New("name is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return nil
}

type entry[T any] struct {
	value     T
	createdAt time.Time
	lastSeen  time.Time
}

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Store holds values keyed by a random session id and expires the ones that
// have not been touched for TTL.
type Store[T any] struct {
	log *slog.Logger
	cfg Config[T]

	mu      sync.RWMutex
	entries map[string]*entry[T]
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates an empty store. Start runs the expiry sweep.
func NewStore[T any](cfg Config[T]) (*Store[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store[T]{
		log:     cfg.Logger,
		cfg:     cfg,
		entries: make(map[string]*entry[T]),
	}, nil
}

// Create stores the value built by newValue under a fresh id.
func (s *Store[T]) Create(newValue func(id string) (T, error)) (string, T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", zero, ErrStoreClosed
	}
	if len(s.entries) >= s.cfg.MaxSessions {
		return "", zero, fmt.Errorf("%w: limit is %d", ErrCapacity, s.cfg.MaxSessions)
	}

	id := uuid.NewString()
	v, err := newValue(id)
	if err != nil {
		return "", zero, err
	}
	now := s.cfg.Clock.Now()
	s.entries[id] = &entry[T]{value: v, createdAt: now, lastSeen: now}
	s.log.Debug(s.cfg.Name+": session created", "id", id, "sessions", len(s.entries))
	return id, v, nil
}

// Get returns the value for id and refreshes its expiry.
func (s *Store[T]) Get(id string) (T, error) {
	var zero T
	if _, err := uuid.Parse(id); err != nil {
		return zero, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return zero, ErrNotFound
	}
	e.lastSeen = s.cfg.Clock.Now()
	return e.value, nil
}

// Delete removes a session and releases its value.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.release(e.value)
	s.log.Debug(s.cfg.Name+": session deleted", "id", id)
	return nil
}

// Len returns the number of live sessions.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns live sessions, oldest first.
func (s *Store[T]) List() []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Info{ID: id, CreatedAt: e.createdAt, LastSeen: e.lastSeen})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep removes sessions idle for longer than TTL and returns how many it removed.
func (s *Store[T]) Sweep() int {
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.TTL)

	s.mu.Lock()
	var expired []T
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.value)
			delete(s.entries, id)
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	for _, v := range expired {
		s.release(v)
	}
	if len(expired) > 0 {
		s.log.Info(s.cfg.Name+": expired idle sessions", "expired", len(expired), "remaining", remaining)
	}
	return len(expired)
}

// Start runs Sweep periodically until ctx is done or Stop is called.
func (s *Store[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	interval := s.cfg.TTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := s.cfg.Clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.Sweep()
			}
		}
	}()
}

// Stop ends the sweep loop and releases every session.
func (s *Store[T]) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	entries := s.entries
	s.entries = make(map[string]*entry[T])
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn(s.cfg.Name + ": session sweeper stop timed out")
	}

	for _, e := range entries {
		s.release(e.value)
	}
	s.log.Info(s.cfg.Name+": session store stopped", "released", len(entries))
}

func (s *Store[T]) release(v T) {
	if s.cfg.Release != nil {
		s.cfg.Release(v)
	}
}
