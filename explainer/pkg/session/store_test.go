package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	lntesting "github.com/malbeclabs/lnguide/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id       string
	released atomic.Bool
}

func newStore(t *testing.T, clock clockwork.Clock, mutate ...func(*Config[*item])) *Store[*item] {
	t.Helper()
	cfg := Config[*item]{
		Logger:  lntesting.NewLogger(),
		Clock:   clock,
		Name:    "test",
		TTL:     10 * time.Minute,
		Release: func(it *item) { it.released.Store(true) },
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)
	return s
}

func create(t *testing.T, s *Store[*item]) (string, *item) {
	t.Helper()
	id, it, err := s.Create(func(id string) (*item, error) { return &item{id: id}, nil })
	require.NoError(t, err)
	return id, it
}

func TestLN_Session_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config[int]{Logger: lntesting.NewLogger()}
	require.EqualError(t, cfg.Validate(), "name is required")

	cfg.Name = "x"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultTTL, cfg.TTL)
	assert.Equal(t, DefaultMaxSessions, cfg.MaxSessions)
}

func TestLN_Session_CreateGetDelete(t *testing.T) {
	t.Parallel()

	s := newStore(t, clockwork.NewFakeClock())
	id, it := create(t, s)
	assert.Equal(t, id, it.id)
	assert.Equal(t, 1, s.Len())

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Same(t, it, got)

	_, err = s.Get("not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Get("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(id))
	assert.True(t, it.released.Load())
	require.ErrorIs(t, s.Delete(id), ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestLN_Session_CreateErrorStoresNothing(t *testing.T) {
	t.Parallel()

	s := newStore(t, clockwork.NewFakeClock())
	boom := errors.New("boom")
	_, _, err := s.Create(func(string) (*item, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, s.Len())
}

func TestLN_Session_Capacity(t *testing.T) {
	t.Parallel()

	s := newStore(t, clockwork.NewFakeClock(), func(c *Config[*item]) { c.MaxSessions = 2 })
	create(t, s)
	create(t, s)
	_, _, err := s.Create(func(id string) (*item, error) { return &item{id: id}, nil })
	require.ErrorIs(t, err, ErrCapacity)
}

func TestLN_Session_SweepExpiresIdle(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := newStore(t, clock)

	idleID, idle := create(t, s)
	clock.Advance(6 * time.Minute)
	activeID, active := create(t, s)
	clock.Advance(5 * time.Minute)

	_, err := s.Get(activeID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sweep())

	_, err = s.Get(idleID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, idle.released.Load())
	assert.False(t, active.released.Load())

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, activeID, list[0].ID)
}

func TestLN_Session_BackgroundSweep(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := newStore(t, clock)
	_, it := create(t, s)

	s.Start(t.Context())
	lntesting.WaitForWaiters(t, clock, 1)
	clock.Advance(11 * time.Minute)

	require.Eventually(t, func() bool { return s.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, it.released.Load())
	s.Stop()
}

func TestLN_Session_StopReleasesAll(t *testing.T) {
	t.Parallel()

	s := newStore(t, clockwork.NewFakeClock())
	_, a := create(t, s)
	_, b := create(t, s)

	s.Stop()
	s.Stop()

	assert.True(t, a.released.Load())
	assert.True(t, b.released.Load())
	_, _, err := s.Create(func(id string) (*item, error) { return &item{id: id}, nil })
	require.ErrorIs(t, err, ErrStoreClosed)
}
