package activity

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
)

// Source names the part of the explainer an entry came from.
type Source string

const (
	SourceSimulation Source = "simulation"
	SourceNode       Source = "node"
	SourceSetup      Source = "setup"
	SourceRoutes     Source = "routes"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	DefaultBufferSize = 1000
	subscriberBuffer  = 100
)

const allSources Source = "all"

// Entry is one thing that happened, in any part of the explainer.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Source  Source    `json:"source"`
	Subject string    `json:"subject,omitempty"`
	Kind    string    `json:"kind"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	BufferSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return nil
}

// Feed keeps the last BufferSize entries per source and fans new ones out to
// subscribers. Slow subscribers miss entries rather than block publishers.
type Feed struct {
	log *slog.Logger
	cfg Config

	mu  sync.RWMutex
	seq uint64
	// history holds entries per source in sequence order. It may grow to twice
	// BufferSize before it is compacted; only the tail is visible.
	history     map[Source][]Entry
	subscribers []chan Entry
}

// New creates a feed with empty history.
func New(cfg Config) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Feed{
		log:     cfg.Logger,
		cfg:     cfg,
		history: make(map[Source][]Entry),
	}, nil
}

// window returns the visible tail of a source's history.
func (f *Feed) window(entries []Entry) []Entry {
	if n := len(entries); n > f.cfg.BufferSize {
		return entries[n-f.cfg.BufferSize:]
	}
	return entries
}

// Publish stamps e with a sequence number and time and records it.
func (f *Feed) Publish(e Entry) Entry {
	if e.Level == "" {
		e.Level = LevelInfo
	}

	f.mu.Lock()
	f.seq++
	e.Seq = f.seq
	if e.Time.IsZero() {
		e.Time = f.cfg.Clock.Now()
	}
	entries := append(f.history[e.Source], e)
	if len(entries) >= 2*f.cfg.BufferSize {
		entries = append([]Entry(nil), f.window(entries)...)
	}
	f.history[e.Source] = entries
	subscribers := make([]chan Entry, len(f.subscribers))
	copy(subscribers, f.subscribers)
	f.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			f.log.Debug("activity: slow subscriber, entry dropped", "seq", e.Seq)
		}
	}
	return e
}

// Subscribe registers a channel that receives every entry published from now
// on. Callers must Unsubscribe when done.
func (f *Feed) Subscribe() chan Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Entry, subscriberBuffer)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Unsubscribe stops delivery to ch. The channel is not closed.
func (f *Feed) Unsubscribe(ch chan Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, sub := range f.subscribers {
		if sub == ch {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Recent returns up to limit entries after seq since, oldest first. An empty
// source or "all" merges every source.
func (f *Feed) Recent(source Source, since uint64, limit int) []Entry {
	merge := source == "" || source == allSources

	f.mu.RLock()
	out := []Entry{}
	for src, entries := range f.history {
		if !merge && src != source {
			continue
		}
		entries = f.window(entries)
		i := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > since })
		out = append(out, entries[i:]...)
	}
	f.mu.RUnlock()

	if merge {
		sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SimulationObserver returns a channel observer that records transitions of
// the simulation with the given id.
func (f *Feed) SimulationObserver(id string) func(simulation.Event) {
	return func(ev simulation.Event) {
		f.Publish(Entry{
			Time:    ev.At,
			Source:  SourceSimulation,
			Subject: id,
			Kind:    string(ev.Trigger),
			Message: fmt.Sprintf("%s -> %s (local %s BTC, remote %s BTC)",
				ev.From, ev.To, simulation.FormatBTC(ev.Ledger.Local), simulation.FormatBTC(ev.Ledger.Remote)),
		})
	}
}
