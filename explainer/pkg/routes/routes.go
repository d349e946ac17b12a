package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jonboulle/clockwork"
)

const DefaultAnimationDuration = 3 * time.Second

var (
	ErrBusy         = errors.New("an animation is already running")
	ErrUnknownRoute = errors.New("unknown route")
)

// Node is a point on the canvas. X and Y are percentages of its size.
type Node struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Role  string  `json:"role"`
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Route struct {
	Name string         `json:"name"`
	Path []string       `json:"path"`
	Hops int            `json:"hops"`
	Fee  btcutil.Amount `json:"fee"`
	Time string         `json:"time"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var nodes = []Node{
	{ID: "you", Label: "You", X: 15, Y: 15, Role: "sender"},
	{ID: "nodeA", Label: "Node A", X: 60, Y: 15, Role: "router"},
	{ID: "nodeB", Label: "Node B", X: 35, Y: 80, Role: "router"},
	{ID: "nodeC", Label: "Node C", X: 80, Y: 35, Role: "router"},
	{ID: "shop", Label: "Shop", X: 80, Y: 80, Role: "recipient"},
}

var edges = []Edge{
	{From: "you", To: "nodeA"},
	{From: "you", To: "nodeB"},
	{From: "you", To: "shop"},
	{From: "nodeA", To: "nodeC"},
	{From: "nodeB", To: "shop"},
	{From: "nodeC", To: "shop"},
}

var routes = []Route{
	{Name: "Direct Route", Path: []string{"you", "shop"}, Hops: 1, Fee: 1, Time: "<1 sec"},
	{Name: "Two-Hop Route", Path: []string{"you", "nodeB", "shop"}, Hops: 2, Fee: 2, Time: "<1 sec"},
	{Name: "Multi-Hop Route", Path: []string{"you", "nodeA", "nodeC", "shop"}, Hops: 3, Fee: 3, Time: "<1 sec"},
}

// Topology is the static network drawn by the explainer.
type Topology struct {
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	Routes []Route `json:"routes"`
}

func DefaultTopology() Topology {
	t := Topology{
		Nodes:  append([]Node(nil), nodes...),
		Edges:  append([]Edge(nil), edges...),
		Routes: make([]Route, len(routes)),
	}
	for i, r := range routes {
		r.Path = append([]string(nil), r.Path...)
		t.Routes[i] = r
	}
	return t
}

func (t Topology) node(id string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Path returns the canvas points a payment on route index travels through.
// Unknown node ids resolve to the origin.
func (t Topology) Path(index int) ([]Point, error) {
	if index < 0 || index >= len(t.Routes) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRoute, index)
	}
	ids := t.Routes[index].Path
	points := make([]Point, len(ids))
	for i, id := range ids {
		if n, ok := t.node(id); ok {
			points[i] = Point{X: n.X, Y: n.Y}
		}
	}
	return points, nil
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Duration time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultAnimationDuration
	}
	return nil
}

// Explainer plays one route animation at a time.
type Explainer struct {
	log      *slog.Logger
	cfg      Config
	topology Topology

	mu         sync.Mutex
	active     *int
	startedAt  time.Time
	timer      clockwork.Timer
	generation uint64
	played     int
}

// New creates an explainer over the default topology.
func New(cfg Config) (*Explainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Explainer{log: cfg.Logger, cfg: cfg, topology: DefaultTopology()}, nil
}

func (e *Explainer) Topology() Topology { return e.topology }

// Animation is the state of the running animation, if any.
type Animation struct {
	Animating bool      `json:"animating"`
	Route     *int      `json:"route,omitempty"`
	Path      []Point   `json:"path,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	EndsAt    time.Time `json:"endsAt,omitzero"`
	Played    int       `json:"played"`
}

// Animate starts the animation of route index. It is refused while another
// animation is running.
func (e *Explainer) Animate(index int) (Animation, error) {
	path, err := e.topology.Path(index)
	if err != nil {
		return Animation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.stateLocked(), fmt.Errorf("%w: route %d", ErrBusy, *e.active)
	}

	idx := index
	e.active = &idx
	e.startedAt = e.cfg.Clock.Now()
	e.played++
	e.generation++
	gen := e.generation
	e.timer = e.cfg.Clock.AfterFunc(e.cfg.Duration, func() { e.finish(gen) })
	e.log.Debug("routes: animation started", "route", e.topology.Routes[index].Name, "hops", len(path)-1)
	return e.stateLocked(), nil
}

func (e *Explainer) finish(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	e.active = nil
	e.timer = nil
}

// Stop ends a running animation immediately.
func (e *Explainer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = nil
	e.generation++
}

// State returns the running animation, if any.
func (e *Explainer) State() Animation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Explainer) stateLocked() Animation {
	a := Animation{Played: e.played}
	if e.active == nil {
		return a
	}
	idx := *e.active
	a.Animating = true
	a.Route = &idx
	a.Path, _ = e.topology.Path(idx)
	a.StartedAt = e.startedAt
	a.EndsAt = e.startedAt.Add(e.cfg.Duration)
	return a
}
