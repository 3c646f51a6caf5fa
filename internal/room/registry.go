package room

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/config"
	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
	"github.com/avekern/seminar/internal/metrics"
)

// Registry owns room lifecycles: create-on-first-join, destroy after
// the idle grace. Rooms report their own idleness from their tick; the
// registry only removes and stops them.
type Registry struct {
	cfg  config.Engine
	clk  clock.Clock
	sink core.EventSink

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry(cfg config.Engine, clk clock.Clock, sink core.EventSink) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if sink == nil {
		sink = core.NopSink{}
	}
	return &Registry{
		cfg:   cfg,
		clk:   clk,
		sink:  sink,
		rooms: make(map[domain.RoomID]*Room),
	}
}

func (g *Registry) GetOrCreate(id domain.RoomID) *Room {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok = g.rooms[id]; ok {
		return r
	}
	r = New(id, g.cfg, Deps{Clock: g.clk, Sink: g.sink, OnIdle: g.destroyIdle})
	g.rooms[id] = r
	metrics.RoomsOpen.Inc()
	log.Info().Str("module", "room.registry").Str("room", string(id)).Msg("room created")
	return r
}

func (g *Registry) Get(id domain.RoomID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// destroyIdle runs on the idle room's own actor goroutine, so it must
// never call back into that actor synchronously.
func (g *Registry) destroyIdle(id domain.RoomID) {
	g.mu.Lock()
	r, ok := g.rooms[id]
	if ok {
		delete(g.rooms, id)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	r.stop()
	metrics.RoomsOpen.Dec()
	g.sink.RoomDestroyed(id)
	log.Info().Str("module", "room.registry").Str("room", string(id)).Msg("room destroyed")
}

type Info struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

func (g *Registry) List() []Info {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, Info{ID: r.ID(), MemberCount: r.MemberCount()})
	}
	return out
}

// Stop halts every room actor. Used on shutdown.
func (g *Registry) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, r := range g.rooms {
		r.stop()
		delete(g.rooms, id)
		metrics.RoomsOpen.Dec()
	}
}
