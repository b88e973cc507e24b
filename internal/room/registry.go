package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointroom/pointroom/internal/storage"
)

// Registry owns the actors for every live room. Actors are created lazily on
// first access and evicted from memory after sitting idle. An
// evicted room loses nothing: its state lives in storage and its sessions
// live on the sockets, so the next message simply resumes it.
type Registry struct {
	store     storage.Store
	clock     clockwork.Clock
	sink      Sink
	opts      Options
	evictTTL  time.Duration
	sweepTick time.Duration

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry creates an empty registry. evictTTL is how long an actor must
// be idle before it is hibernated.
func NewRegistry(store storage.Store, clock clockwork.Clock, sink Sink, opts Options, evictTTL time.Duration) *Registry {
	return &Registry{
		store:     store,
		clock:     clock,
		sink:      sink,
		opts:      opts,
		evictTTL:  evictTTL,
		sweepTick: evictTTL,
		actors:    make(map[string]*Actor),
	}
}

// Get returns the actor for roomID, resuming or creating it as needed.
func (r *Registry) Get(roomID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[roomID]; ok {
		return a
	}
	a := NewActor(roomID, r.store, r.clock, r.sink, r.opts)
	r.actors[roomID] = a
	log.Debug().Str("room_id", roomID).Msg("room actor resumed")
	return a
}

// Run sweeps idle actors until ctx is cancelled, then stops every actor.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.sweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stopAll()
			return
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.actors {
		if a.Idle(r.evictTTL) {
			a.Stop()
			delete(r.actors, id)
			log.Debug().Str("room_id", id).Msg("room actor hibernated")
		}
	}
}

func (r *Registry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.actors {
		a.Stop()
		delete(r.actors, id)
	}
}

// Len reports the number of resident actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
