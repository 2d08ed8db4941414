package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry (C3) holds one driver per known backend name and tracks which
// one is active. Availability is probed on a schedule and cached; only the
// first Available() call, when no probe has run yet, blocks on a network
// round trip to learn whether the active backend is reachable.
type Registry struct {
	active   string
	drivers  map[string]Driver
	interval time.Duration
	enabled  bool

	mu        sync.RWMutex
	probed    bool
	available bool
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRegistry builds a registry over the given named drivers and selects
// active as the backend name in use. active may be "none", in which case
// the registry is permanently unavailable. probeInterval <= 0 disables the
// periodic re-probe; callers must invoke Refresh manually in that case.
// enabled mirrors the global ragChatEnabled feature flag (spec §4.3):
// when false, Available() reports false regardless of driver state.
func NewRegistry(active string, drivers map[string]Driver, probeInterval time.Duration, enabled bool) *Registry {
	return &Registry{
		active:   active,
		drivers:  drivers,
		interval: probeInterval,
		enabled:  enabled,
		stop:     make(chan struct{}),
	}
}

// Active returns the currently selected driver, or nil if none is
// configured (active == "none" or the name is unknown).
func (r *Registry) Active() Driver {
	if r.active == "" || r.active == "none" {
		return nil
	}
	return r.drivers[r.active]
}

// ActiveName returns the configured backend name, which may be "none".
func (r *Registry) ActiveName() string { return r.active }

// Available reports the cached availability of the active backend: false
// when the ragChatEnabled feature flag is off or the configured backend name
// is "none". Otherwise it reports the last probe's result, synchronously
// probing first if no probe has run yet (spec §3/§9: availability starts
// unknown, not unavailable, so the first query pays for one round trip
// rather than reporting a false "unavailable" at startup).
func (r *Registry) Available() bool {
	if !r.enabled {
		return false
	}
	r.mu.RLock()
	probed, available := r.probed, r.available
	r.mu.RUnlock()
	if !probed {
		return r.Refresh(context.Background())
	}
	return available
}

// Refresh re-probes the active backend's availability synchronously and
// updates the cached bit, logging on any state transition.
func (r *Registry) Refresh(ctx context.Context) bool {
	d := r.Active()
	if d == nil {
		r.setAvailable(false)
		return false
	}
	ok := d.CheckAvailability(ctx)
	r.setAvailable(ok)
	return ok
}

func (r *Registry) setAvailable(ok bool) {
	r.mu.Lock()
	prev := r.available
	r.available = ok
	r.probed = true
	r.mu.Unlock()
	if prev != ok {
		log.Info().Str("backend", r.active).Bool("available", ok).Msg("llm_backend_availability_changed")
	}
}

// StartProbing launches the periodic availability sweep in a goroutine. It
// is a no-op when probeInterval <= 0. Call Stop to end the sweep.
func (r *Registry) StartProbing(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Refresh(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the periodic probing goroutine started by StartProbing. Safe
// to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Chat dispatches to the active driver, returning UnavailableError when
// none is configured or the cached availability bit is false.
func (r *Registry) Chat(ctx context.Context, req LlmChatRequest) (LlmChatResponse, error) {
	d := r.Active()
	if d == nil {
		return LlmChatResponse{}, &UnavailableError{Backend: r.active}
	}
	if !r.Available() {
		return LlmChatResponse{}, &UnavailableError{Backend: r.active}
	}
	return d.Chat(ctx, req)
}

// StreamChat dispatches to the active driver's streaming call under the
// same availability guard as Chat.
func (r *Registry) StreamChat(ctx context.Context, req LlmChatRequest, sink StreamSink) error {
	d := r.Active()
	if d == nil {
		err := &UnavailableError{Backend: r.active}
		sink.OnError(err)
		return err
	}
	if !r.Available() {
		err := &UnavailableError{Backend: r.active}
		sink.OnError(err)
		return err
	}
	return d.StreamChat(ctx, req, sink)
}
