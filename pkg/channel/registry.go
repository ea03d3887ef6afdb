package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type slotKey struct {
	slot string
	name string
}

type registration struct {
	manifest Manifest
	adapter  Adapter
	loadedAt time.Time
}

// Registry tracks adapters by (slot, name) and drives their lifecycle in
// bulk. It performs no protocol logic itself; it is bookkeeping plus
// lifecycle fan-out with per-adapter failure isolation.
type Registry struct {
	mu      sync.RWMutex
	entries map[slotKey]*registration
	started map[slotKey]bool
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[slotKey]*registration),
		started: make(map[slotKey]bool),
	}
}

// Register validates the manifest and adds the adapter under its slot.
// Registering adapters happens explicitly at startup; there is no
// dynamic discovery.
func (r *Registry) Register(m Manifest, a Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter is required")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	key := slotKey{slot: m.Slot, name: m.Name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("adapter %s/%s already registered", m.Slot, m.Name)
	}
	r.entries[key] = &registration{manifest: m, adapter: a, loadedAt: time.Now()}
	return nil
}

// Get returns the adapter registered under (slot, name).
func (r *Registry) Get(slot, name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[slotKey{slot: slot, name: name}]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// List returns the adapters in a slot, sorted by name.
func (r *Registry) List(slot string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for key := range r.entries {
		if key.slot == slot {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)

	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		adapters = append(adapters, r.entries[slotKey{slot: slot, name: name}].adapter)
	}
	return adapters
}

// Manifests returns the manifests in a slot, sorted by name.
func (r *Registry) Manifests(slot string) []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var manifests []Manifest
	for key, reg := range r.entries {
		if key.slot == slot {
			manifests = append(manifests, reg.manifest)
		}
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests
}

// StartAll starts every registered adapter. A failure in one adapter is
// caught and logged and never prevents the remaining adapters from
// starting; the joined error is returned for observability only.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, key := range r.keys() {
		r.mu.Lock()
		reg, ok := r.entries[key]
		if !ok || r.started[key] {
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		if err := reg.adapter.Start(ctx); err != nil {
			log.Error().
				Str("slot", key.slot).
				Str("channel", key.name).
				Err(err).
				Msg("Failed to start adapter")
			errs = append(errs, fmt.Errorf("start %s/%s: %w", key.slot, key.name, err))
			continue
		}

		r.mu.Lock()
		r.started[key] = true
		r.mu.Unlock()

		log.Info().
			Str("slot", key.slot).
			Str("channel", key.name).
			Msg("Adapter started")
	}
	return errors.Join(errs...)
}

// StopAll stops every started adapter. Stop failures are logged and do
// not interrupt the remaining stops.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	keys := r.keys()
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]

		r.mu.Lock()
		reg, ok := r.entries[key]
		if !ok || !r.started[key] {
			r.mu.Unlock()
			continue
		}
		delete(r.started, key)
		r.mu.Unlock()

		if err := reg.adapter.Stop(ctx); err != nil {
			log.Error().
				Str("slot", key.slot).
				Str("channel", key.name).
				Err(err).
				Msg("Failed to stop adapter")
			errs = append(errs, fmt.Errorf("stop %s/%s: %w", key.slot, key.name, err))
		}
	}
	return errors.Join(errs...)
}

// keys returns all registration keys in deterministic order.
func (r *Registry) keys() []slotKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]slotKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].slot != keys[j].slot {
			return keys[i].slot < keys[j].slot
		}
		return keys[i].name < keys[j].name
	})
	return keys
}
