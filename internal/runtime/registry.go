package runtime

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/seantiz/gantry/internal/compiler"
	"github.com/seantiz/gantry/internal/device"
	"github.com/seantiz/gantry/internal/graph"
)

// entry is the registry's record of one registered network. It is owned
// exclusively by the registry and never escapes the runtime package.
type entry struct {
	name    string
	network *compiler.CompiledNetwork

	// inflight counts dispatched runs that have not completed. Decremented
	// outside the registry lock on the completion path.
	inflight atomic.Int64

	// removing marks the entry invisible to new BeginRun calls while
	// in-flight runs drain. Guarded by the registry mutex.
	removing bool
}

// NetworkStatus is a point-in-time snapshot of one registry entry.
type NetworkStatus struct {
	Name      string   `json:"name"`
	Fragments int      `json:"fragments"`
	Devices   []string `json:"devices"`
	Inflight  int64    `json:"inflight"`
	Removing  bool     `json:"removing,omitempty"`
}

// Registry maintains the name to compiled-network mapping. A single mutex
// guards the map; it is held only for short bookkeeping sections, never
// across device execution.
type Registry struct {
	mu       sync.Mutex
	networks map[string]*entry
	pool     *device.Pool
	logger   *slog.Logger
}

// NewRegistry creates an empty registry over the given device pool.
func NewRegistry(pool *device.Pool, logger *slog.Logger) *Registry {
	return &Registry{
		networks: make(map[string]*entry),
		pool:     pool,
		logger:   logger,
	}
}

// Register compiles every function in the module and inserts one entry per
// function name. The existence check, compilation, fragment loading, and
// insert happen under the registry lock, so the check and insert are atomic:
// concurrent registrations of a colliding name see either no entry or a
// fully registered one. A name collision fails before compilation, consuming
// no device resources.
func (r *Registry) Register(m *graph.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fn := range m.Functions() {
		if _, ok := r.networks[fn.Name]; ok {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, fn.Name)
		}
	}

	compiled, err := compiler.Compile(m, r.pool.Names())
	if err != nil {
		return &CompilationError{Err: err}
	}

	var loaded []*compiler.Fragment
	for _, cn := range compiled {
		for _, frag := range cn.Fragments {
			dev, ok := r.pool.Get(frag.Device)
			if !ok {
				r.unloadAll(loaded)
				return fmt.Errorf("fragment %q assigned to unknown device %q", frag.Name, frag.Device)
			}
			if err := dev.Load(frag); err != nil {
				r.unloadAll(loaded)
				return fmt.Errorf("load fragment %q: %w", frag.Name, err)
			}
			loaded = append(loaded, frag)
		}
	}

	for name, cn := range compiled {
		r.networks[name] = &entry{name: name, network: cn}
	}
	networksRegistered.Add(float64(len(compiled)))
	return nil
}

// Unregister makes the named network invisible to new runs and releases its
// device resources once no run references it. Removal with runs in flight is
// deferred to the last EndRun; the caller is never blocked waiting for
// drain. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.networks[name]
	if !ok {
		return
	}
	e.removing = true
	if e.inflight.Load() == 0 {
		r.removeLocked(e)
	}
}

// BeginRun looks up the network and increments its in-flight count. Entries
// marked for removal are invisible even while their object survives the
// drain, so new work never extends the life of a removed network. Returns
// nil if the name is absent or removing.
func (r *Registry) BeginRun(name string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.networks[name]
	if !ok || e.removing {
		return nil
	}
	e.inflight.Add(1)
	return e
}

// EndRun decrements the entry's in-flight count. The last run to drain a
// removal-pending entry completes the removal.
func (r *Registry) EndRun(e *entry) {
	if e.inflight.Add(-1) > 0 {
		return
	}
	r.mu.Lock()
	if e.removing && e.inflight.Load() == 0 {
		r.removeLocked(e)
	}
	r.mu.Unlock()
}

// removeLocked deletes the entry and unloads its fragments. The map identity
// check makes the release idempotent when the immediate-removal and
// drain-triggered paths race. Caller holds r.mu.
func (r *Registry) removeLocked(e *entry) {
	cur, ok := r.networks[e.name]
	if !ok || cur != e {
		return
	}
	delete(r.networks, e.name)
	networksRegistered.Dec()

	for _, frag := range e.network.Fragments {
		dev, ok := r.pool.Get(frag.Device)
		if !ok {
			continue
		}
		if err := dev.Unload(frag.Name); err != nil {
			r.logger.Warn("unload fragment", "fragment", frag.Name, "device", frag.Device, "error", err)
		}
	}
}

// Has reports whether the name is registered and visible to new runs.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.networks[name]
	return ok && !e.removing
}

// Names returns the names of all entries, drain-pending ones included.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	return names
}

// List returns a snapshot of all entries, drain-pending ones included.
func (r *Registry) List() []NetworkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]NetworkStatus, 0, len(r.networks))
	for _, e := range r.networks {
		devices := make([]string, 0, len(e.network.Fragments))
		for _, frag := range e.network.Fragments {
			devices = append(devices, frag.Device)
		}
		statuses = append(statuses, NetworkStatus{
			Name:      e.name,
			Fragments: len(e.network.Fragments),
			Devices:   devices,
			Inflight:  e.inflight.Load(),
			Removing:  e.removing,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

func (r *Registry) unloadAll(frags []*compiler.Fragment) {
	for _, frag := range frags {
		if dev, ok := r.pool.Get(frag.Device); ok {
			if err := dev.Unload(frag.Name); err != nil {
				r.logger.Warn("unload fragment during rollback", "fragment", frag.Name, "error", err)
			}
		}
	}
}
