package runtime

import (
	"log/slog"

	"github.com/seantiz/gantry/internal/device"
	"github.com/seantiz/gantry/internal/graph"
)

// HostManager composes the registry, dispatcher, and device pool behind the
// three public operations: add, remove, and run. The device set is fixed at
// construction and immutable for the manager's lifetime.
type HostManager struct {
	pool       *device.Pool
	registry   *Registry
	dispatcher *Dispatcher
	broker     *Broker
	logger     *slog.Logger
}

// NewHostManager creates a host manager over the given device pool.
func NewHostManager(pool *device.Pool, logger *slog.Logger) *HostManager {
	broker := NewBroker()
	registry := NewRegistry(pool, logger)
	return &HostManager{
		pool:       pool,
		registry:   registry,
		dispatcher: NewDispatcher(registry, pool, broker, logger),
		broker:     broker,
		logger:     logger,
	}
}

// AddNetwork compiles and registers every function in the module, blocking
// the caller for the duration of compilation. A name collision fails with
// ErrAlreadyExists before any compilation happens; compiler failures
// propagate as a CompilationError. Registration is never retried internally.
func (hm *HostManager) AddNetwork(m *graph.Module) error {
	if err := hm.registry.Register(m); err != nil {
		return err
	}
	for _, fn := range m.Functions() {
		hm.logger.Info("network registered", "network", fn.Name)
	}
	return nil
}

// RemoveNetwork makes the named network unavailable for new runs and
// releases its device resources once in-flight runs drain. Always succeeds
// from the caller's perspective; removing an unknown name is a no-op.
func (hm *HostManager) RemoveNetwork(name string) {
	hm.registry.Unregister(name)
	hm.logger.Info("network removed", "network", name)
}

// RunNetwork dispatches an asynchronous run of the named network and returns
// its identifier immediately. The callback is invoked exactly once with the
// identifier, the aggregated outcome, and the context handed back to the
// caller.
func (hm *HostManager) RunNetwork(name string, ectx *graph.Context, cb Callback) RunID {
	return hm.dispatcher.Run(name, ectx, cb)
}

// Networks returns a snapshot of all registry entries.
func (hm *HostManager) Networks() []NetworkStatus {
	return hm.registry.List()
}

// HasNetwork reports whether the name is registered and accepting runs.
func (hm *HostManager) HasNetwork(name string) bool {
	return hm.registry.Has(name)
}

// Broker returns the run event broker for subscription.
func (hm *HostManager) Broker() *Broker {
	return hm.broker
}

// Pool returns the manager's device pool.
func (hm *HostManager) Pool() *device.Pool {
	return hm.pool
}

// Close blocks until every in-flight run has delivered its callback, then
// unregisters all networks, releasing their device resources, and shuts the
// event broker down.
func (hm *HostManager) Close() {
	hm.dispatcher.Wait()
	for _, name := range hm.registry.Names() {
		hm.registry.Unregister(name)
	}
	hm.broker.Close()
	hm.logger.Info("host manager closed")
}
