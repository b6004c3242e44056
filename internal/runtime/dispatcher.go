package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/gantry/internal/compiler"
	"github.com/seantiz/gantry/internal/device"
	"github.com/seantiz/gantry/internal/graph"
)

// RunID uniquely identifies one run request for the lifetime of the host
// manager. IDs are never reused; they carry no other semantics.
type RunID uint64

// Callback delivers the result of one run. It is invoked exactly once per
// Run call, on a dispatcher goroutine rather than the caller's, and hands
// ownership of the context back to the caller.
type Callback func(runID RunID, runErr error, ectx *graph.Context)

// join tracks the outstanding fragment completions of one run and the first
// error any of them reported.
type join struct {
	pending atomic.Int32

	mu       sync.Mutex
	firstErr error
}

// Dispatcher turns run requests into asynchronous device executions. One
// goroutine per fragment invokes the device; the last to finish ends the run
// and fires the callback.
type Dispatcher struct {
	registry *Registry
	pool     *device.Pool
	broker   *Broker
	logger   *slog.Logger

	nextRun atomic.Uint64

	// wg tracks runs from dispatch to callback delivery so Close can block
	// until every accepted run has completed.
	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the registry and pool.
func NewDispatcher(registry *Registry, pool *device.Pool, broker *Broker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pool:     pool,
		broker:   broker,
		logger:   logger,
	}
}

// Run dispatches a run of the named network and returns its identifier
// immediately, never blocking on device execution. Failure, including an
// unknown name, is delivered only through the callback.
func (d *Dispatcher) Run(name string, ectx *graph.Context, cb Callback) RunID {
	id := RunID(d.nextRun.Add(1))

	e := d.registry.BeginRun(name)
	if e == nil {
		// Deliver the miss on the same asynchronous path as normal
		// completions.
		runsTotal.WithLabelValues("not_found").Inc()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.broker.Publish(RunEvent{
				RunID:   uint64(id),
				Network: name,
				Phase:   PhaseFailed,
				Error:   ErrNetworkNotFound.Error(),
			})
			cb(id, fmt.Errorf("%w: %q", ErrNetworkNotFound, name), ectx)
		}()
		return id
	}

	frags := e.network.Fragments
	j := &join{}
	j.pending.Store(int32(len(frags)))

	runsInflight.Inc()
	start := time.Now()
	d.broker.Publish(RunEvent{
		RunID:   uint64(id),
		Network: name,
		Phase:   PhaseDispatched,
	})

	d.wg.Add(1)
	for _, frag := range frags {
		go d.executeFragment(e, frag, ectx, j, id, start, cb)
	}
	return id
}

// Wait blocks until every accepted run has delivered its callback.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// executeFragment runs one fragment on its assigned device and joins the
// run's completion. First error wins; sibling failures are logged and
// discarded, and sibling fragments always run to completion.
func (d *Dispatcher) executeFragment(e *entry, frag *compiler.Fragment, ectx *graph.Context, j *join, id RunID, start time.Time, cb Callback) {
	var err error
	dev, ok := d.pool.Get(frag.Device)
	if !ok {
		err = fmt.Errorf("device %q not in pool", frag.Device)
	} else {
		err = dev.Execute(context.Background(), frag.Name, ectx)
	}

	if err != nil {
		devErr := &DeviceError{Device: frag.Device, Fragment: frag.Name, Err: err}
		j.mu.Lock()
		if j.firstErr == nil {
			j.firstErr = devErr
		} else {
			d.logger.Warn("additional fragment failure",
				"run_id", uint64(id),
				"network", e.name,
				"fragment", frag.Name,
				"error", err,
			)
		}
		j.mu.Unlock()
	}

	if j.pending.Add(-1) != 0 {
		return
	}

	// Last fragment of the run: registry bookkeeping precedes callback
	// delivery.
	d.registry.EndRun(e)

	j.mu.Lock()
	runErr := j.firstErr
	j.mu.Unlock()

	duration := time.Since(start)
	runsInflight.Dec()
	runDuration.Observe(duration.Seconds())

	ev := RunEvent{
		RunID:      uint64(id),
		Network:    e.name,
		Phase:      PhaseCompleted,
		DurationMS: duration.Milliseconds(),
	}
	if runErr != nil {
		runsTotal.WithLabelValues("failed").Inc()
		ev.Phase = PhaseFailed
		ev.Error = runErr.Error()
	} else {
		runsTotal.WithLabelValues("completed").Inc()
	}
	d.broker.Publish(ev)

	cb(id, runErr, ectx)
	d.wg.Done()
}
