package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/gantry/internal/compiler"
	"github.com/seantiz/gantry/internal/device"
	"github.com/seantiz/gantry/internal/graph"
	"github.com/seantiz/gantry/internal/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, numDevices int) *runtime.HostManager {
	t.Helper()
	devices := make([]device.Device, numDevices)
	for i := range devices {
		devices[i] = device.NewInterpreter(fmt.Sprintf("interpreter%d", i), 0)
	}
	pool, err := device.NewPool(devices...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	hm := runtime.NewHostManager(pool, testLogger())
	t.Cleanup(hm.Close)
	return hm
}

// tanhModule builds a module holding one function per name: a single tanh
// over a three-element placeholder, saved under "save".
func tanhModule(names ...string) *graph.Module {
	m := graph.NewModule()
	for _, name := range names {
		fn := m.AddFunction(name)
		fn.AddPlaceholder("X", 3)
		fn.AddTanh("tanh", "X")
		fn.AddSave("save", "tanh")
	}
	return m
}

// runAndWait dispatches a run and blocks for its callback.
func runAndWait(t *testing.T, hm *runtime.HostManager, name string, ectx *graph.Context) (runtime.RunID, error) {
	t.Helper()
	done := make(chan error, 1)
	id := hm.RunNetwork(name, ectx, func(runID runtime.RunID, runErr error, cbCtx *graph.Context) {
		if cbCtx != ectx {
			t.Error("callback returned a different context than was dispatched")
		}
		done <- runErr
	})
	select {
	case err := <-done:
		return id, err
	case <-time.After(5 * time.Second):
		t.Fatalf("run %d of %q: callback never delivered", id, name)
		return id, nil
	}
}

func TestNewHostManagerCloseClean(t *testing.T) {
	pool, err := device.NewPool(device.NewInterpreter("interpreter0", 0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	hm := runtime.NewHostManager(pool, testLogger())
	if hm.Pool() != pool {
		t.Error("manager does not expose its construction pool")
	}
	if got := len(hm.Networks()); got != 0 {
		t.Errorf("fresh manager has %d networks, want 0", got)
	}
	hm.Close()
}

func TestAddAndRunNetwork(t *testing.T) {
	hm := newTestManager(t, 1)

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}
	if !hm.HasNetwork("main") {
		t.Fatal("network not visible after AddNetwork")
	}

	inputs := []float32{1, 2, 3}
	for iter := 0; iter < 2; iter++ {
		ectx := graph.NewContext()
		ectx.Allocate("X", 3).SetData(inputs...)
		out := ectx.Allocate("save", 3)

		if _, err := runAndWait(t, hm, "main", ectx); err != nil {
			t.Fatalf("run %d: %v", iter, err)
		}
		for i, x := range inputs {
			want := math.Tanh(float64(x))
			if diff := math.Abs(float64(out.Data[i]) - want); diff > 1e-5 {
				t.Errorf("run %d: save[%d] = %v, want %v", iter, i, out.Data[i], want)
			}
		}
	}
}

func TestAddNetworkRegistersEveryFunction(t *testing.T) {
	hm := newTestManager(t, 2)

	names := []string{"function0", "function1", "function2", "function3", "function4", "function5"}
	if err := hm.AddNetwork(tanhModule(names...)); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}
	for _, name := range names {
		if !hm.HasNetwork(name) {
			t.Errorf("function %q not registered", name)
		}
	}
	if got := len(hm.Networks()); got != len(names) {
		t.Errorf("Networks() returned %d entries, want %d", got, len(names))
	}
}

func TestAddNetworkDuplicate(t *testing.T) {
	hm := newTestManager(t, 1)

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("first AddNetwork: %v", err)
	}
	err := hm.AddNetwork(tanhModule("main"))
	if !errors.Is(err, runtime.ErrAlreadyExists) {
		t.Fatalf("duplicate AddNetwork error = %v, want ErrAlreadyExists", err)
	}

	// The collision must not disturb the existing registration.
	if !hm.HasNetwork("main") {
		t.Error("original network lost after duplicate AddNetwork")
	}
}

func TestAddNetworkCompilationError(t *testing.T) {
	hm := newTestManager(t, 1)

	m := graph.NewModule()
	fn := m.AddFunction("broken")
	fn.AddPlaceholder("X", 3)
	fn.AddTanh("tanh", "missing")
	fn.AddSave("save", "tanh")

	err := hm.AddNetwork(m)
	var cerr *runtime.CompilationError
	if !errors.As(err, &cerr) {
		t.Fatalf("AddNetwork error = %v, want CompilationError", err)
	}
	if hm.HasNetwork("broken") {
		t.Error("failed registration left a visible network")
	}
}

func TestRunUnknownNetwork(t *testing.T) {
	hm := newTestManager(t, 1)

	ectx := graph.NewContext()
	id, err := runAndWait(t, hm, "no-such-network", ectx)
	if !errors.Is(err, runtime.ErrNetworkNotFound) {
		t.Fatalf("run error = %v, want ErrNetworkNotFound", err)
	}
	if id == 0 {
		t.Error("dispatch of unknown network did not allocate a run id")
	}
}

func TestRemoveNetworkIdempotent(t *testing.T) {
	hm := newTestManager(t, 1)

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}
	hm.RemoveNetwork("main")
	if hm.HasNetwork("main") {
		t.Fatal("network visible after RemoveNetwork")
	}
	hm.RemoveNetwork("main")
	hm.RemoveNetwork("never-existed")

	// The name is free for re-registration after removal.
	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("re-AddNetwork after removal: %v", err)
	}
}

func TestRunAfterRemove(t *testing.T) {
	hm := newTestManager(t, 1)

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}
	hm.RemoveNetwork("main")

	ectx := graph.NewContext()
	ectx.Allocate("X", 3).SetData(1, 2, 3)
	if _, err := runAndWait(t, hm, "main", ectx); !errors.Is(err, runtime.ErrNetworkNotFound) {
		t.Fatalf("run error = %v, want ErrNetworkNotFound", err)
	}
}

func TestRunIDsUnique(t *testing.T) {
	hm := newTestManager(t, 1)
	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}

	const runs = 50
	var wg sync.WaitGroup
	ids := make(chan runtime.RunID, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ectx := graph.NewContext()
			ectx.Allocate("X", 3).SetData(1, 2, 3)
			done := make(chan struct{})
			id := hm.RunNetwork("main", ectx, func(runtime.RunID, error, *graph.Context) {
				close(done)
			})
			<-done
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[runtime.RunID]bool, runs)
	for id := range ids {
		if seen[id] {
			t.Fatalf("run id %d allocated twice", id)
		}
		seen[id] = true
	}
	if len(seen) != runs {
		t.Fatalf("got %d distinct run ids, want %d", len(seen), runs)
	}
}

func TestConcurrentAddRemoveUnique(t *testing.T) {
	hm := newTestManager(t, 2)

	const (
		workers    = 6
		iterations = 20
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				name := fmt.Sprintf("function_%d_%d", w, i)
				if err := hm.AddNetwork(tanhModule(name)); err != nil {
					t.Errorf("AddNetwork(%q): %v", name, err)
					return
				}

				ectx := graph.NewContext()
				ectx.Allocate("X", 3).SetData(1, 2, 3)
				done := make(chan error, 1)
				hm.RunNetwork(name, ectx, func(_ runtime.RunID, runErr error, _ *graph.Context) {
					done <- runErr
				})
				if err := <-done; err != nil {
					t.Errorf("run %q: %v", name, err)
				}

				hm.RemoveNetwork(name)
			}
		}(w)
	}
	wg.Wait()

	if got := len(hm.Networks()); got != 0 {
		t.Errorf("%d networks left registered after drain", got)
	}
}

func TestConcurrentAddRemoveDuplicate(t *testing.T) {
	hm := newTestManager(t, 2)

	const (
		workers    = 6
		iterations = 20
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				// Only the name collision is an acceptable failure here.
				if err := hm.AddNetwork(tanhModule("shared")); err != nil && !errors.Is(err, runtime.ErrAlreadyExists) {
					t.Errorf("AddNetwork: %v", err)
					return
				}

				ectx := graph.NewContext()
				ectx.Allocate("X", 3).SetData(1, 2, 3)
				done := make(chan error, 1)
				hm.RunNetwork("shared", ectx, func(_ runtime.RunID, runErr error, _ *graph.Context) {
					done <- runErr
				})
				// A racing removal may legitimately make the run miss.
				if err := <-done; err != nil && !errors.Is(err, runtime.ErrNetworkNotFound) {
					t.Errorf("run: %v", err)
				}

				// The registry may never hold two entries under the shared
				// name, drain-pending ones included.
				count := 0
				for _, st := range hm.Networks() {
					if st.Name == "shared" {
						count++
					}
				}
				if count > 1 {
					t.Errorf("registry holds %d entries named shared", count)
					return
				}

				hm.RemoveNetwork("shared")
			}
		}()
	}
	wg.Wait()
}

func TestCloseWaitsForCallbacks(t *testing.T) {
	slow := newFakeDevice("slow0")
	slow.delay = 50 * time.Millisecond
	pool, err := device.NewPool(slow)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	hm := runtime.NewHostManager(pool, testLogger())

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}

	const runs = 4
	var delivered atomic.Int32
	for i := 0; i < runs; i++ {
		ectx := graph.NewContext()
		ectx.Allocate("X", 3).SetData(1, 2, 3)
		hm.RunNetwork("main", ectx, func(runtime.RunID, error, *graph.Context) {
			delivered.Add(1)
		})
	}

	hm.Close()
	if got := delivered.Load(); got != runs {
		t.Fatalf("Close returned with %d of %d callbacks delivered", got, runs)
	}
}

// fakeDevice is a controllable Device for exercising dispatch paths the
// interpreter cannot: slow executions, injected failures, unload counting.
type fakeDevice struct {
	name    string
	delay   time.Duration
	execErr error

	mu      sync.Mutex
	loaded  map[string]*compiler.Fragment
	unloads map[string]int
	execs   int
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{
		name:    name,
		loaded:  make(map[string]*compiler.Fragment),
		unloads: make(map[string]int),
	}
}

func (d *fakeDevice) Name() string { return d.name }
func (d *fakeDevice) Kind() string { return "fake" }

func (d *fakeDevice) Load(frag *compiler.Fragment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded[frag.Name] = frag
	return nil
}

func (d *fakeDevice) Unload(fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unloads[fragment]++
	delete(d.loaded, fragment)
	return nil
}

func (d *fakeDevice) Execute(ctx context.Context, fragment string, bindings *graph.Context) error {
	d.mu.Lock()
	d.execs++
	d.mu.Unlock()
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.execErr
}

func (d *fakeDevice) unloadCount(fragment string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unloads[fragment]
}

func (d *fakeDevice) execCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execs
}

func TestRemoveDuringInflightDefersUnload(t *testing.T) {
	slow := newFakeDevice("slow0")
	slow.delay = 100 * time.Millisecond
	pool, err := device.NewPool(slow)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	hm := runtime.NewHostManager(pool, testLogger())
	defer hm.Close()

	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}

	ectx := graph.NewContext()
	ectx.Allocate("X", 3).SetData(1, 2, 3)
	done := make(chan error, 1)
	hm.RunNetwork("main", ectx, func(_ runtime.RunID, runErr error, _ *graph.Context) {
		done <- runErr
	})

	// Removal while the run executes: invisible immediately, resources held
	// until the run drains.
	hm.RemoveNetwork("main")
	if hm.HasNetwork("main") {
		t.Fatal("network visible to new runs during drain")
	}
	if got := slow.unloadCount("main/0"); got != 0 {
		t.Fatalf("fragment unloaded %d times before drain", got)
	}
	hm.RunNetwork("main", graph.NewContext(), func(_ runtime.RunID, runErr error, _ *graph.Context) {
		if !errors.Is(runErr, runtime.ErrNetworkNotFound) {
			t.Errorf("run during drain: error = %v, want ErrNetworkNotFound", runErr)
		}
	})

	if err := <-done; err != nil {
		t.Fatalf("in-flight run failed: %v", err)
	}

	// The in-flight run completed despite the removal; repeated removals must
	// still release the fragment exactly once.
	hm.RemoveNetwork("main")
	if got := slow.unloadCount("main/0"); got != 1 {
		t.Fatalf("fragment unloaded %d times, want exactly 1", got)
	}
	if got := slow.execCount(); got != 1 {
		t.Fatalf("device executed %d times, want 1", got)
	}
}

func TestFirstErrorWins(t *testing.T) {
	good := newFakeDevice("dev0")
	bad := newFakeDevice("dev1")
	bad.execErr = errors.New("card on fire")
	pool, err := device.NewPool(good, bad)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	hm := runtime.NewHostManager(pool, testLogger())
	defer hm.Close()

	// Two disjoint output subgraphs split into two fragments, assigned
	// round-robin across both devices.
	m := graph.NewModule()
	fn := m.AddFunction("split")
	fn.AddPlaceholder("X", 3)
	fn.AddPlaceholder("Y", 3)
	fn.AddTanh("tx", "X")
	fn.AddTanh("ty", "Y")
	fn.AddSave("saveX", "tx")
	fn.AddSave("saveY", "ty")
	if err := hm.AddNetwork(m); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}

	ectx := graph.NewContext()
	ectx.Allocate("X", 3).SetData(1, 2, 3)
	ectx.Allocate("Y", 3).SetData(4, 5, 6)
	_, runErr := runAndWait(t, hm, "split", ectx)

	var derr *runtime.DeviceError
	if !errors.As(runErr, &derr) {
		t.Fatalf("run error = %v, want DeviceError", runErr)
	}
	if derr.Device != "dev1" {
		t.Errorf("failing device = %q, want dev1", derr.Device)
	}
	if good.execCount() != 1 || bad.execCount() != 1 {
		t.Errorf("executions = %d/%d, want both fragments executed", good.execCount(), bad.execCount())
	}
}

func TestRunEventsPublished(t *testing.T) {
	hm := newTestManager(t, 1)
	if err := hm.AddNetwork(tanhModule("main")); err != nil {
		t.Fatalf("AddNetwork: %v", err)
	}

	ch, unsub := hm.Broker().Subscribe("main")
	defer unsub()

	ectx := graph.NewContext()
	ectx.Allocate("X", 3).SetData(1, 2, 3)
	id, err := runAndWait(t, hm, "main", ectx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{runtime.PhaseDispatched, runtime.PhaseCompleted}
	for _, phase := range want {
		select {
		case ev := <-ch:
			if ev.Phase != phase {
				t.Fatalf("event phase = %q, want %q", ev.Phase, phase)
			}
			if ev.RunID != uint64(id) {
				t.Errorf("event run id = %d, want %d", ev.RunID, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %q event published", phase)
		}
	}
}
