package device

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/seantiz/gantry/internal/compiler"
	"github.com/seantiz/gantry/internal/graph"
)

// Interpreter is the reference in-process device. It evaluates fragment
// instruction lists over float32 tensors with a bounded degree of
// concurrency.
type Interpreter struct {
	name string
	sem  chan struct{}

	mu        sync.Mutex
	fragments map[string]*compiler.Fragment
}

// NewInterpreter creates an interpreter device. A non-positive concurrency
// falls back to DefaultConcurrency.
func NewInterpreter(name string, concurrency int) *Interpreter {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Interpreter{
		name:      name,
		sem:       make(chan struct{}, concurrency),
		fragments: make(map[string]*compiler.Fragment),
	}
}

// Name returns the device name.
func (d *Interpreter) Name() string { return d.name }

// Kind returns KindInterpreter.
func (d *Interpreter) Kind() string { return KindInterpreter }

// Load makes a fragment resident.
func (d *Interpreter) Load(frag *compiler.Fragment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fragments[frag.Name]; ok {
		return fmt.Errorf("fragment %q already loaded on device %q", frag.Name, d.name)
	}
	d.fragments[frag.Name] = frag
	return nil
}

// Unload releases a resident fragment.
func (d *Interpreter) Unload(fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fragments[fragment]; !ok {
		return fmt.Errorf("fragment %q not loaded on device %q", fragment, d.name)
	}
	delete(d.fragments, fragment)
	return nil
}

// Resident returns the number of fragments currently loaded.
func (d *Interpreter) Resident() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fragments)
}

// Execute evaluates a resident fragment against the bindings. Inputs are
// read from the bindings; outputs are written in place into the bound
// tensors, allocating any output binding the caller did not provide.
func (d *Interpreter) Execute(ctx context.Context, fragment string, bindings *graph.Context) error {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	frag, ok := d.fragments[fragment]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("fragment %q not loaded on device %q", fragment, d.name)
	}

	values := make(map[string][]float32, len(frag.Instructions))
	for _, ins := range frag.Instructions {
		srcs := make([][]float32, len(ins.Srcs))
		for i, src := range ins.Srcs {
			v, err := resolve(src, values, bindings)
			if err != nil {
				return err
			}
			srcs[i] = v
		}
		out, err := eval(ins.Op, srcs)
		if err != nil {
			return fmt.Errorf("instruction %q: %w", ins.Dest, err)
		}
		values[ins.Dest] = out
	}

	for _, o := range frag.Outputs {
		v := values[o.Src]
		t := bindings.Ensure(o.Name, len(v))
		if t.Len() != len(v) {
			return fmt.Errorf("output %q: bound tensor holds %d elements, result has %d", o.Name, t.Len(), len(v))
		}
		copy(t.Data, v)
	}
	return nil
}

func resolve(name string, values map[string][]float32, bindings *graph.Context) ([]float32, error) {
	if v, ok := values[name]; ok {
		return v, nil
	}
	t, ok := bindings.Get(name)
	if !ok {
		return nil, fmt.Errorf("missing binding %q", name)
	}
	return t.Data, nil
}

func eval(op graph.Op, srcs [][]float32) ([]float32, error) {
	switch op {
	case graph.OpTanh:
		return mapUnary(srcs[0], func(x float32) float32 {
			return float32(math.Tanh(float64(x)))
		}), nil
	case graph.OpSigmoid:
		return mapUnary(srcs[0], func(x float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(x))))
		}), nil
	case graph.OpRelu:
		return mapUnary(srcs[0], func(x float32) float32 {
			if x < 0 {
				return 0
			}
			return x
		}), nil
	case graph.OpAdd:
		return mapBinary(srcs[0], srcs[1], func(a, b float32) float32 { return a + b })
	case graph.OpMul:
		return mapBinary(srcs[0], srcs[1], func(a, b float32) float32 { return a * b })
	}
	return nil, fmt.Errorf("unsupported op %q", op)
}

func mapUnary(in []float32, f func(float32) float32) []float32 {
	out := make([]float32, len(in))
	for i, x := range in {
		out[i] = f(x)
	}
	return out
}

func mapBinary(a, b []float32, f func(a, b float32) float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("operand lengths differ: %d vs %d", len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = f(a[i], b[i])
	}
	return out, nil
}
