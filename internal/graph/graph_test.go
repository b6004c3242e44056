package graph_test

import (
	"sync"
	"testing"

	"github.com/seantiz/gantry/internal/graph"
)

func TestTensorNew(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		wantLen int
	}{
		{name: "vector", shape: []int{3}, wantLen: 3},
		{name: "matrix", shape: []int{2, 4}, wantLen: 8},
		{name: "scalar", shape: nil, wantLen: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tensor := graph.NewTensor(tc.shape...)
			if tensor.Len() != tc.wantLen {
				t.Errorf("Len() = %d, want %d", tensor.Len(), tc.wantLen)
			}
			for i, v := range tensor.Data {
				if v != 0 {
					t.Errorf("Data[%d] = %v, want zero fill", i, v)
				}
			}
		})
	}
}

func TestTensorSetData(t *testing.T) {
	tensor := graph.NewTensor(3)
	if err := tensor.SetData(1, 2, 3); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if tensor.Data[0] != 1 || tensor.Data[2] != 3 {
		t.Errorf("Data = %v, want [1 2 3]", tensor.Data)
	}
	if err := tensor.SetData(1, 2); err == nil {
		t.Error("SetData accepted a short value list")
	}
}

func TestOpArity(t *testing.T) {
	unary := []graph.Op{graph.OpTanh, graph.OpSigmoid, graph.OpRelu}
	for _, op := range unary {
		if got := op.Arity(); got != 1 {
			t.Errorf("%s arity = %d, want 1", op, got)
		}
	}
	binary := []graph.Op{graph.OpAdd, graph.OpMul}
	for _, op := range binary {
		if got := op.Arity(); got != 2 {
			t.Errorf("%s arity = %d, want 2", op, got)
		}
	}
	if got := graph.Op("conv2d").Arity(); got != 0 {
		t.Errorf("unknown op arity = %d, want 0", got)
	}
}

func TestFunctionBuilder(t *testing.T) {
	m := graph.NewModule()
	fn := m.AddFunction("main")
	fn.AddPlaceholder("X", 2, 3)
	fn.AddTanh("t", "X")
	fn.AddSigmoid("s", "t")
	fn.AddAdd("sum", "t", "s")
	fn.AddSave("out", "sum")

	if len(m.Functions()) != 1 {
		t.Fatalf("module has %d functions, want 1", len(m.Functions()))
	}
	if got := fn.Placeholders[0].Shape; len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("placeholder shape = %v, want [2 3]", got)
	}
	if len(fn.Nodes) != 3 {
		t.Fatalf("function has %d nodes, want 3", len(fn.Nodes))
	}
	if fn.Nodes[2].Op != graph.OpAdd || len(fn.Nodes[2].Inputs) != 2 {
		t.Errorf("add node = %+v, want binary add", fn.Nodes[2])
	}
	if fn.Saves[0].Name != "out" || fn.Saves[0].Input != "sum" {
		t.Errorf("save = %+v, want out <- sum", fn.Saves[0])
	}
}

func TestContextBindings(t *testing.T) {
	ectx := graph.NewContext()

	x := ectx.Allocate("X", 3)
	if got, ok := ectx.Get("X"); !ok || got != x {
		t.Fatal("Get did not return the allocated tensor")
	}
	if _, ok := ectx.Get("missing"); ok {
		t.Error("Get reported a binding that was never allocated")
	}

	// Ensure returns the existing binding, never replacing it.
	if got := ectx.Ensure("X", 3); got != x {
		t.Error("Ensure replaced an existing binding")
	}
	out := ectx.Ensure("out", 4)
	if out.Len() != 4 {
		t.Errorf("Ensure allocated length %d, want 4", out.Len())
	}

	names := ectx.Names()
	if len(names) != 2 || names[0] != "X" || names[1] != "out" {
		t.Errorf("Names() = %v, want [X out]", names)
	}
}

func TestContextConcurrentEnsure(t *testing.T) {
	ectx := graph.NewContext()

	var wg sync.WaitGroup
	results := make([]*graph.Tensor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ectx.Ensure("shared", 3)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent Ensure calls produced distinct tensors")
		}
	}
}
