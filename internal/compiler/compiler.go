// Package compiler turns graph functions into device-executable fragments.
// Each function compiles to one or more fragments: topologically ordered
// instruction lists pinned to a device from the pool. Partitioning groups
// each output's transitive input closure, merges overlapping groups, and
// assigns the resulting fragments round-robin over the device set.
package compiler

import (
	"fmt"

	"github.com/seantiz/gantry/internal/graph"
)

// Instruction is one step of a fragment's execution plan. Sources refer to
// placeholder bindings or to destinations of earlier instructions in the
// same fragment.
type Instruction struct {
	Op   graph.Op
	Dest string
	Srcs []string
}

// Output maps a computed value to the binding name it is saved under.
type Output struct {
	Name string
	Src  string
}

// Fragment is the portion of a compiled network assigned to a single device.
type Fragment struct {
	Name         string
	Device       string
	Inputs       []string
	Outputs      []Output
	Instructions []Instruction
}

// CompiledNetwork is a device-resident representation of one function, split
// into fragments across the device set.
type CompiledNetwork struct {
	Name      string
	Fragments []*Fragment
}

// Compile validates and partitions every function in the module, returning a
// compiled network per function name. Fragments are assigned to devices
// round-robin in partition order. Validation failure for any function fails
// the whole module; nothing is partially compiled.
func Compile(m *graph.Module, devices []string) (map[string]*CompiledNetwork, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	fns := m.Functions()
	if len(fns) == 0 {
		return nil, fmt.Errorf("module contains no functions")
	}

	compiled := make(map[string]*CompiledNetwork, len(fns))
	for _, fn := range fns {
		if _, ok := compiled[fn.Name]; ok {
			return nil, fmt.Errorf("duplicate function name %q in module", fn.Name)
		}
		cn, err := compileFunction(fn, devices)
		if err != nil {
			return nil, fmt.Errorf("compile function %q: %w", fn.Name, err)
		}
		compiled[fn.Name] = cn
	}
	return compiled, nil
}

func compileFunction(fn *graph.Function, devices []string) (*CompiledNetwork, error) {
	if err := validate(fn); err != nil {
		return nil, err
	}

	parts := partition(fn)

	cn := &CompiledNetwork{Name: fn.Name}
	for i, part := range parts {
		frag := buildFragment(fn, part, i)
		frag.Device = devices[i%len(devices)]
		cn.Fragments = append(cn.Fragments, frag)
	}
	return cn, nil
}

// validate checks naming and operand wiring. Function node order is the
// definition order, so every operand must resolve to a placeholder or an
// earlier node; this also rules out cycles.
func validate(fn *graph.Function) error {
	if fn.Name == "" {
		return fmt.Errorf("function has no name")
	}
	if len(fn.Saves) == 0 {
		return fmt.Errorf("function has no outputs")
	}

	defined := make(map[string]bool, len(fn.Placeholders)+len(fn.Nodes))
	for _, p := range fn.Placeholders {
		if p.Name == "" {
			return fmt.Errorf("placeholder has no name")
		}
		if defined[p.Name] {
			return fmt.Errorf("duplicate placeholder %q", p.Name)
		}
		defined[p.Name] = true
	}

	nodes := make(map[string]bool, len(fn.Nodes))
	for _, n := range fn.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node has no name")
		}
		if defined[n.Name] {
			return fmt.Errorf("duplicate name %q", n.Name)
		}
		if arity := n.Op.Arity(); arity == 0 {
			return fmt.Errorf("node %q: unknown op %q", n.Name, n.Op)
		} else if len(n.Inputs) != arity {
			return fmt.Errorf("node %q: op %q takes %d operands, got %d", n.Name, n.Op, arity, len(n.Inputs))
		}
		for _, in := range n.Inputs {
			if !defined[in] {
				return fmt.Errorf("node %q: undefined operand %q", n.Name, in)
			}
		}
		defined[n.Name] = true
		nodes[n.Name] = true
	}

	saved := make(map[string]bool, len(fn.Saves))
	for _, s := range fn.Saves {
		if s.Name == "" {
			return fmt.Errorf("output has no name")
		}
		if saved[s.Name] {
			return fmt.Errorf("duplicate output %q", s.Name)
		}
		if !nodes[s.Input] {
			return fmt.Errorf("output %q: %q is not a node", s.Name, s.Input)
		}
		saved[s.Name] = true
	}
	return nil
}

// partition groups saves whose node closures overlap. Each group becomes one
// fragment; disjoint output subgraphs split across devices. Groups keep save
// declaration order.
func partition(fn *graph.Function) [][]*graph.Save {
	producers := make(map[string]*graph.Node, len(fn.Nodes))
	for _, n := range fn.Nodes {
		producers[n.Name] = n
	}

	closures := make([]map[string]bool, len(fn.Saves))
	for i, s := range fn.Saves {
		closures[i] = closure(s.Input, producers)
	}

	var groups [][]*graph.Save
	var groupClosures []map[string]bool
	for i, s := range fn.Saves {
		merged := false
		for g := range groups {
			if overlaps(groupClosures[g], closures[i]) {
				groups[g] = append(groups[g], s)
				for name := range closures[i] {
					groupClosures[g][name] = true
				}
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, []*graph.Save{s})
			groupClosures = append(groupClosures, closures[i])
		}
	}
	return groups
}

// closure returns the set of node names in the transitive input closure of
// root, placeholders excluded.
func closure(root string, producers map[string]*graph.Node) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{root}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := producers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		stack = append(stack, n.Inputs...)
	}
	return seen
}

func overlaps(a, b map[string]bool) bool {
	for name := range b {
		if a[name] {
			return true
		}
	}
	return false
}

// buildFragment lowers one save group into an instruction list. Nodes keep
// function declaration order, which is already topological.
func buildFragment(fn *graph.Function, saves []*graph.Save, index int) *Fragment {
	needed := make(map[string]bool)
	producers := make(map[string]*graph.Node, len(fn.Nodes))
	for _, n := range fn.Nodes {
		producers[n.Name] = n
	}
	for _, s := range saves {
		for name := range closure(s.Input, producers) {
			needed[name] = true
		}
	}

	frag := &Fragment{
		Name: fmt.Sprintf("%s/%d", fn.Name, index),
	}

	inputs := make(map[string]bool)
	for _, n := range fn.Nodes {
		if !needed[n.Name] {
			continue
		}
		frag.Instructions = append(frag.Instructions, Instruction{
			Op:   n.Op,
			Dest: n.Name,
			Srcs: append([]string(nil), n.Inputs...),
		})
		for _, in := range n.Inputs {
			if producers[in] == nil && !inputs[in] {
				inputs[in] = true
				frag.Inputs = append(frag.Inputs, in)
			}
		}
	}

	for _, s := range saves {
		frag.Outputs = append(frag.Outputs, Output{Name: s.Name, Src: s.Input})
	}
	return frag
}
