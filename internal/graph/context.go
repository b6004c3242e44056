package graph

import (
	"sort"
	"sync"
)

// Context holds the input/output tensor bindings for one run. Ownership
// transfers into RunNetwork and back out exactly once through the completion
// callback; the host manager never retains it past callback invocation.
//
// Fragments of a multi-device run allocate their result tensors concurrently,
// so the binding map is mutex-guarded. Tensor buffers themselves are written
// in place; a binding obtained before the run remains valid after it.
type Context struct {
	mu       sync.Mutex
	bindings map[string]*Tensor
}

// NewContext creates an empty run context.
func NewContext() *Context {
	return &Context{
		bindings: make(map[string]*Tensor),
	}
}

// Allocate creates a zero-filled tensor bound under name, replacing any
// existing binding, and returns it.
func (c *Context) Allocate(name string, shape ...int) *Tensor {
	t := NewTensor(shape...)
	c.mu.Lock()
	c.bindings[name] = t
	c.mu.Unlock()
	return t
}

// Get returns the tensor bound under name.
func (c *Context) Get(name string) (*Tensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.bindings[name]
	return t, ok
}

// Ensure returns the tensor bound under name, allocating a flat tensor of the
// given length if no binding exists. Devices use it to materialize output
// bindings the caller did not pre-allocate.
func (c *Context) Ensure(name string, length int) *Tensor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.bindings[name]; ok {
		return t
	}
	t := NewTensor(length)
	c.bindings[name] = t
	return t
}

// Names returns the bound names in sorted order.
func (c *Context) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.bindings))
	for name := range c.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
