// Package device defines the interface compute devices must implement, the
// fixed pool the host manager draws from, and the reference interpreter
// device that evaluates fragments in process.
package device

import (
	"context"
	"fmt"

	"github.com/seantiz/gantry/internal/compiler"
	"github.com/seantiz/gantry/internal/graph"
)

// Device kind constants.
const (
	KindInterpreter = "interpreter"
)

// DefaultConcurrency is the per-device concurrency limit when none is
// configured.
const DefaultConcurrency = 8

// Config describes one device in the pool.
type Config struct {
	Name        string `toml:"name" json:"name"`
	Kind        string `toml:"kind" json:"kind"`
	Concurrency int    `toml:"concurrency" json:"concurrency"`
}

// Device is the interface all compute devices implement. A device hosts
// fragments from any number of networks simultaneously and may execute
// multiple runs concurrently; its internal concurrency degree is a device
// property the caller does not control.
type Device interface {
	// Name returns the device's unique name within the pool.
	Name() string

	// Kind reports the device's backend kind.
	Kind() string

	// Load makes a fragment resident on the device. Called once per
	// fragment during network registration.
	Load(frag *compiler.Fragment) error

	// Unload releases the resources of a resident fragment. Called exactly
	// once per loaded fragment during network teardown.
	Unload(fragment string) error

	// Execute runs a resident fragment against the given bindings. Exactly
	// one completion (return) is delivered per call, carrying success or a
	// typed error.
	Execute(ctx context.Context, fragment string, bindings *graph.Context) error
}

// New constructs a device from its config. Unknown kinds are an error; an
// empty kind defaults to the interpreter.
func New(cfg Config) (Device, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("device has no name")
	}
	switch cfg.Kind {
	case KindInterpreter, "":
		return NewInterpreter(cfg.Name, cfg.Concurrency), nil
	}
	return nil, fmt.Errorf("unknown device kind %q", cfg.Kind)
}
