package device

import "fmt"

// Pool is the fixed set of devices assigned at host manager construction.
// Devices are never added or removed after the pool is built.
type Pool struct {
	devices []Device
	byName  map[string]Device
}

// NewPool builds a pool from already-constructed devices. Tests inject fake
// devices this way.
func NewPool(devices ...Device) (*Pool, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("pool requires at least one device")
	}
	p := &Pool{
		devices: devices,
		byName:  make(map[string]Device, len(devices)),
	}
	for _, d := range devices {
		if _, ok := p.byName[d.Name()]; ok {
			return nil, fmt.Errorf("duplicate device name %q", d.Name())
		}
		p.byName[d.Name()] = d
	}
	return p, nil
}

// FromConfigs builds a pool by constructing a device per config.
func FromConfigs(cfgs []Config) (*Pool, error) {
	devices := make([]Device, 0, len(cfgs))
	for _, cfg := range cfgs {
		d, err := New(cfg)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return NewPool(devices...)
}

// Get returns the named device.
func (p *Pool) Get(name string) (Device, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// Names returns device names in pool order.
func (p *Pool) Names() []string {
	names := make([]string, len(p.devices))
	for i, d := range p.devices {
		names[i] = d.Name()
	}
	return names
}

// Size returns the number of devices in the pool.
func (p *Pool) Size() int {
	return len(p.devices)
}
