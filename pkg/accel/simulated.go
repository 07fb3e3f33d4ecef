package accel

import (
	"fmt"
	"sync"
)

// SimulatedDevice describes a device served by SimulatedRuntime.
type SimulatedDevice struct {
	Name            string `mapstructure:"name" yaml:"name"`
	Major           int    `mapstructure:"major" yaml:"major"`
	Minor           int    `mapstructure:"minor" yaml:"minor"`
	MemoryBytes     uint64 `mapstructure:"memoryBytes" yaml:"memoryBytes"`
	Multiprocessors int    `mapstructure:"multiprocessors" yaml:"multiprocessors"`
	ClockMHz        int64  `mapstructure:"clockMHz" yaml:"clockMHz"`
}

// SimulatedRuntime serves a fixed device list from memory. Faults can be
// injected per operation name ("SetDevice", "Properties", "Limit", ...).
type SimulatedRuntime struct {
	binding
	devices []SimulatedDevice

	faultsMu sync.Mutex
	faults   map[string]error
	calls    map[string]int
}

func NewSimulatedRuntime(devices []SimulatedDevice) *SimulatedRuntime {
	return &SimulatedRuntime{
		binding: newBinding(),
		devices: devices,
		faults:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (r *SimulatedRuntime) InjectFault(op string, err error) {
	r.faultsMu.Lock()
	defer r.faultsMu.Unlock()
	r.faults[op] = err
}

// Calls reports how many times op was invoked.
func (r *SimulatedRuntime) Calls(op string) int {
	r.faultsMu.Lock()
	defer r.faultsMu.Unlock()
	return r.calls[op]
}

func (r *SimulatedRuntime) enter(op string) error {
	r.faultsMu.Lock()
	defer r.faultsMu.Unlock()
	r.calls[op]++
	return r.faults[op]
}

func (r *SimulatedRuntime) DeviceCount() (int, error) {
	if err := r.enter("DeviceCount"); err != nil {
		return 0, err
	}
	return len(r.devices), nil
}

func (r *SimulatedRuntime) Properties(id int) (*Properties, error) {
	if err := r.enter("Properties"); err != nil {
		return nil, err
	}
	if id < 0 || id >= len(r.devices) {
		return nil, fmt.Errorf("device %d: %w", id, ErrDeviceNotFound)
	}
	d := r.devices[id]
	return &Properties{
		Name:                d.Name,
		Major:               d.Major,
		Minor:               d.Minor,
		TotalMemory:         d.MemoryBytes,
		MultiprocessorCount: d.Multiprocessors,
		ClockRate:           d.ClockMHz * 1000 * 1000,
	}, nil
}

func (r *SimulatedRuntime) SetDevice(id int) error {
	if err := r.enter("SetDevice"); err != nil {
		return err
	}
	if id < 0 || id >= len(r.devices) {
		return fmt.Errorf("device %d: %w", id, ErrDeviceNotFound)
	}
	r.bind(id)
	return nil
}

func (r *SimulatedRuntime) Synchronize() error {
	if err := r.enter("Synchronize"); err != nil {
		return err
	}
	if _, ok := r.BoundDevice(); !ok {
		return ErrNoDeviceBound
	}
	return nil
}

func (r *SimulatedRuntime) SetCacheConfig(pref CachePreference) error {
	if err := r.enter("SetCacheConfig"); err != nil {
		return err
	}
	return r.setCache(pref)
}

func (r *SimulatedRuntime) Limit(l Limit) (uint64, error) {
	if err := r.enter("Limit"); err != nil {
		return 0, err
	}
	return r.limit(l)
}

func (r *SimulatedRuntime) SetLimit(l Limit, value uint64) error {
	if err := r.enter("SetLimit"); err != nil {
		return err
	}
	return r.setLimit(l, value)
}

func (r *SimulatedRuntime) Upload(name string, data []byte) error {
	if err := r.enter("Upload"); err != nil {
		return err
	}
	return r.upload(name, data)
}

func (r *SimulatedRuntime) Reset() error {
	if err := r.enter("Reset"); err != nil {
		return err
	}
	r.release()
	return nil
}
