package accel

import (
	"fmt"
	"sync"
)

// binding keeps the host side of a device binding: which device the process
// is bound to, its cache preference, limits and staged upload buffers.
type binding struct {
	mu      sync.Mutex
	device  int
	bound   bool
	cache   CachePreference
	limits  map[Limit]uint64
	buffers map[string][]byte
}

func newBinding() binding {
	return binding{
		limits:  DefaultLimits(),
		buffers: make(map[string][]byte),
	}
}

func (b *binding) bind(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device = id
	b.bound = true
	b.cache = PreferNone
	b.limits = DefaultLimits()
	b.buffers = make(map[string][]byte)
}

func (b *binding) BoundDevice() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device, b.bound
}

func (b *binding) setCache(pref CachePreference) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return ErrNoDeviceBound
	}
	b.cache = pref
	return nil
}

func (b *binding) CacheConfig() CachePreference {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache
}

func (b *binding) limit(l Limit) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return 0, ErrNoDeviceBound
	}
	v, ok := b.limits[l]
	if !ok {
		return 0, fmt.Errorf("unknown device limit: %s", l)
	}
	return v, nil
}

func (b *binding) setLimit(l Limit, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return ErrNoDeviceBound
	}
	if _, ok := b.limits[l]; !ok {
		return fmt.Errorf("unknown device limit: %s", l)
	}
	b.limits[l] = value
	return nil
}

func (b *binding) upload(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return ErrNoDeviceBound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	b.buffers[name] = buf
	return nil
}

// Buffer returns a copy of a previously uploaded buffer.
func (b *binding) Buffer(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[name]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

func (b *binding) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound = false
	b.device = 0
	b.cache = PreferNone
	b.limits = DefaultLimits()
	b.buffers = make(map[string][]byte)
}
