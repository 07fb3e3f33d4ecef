package catalog

import (
	"errors"
	"fmt"

	"github.com/fedepedron/QUICK/pkg/accel"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoDevicesVisible = errors.New("no accelerator devices visible")
	ErrInvalidRank      = errors.New("rank outside of the device catalog")
)

// CountMismatchError is returned when the usable devices can't cover every worker.
type CountMismatchError struct {
	Visible int
	Usable  int
	Workers int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("worker count and number of usable devices must match: workers=%d usable=%d visible=%d",
		e.Workers, e.Usable, e.Visible)
}

// Descriptor is an immutable snapshot of one device.
type Descriptor struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	ComputeMajor        int    `json:"computeMajor"`
	ComputeMinor        int    `json:"computeMinor"`
	TotalMemory         uint64 `json:"totalMemory"`
	MultiprocessorCount int    `json:"multiprocessorCount"`
	ClockRate           int64  `json:"clockRate"`
}

func newDescriptor(id int, p *accel.Properties) Descriptor {
	return Descriptor{
		ID:                  id,
		Name:                p.Name,
		ComputeMajor:        p.Major,
		ComputeMinor:        p.Minor,
		TotalMemory:         p.TotalMemory,
		MultiprocessorCount: p.MultiprocessorCount,
		ClockRate:           p.ClockRate,
	}
}

// Catalog is the ordered list of devices selected for use, one per worker.
type Catalog struct {
	devices []Descriptor
	shared  bool
}

// FromDescriptors rebuilds a catalog from descriptors received from the lead.
// shared is the lead's Shared flag; it only holds when every entry is the
// same device, and repeated entries are always shared.
func FromDescriptors(ds []Descriptor, shared bool) *Catalog {
	c := &Catalog{devices: make([]Descriptor, len(ds))}
	copy(c.devices, ds)
	if len(ds) == 0 {
		return c
	}
	c.shared = shared || len(ds) > 1
	for _, d := range ds {
		if d.ID != ds[0].ID {
			c.shared = false
			break
		}
	}
	return c
}

// Enumerate walks every visible device and keeps the usable ones.
// It must run in the lead process only. On failure the runtime is reset
// before the error is returned.
func Enumerate(rt accel.Runtime, workerCount int, policy Policy) (*Catalog, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workerCount)
	}
	if policy == nil {
		policy = DefaultPolicy(DefaultPolicyConfig())
	}
	visible, err := rt.DeviceCount()
	if err != nil {
		resetQuietly(rt)
		return nil, fmt.Errorf("device count query failed: %w", err)
	}
	if visible == 0 {
		resetQuietly(rt)
		return nil, ErrNoDevicesVisible
	}

	c := &Catalog{}
	if visible == 1 {
		// a single device shared by every worker
		props, err := rt.Properties(0)
		if err != nil {
			resetQuietly(rt)
			return nil, fmt.Errorf("device 0 properties: %w", err)
		}
		d := newDescriptor(0, props)
		c.shared = true
		for i := 0; i < workerCount; i++ {
			c.devices = append(c.devices, d)
		}
		log.Infof("single visible device (%s), shared by %d workers", d.Name, workerCount)
		return c, nil
	}

	for id := 0; id < visible; id++ {
		props, err := rt.Properties(id)
		if err != nil {
			resetQuietly(rt)
			return nil, fmt.Errorf("device %d properties: %w", id, err)
		}
		d := newDescriptor(id, props)
		if !policy(d) {
			log.Debugf("device %d (%s) skipped: sm %d.%d memory %dMB", id, d.Name, d.ComputeMajor, d.ComputeMinor, d.TotalMemory/accel.MB)
			continue
		}
		c.devices = append(c.devices, d)
	}

	if len(c.devices) < workerCount {
		resetQuietly(rt)
		return nil, &CountMismatchError{Visible: visible, Usable: len(c.devices), Workers: workerCount}
	}
	if len(c.devices) > workerCount {
		c.devices = c.devices[:workerCount]
	}
	log.Infof("device catalog ready, usable devices: %d (visible: %d)", len(c.devices), visible)
	return c, nil
}

func resetQuietly(rt accel.Runtime) {
	if err := rt.Reset(); err != nil {
		log.Errorf("failed to release device state, err: %s", err)
	}
}

// Count is the number of usable devices.
func (c *Catalog) Count() int {
	return len(c.devices)
}

// Shared reports whether every entry references the same physical device.
func (c *Catalog) Shared() bool {
	return c.shared
}

// IDs returns the device id for every worker rank.
func (c *Catalog) IDs() []int {
	ids := make([]int, len(c.devices))
	for i, d := range c.devices {
		ids[i] = d.ID
	}
	return ids
}

func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.devices))
	copy(out, c.devices)
	return out
}

// Descriptor returns the device assigned to rank.
func (c *Catalog) Descriptor(rank int) (Descriptor, error) {
	if rank < 0 || rank >= len(c.devices) {
		return Descriptor{}, fmt.Errorf("rank %d of %d: %w", rank, len(c.devices), ErrInvalidRank)
	}
	return c.devices[rank], nil
}

// Contains reports whether id is a member of the catalog.
func (c *Catalog) Contains(id int) bool {
	for _, d := range c.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
