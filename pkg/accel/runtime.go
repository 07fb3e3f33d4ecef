package accel

import (
	"errors"
	"fmt"
)

const MB uint64 = 1024 * 1024

// CachePreference mirrors the driver's per-device L1/shared memory split.
type CachePreference int

const (
	PreferNone CachePreference = iota
	PreferShared
	PreferL1
	PreferEqual
)

func (c CachePreference) String() string {
	switch c {
	case PreferShared:
		return "prefer-shared"
	case PreferL1:
		return "prefer-l1"
	case PreferEqual:
		return "prefer-equal"
	}
	return "prefer-none"
}

// Limit identifies a device-level resource limit.
type Limit int

const (
	LimitStackSize Limit = iota
	LimitPrintfFifoSize
	LimitMallocHeapSize
)

func (l Limit) String() string {
	switch l {
	case LimitStackSize:
		return "stack size"
	case LimitPrintfFifoSize:
		return "printf fifo"
	case LimitMallocHeapSize:
		return "heap size"
	}
	return fmt.Sprintf("limit(%d)", int(l))
}

// DefaultLimits are the values a freshly bound device reports.
func DefaultLimits() map[Limit]uint64 {
	return map[Limit]uint64{
		LimitStackSize:      1024,
		LimitPrintfFifoSize: 1 * MB,
		LimitMallocHeapSize: 8 * MB,
	}
}

// Properties is what the driver reports for a single device.
type Properties struct {
	Name                string
	Major               int
	Minor               int
	TotalMemory         uint64
	MultiprocessorCount int
	// ClockRate in Hz
	ClockRate int64
}

// Runtime is the subset of the accelerator driver the control layer needs.
// Implementations are not expected to be shared between processes.
type Runtime interface {
	DeviceCount() (int, error)
	Properties(id int) (*Properties, error)
	SetDevice(id int) error
	Synchronize() error
	SetCacheConfig(pref CachePreference) error
	Limit(l Limit) (uint64, error)
	SetLimit(l Limit, value uint64) error
	// Upload copies data into a named device buffer of the bound device.
	Upload(name string, data []byte) error
	// Reset releases every device resource held by the process.
	Reset() error
}

var (
	ErrNoDeviceBound  = errors.New("no device bound to the current process")
	ErrDeviceNotFound = errors.New("device not found")
	ErrRuntimeClosed  = errors.New("device runtime already released")
)

// StatusError carries the underlying driver status of a failed call. Err,
// when set, classifies the failure for errors.Is.
type StatusError struct {
	Op     string
	Device int
	Status string
	Err    error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed: %s", e.Op, e.Status)
	if e.Device >= 0 {
		msg = fmt.Sprintf("%s failed for device %d: %s", e.Op, e.Device, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Err, msg)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
