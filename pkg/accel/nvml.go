package accel

import (
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	log "github.com/sirupsen/logrus"
)

// nvmlDevice is the part of nvml.Device the runtime queries.
type nvmlDevice interface {
	GetCudaComputeCapability() (int, int, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetName() (string, nvml.Return)
	GetMaxClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetAttributes() (nvml.DeviceAttributes, nvml.Return)
}

// nvmlLib is the part of the NVML library the runtime calls.
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(int) (nvmlDevice, nvml.Return)
	ErrorString(nvml.Return) string
}

type nvmlLibrary struct{}

func (nvmlLibrary) Init() nvml.Return                  { return nvml.Init() }
func (nvmlLibrary) Shutdown() nvml.Return              { return nvml.Shutdown() }
func (nvmlLibrary) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }
func (nvmlLibrary) ErrorString(ret nvml.Return) string { return nvml.ErrorString(ret) }

func (nvmlLibrary) DeviceGetHandleByIndex(id int) (nvmlDevice, nvml.Return) {
	device, ret := nvml.DeviceGetHandleByIndex(id)
	return device, ret
}

// NvmlRuntime discovers devices through NVML. NVML is a management library,
// so the binding itself (cache preference, limits, staged buffers) is kept
// host side and handed over to the kernel launcher.
type NvmlRuntime struct {
	binding
	lib       nvmlLib
	closeOnce sync.Once
	closed    bool
}

func NewNvmlRuntime() (*NvmlRuntime, error) {
	return newNvmlRuntime(nvmlLibrary{})
}

func newNvmlRuntime(lib nvmlLib) (*NvmlRuntime, error) {
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, &StatusError{Op: "nvml init", Device: -1, Status: lib.ErrorString(ret)}
	}
	return &NvmlRuntime{binding: newBinding(), lib: lib}, nil
}

// errorCheck fails on every return code but SUCCESS.
func (r *NvmlRuntime) errorCheck(op string, device int, ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	err := &StatusError{Op: op, Device: device, Status: r.lib.ErrorString(ret)}
	if device >= 0 && (ret == nvml.ERROR_NOT_FOUND || ret == nvml.ERROR_INVALID_ARGUMENT) {
		err.Err = ErrDeviceNotFound
	}
	return err
}

// warnCheck tolerates the codes a device may legitimately return for
// optional queries, and reports whether the value can be used.
func (r *NvmlRuntime) warnCheck(op string, device int, ret nvml.Return) bool {
	switch ret {
	case nvml.SUCCESS:
		return true
	case nvml.ERROR_NOT_FOUND:
		log.Warnf("nvml error: %s on device %d: ERROR_NOT_FOUND: [a query to find an object was unsuccessful]", op, device)
	case nvml.ERROR_NOT_SUPPORTED:
		log.Warnf("nvml error: %s on device %d: ERROR_NOT_SUPPORTED: [device doesn't support this feature]", op, device)
	case nvml.ERROR_NO_PERMISSION:
		log.Warnf("nvml error: %s on device %d: ERROR_NO_PERMISSION: [user doesn't have permission to perform this operation]", op, device)
	default:
		log.Errorf("nvml error: %s on device %d: %s", op, device, r.lib.ErrorString(ret))
	}
	return false
}

func (r *NvmlRuntime) DeviceCount() (int, error) {
	if r.closed {
		return 0, ErrRuntimeClosed
	}
	count, ret := r.lib.DeviceGetCount()
	if err := r.errorCheck("DeviceGetCount", -1, ret); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *NvmlRuntime) Properties(id int) (*Properties, error) {
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	device, ret := r.lib.DeviceGetHandleByIndex(id)
	if err := r.errorCheck("DeviceGetHandleByIndex", id, ret); err != nil {
		return nil, err
	}
	props := &Properties{}
	major, minor, ret := device.GetCudaComputeCapability()
	if err := r.errorCheck("GetCudaComputeCapability", id, ret); err != nil {
		return nil, err
	}
	props.Major, props.Minor = major, minor
	memory, ret := device.GetMemoryInfo()
	if err := r.errorCheck("GetMemoryInfo", id, ret); err != nil {
		return nil, err
	}
	props.TotalMemory = memory.Total

	if name, ret := device.GetName(); r.warnCheck("GetName", id, ret) {
		props.Name = name
	}
	// NVML reports MHz
	if clock, ret := device.GetMaxClockInfo(nvml.CLOCK_SM); r.warnCheck("GetMaxClockInfo", id, ret) {
		props.ClockRate = int64(clock) * 1000 * 1000
	}
	if attrs, ret := device.GetAttributes(); r.warnCheck("GetAttributes", id, ret) {
		props.MultiprocessorCount = int(attrs.MultiprocessorCount)
	}
	return props, nil
}

func (r *NvmlRuntime) SetDevice(id int) error {
	if r.closed {
		return ErrRuntimeClosed
	}
	if _, ret := r.lib.DeviceGetHandleByIndex(id); ret != nvml.SUCCESS {
		return r.errorCheck("SetDevice", id, ret)
	}
	r.bind(id)
	return nil
}

// Synchronize has nothing to wait for on the management side; it only
// verifies the binding is still valid.
func (r *NvmlRuntime) Synchronize() error {
	id, ok := r.BoundDevice()
	if !ok {
		return ErrNoDeviceBound
	}
	_, ret := r.lib.DeviceGetHandleByIndex(id)
	return r.errorCheck("Synchronize", id, ret)
}

func (r *NvmlRuntime) SetCacheConfig(pref CachePreference) error {
	return r.setCache(pref)
}

func (r *NvmlRuntime) Limit(l Limit) (uint64, error) {
	return r.limit(l)
}

func (r *NvmlRuntime) SetLimit(l Limit, value uint64) error {
	return r.setLimit(l, value)
}

func (r *NvmlRuntime) Upload(name string, data []byte) error {
	return r.upload(name, data)
}

func (r *NvmlRuntime) Reset() error {
	r.release()
	var err error
	r.closeOnce.Do(func() {
		r.closed = true
		if ret := r.lib.Shutdown(); ret != nvml.SUCCESS {
			err = &StatusError{Op: "nvml shutdown", Device: -1, Status: r.lib.ErrorString(ret)}
		}
	})
	return err
}
