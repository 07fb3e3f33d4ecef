package accel

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeDevice struct {
	major, minor int
	capRet       nvml.Return
	memory       uint64
	memRet       nvml.Return
	name         string
	nameRet      nvml.Return
	clockMHz     uint32
	clockRet     nvml.Return
	sms          uint32
	attrsRet     nvml.Return
}

func (d *fakeDevice) GetCudaComputeCapability() (int, int, nvml.Return) {
	return d.major, d.minor, d.capRet
}

func (d *fakeDevice) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	return nvml.Memory{Total: d.memory}, d.memRet
}

func (d *fakeDevice) GetName() (string, nvml.Return) {
	return d.name, d.nameRet
}

func (d *fakeDevice) GetMaxClockInfo(nvml.ClockType) (uint32, nvml.Return) {
	return d.clockMHz, d.clockRet
}

func (d *fakeDevice) GetAttributes() (nvml.DeviceAttributes, nvml.Return) {
	return nvml.DeviceAttributes{MultiprocessorCount: d.sms}, d.attrsRet
}

type fakeNvml struct {
	initRet   nvml.Return
	devices   []*fakeDevice
	countRet  nvml.Return
	handleRet nvml.Return
	shutdowns int
}

func (l *fakeNvml) Init() nvml.Return { return l.initRet }

func (l *fakeNvml) Shutdown() nvml.Return {
	l.shutdowns++
	return nvml.SUCCESS
}

func (l *fakeNvml) DeviceGetCount() (int, nvml.Return) {
	return len(l.devices), l.countRet
}

func (l *fakeNvml) DeviceGetHandleByIndex(id int) (nvmlDevice, nvml.Return) {
	if l.handleRet != nvml.SUCCESS {
		return nil, l.handleRet
	}
	if id < 0 || id >= len(l.devices) {
		return nil, nvml.ERROR_INVALID_ARGUMENT
	}
	return l.devices[id], nvml.SUCCESS
}

func (l *fakeNvml) ErrorString(ret nvml.Return) string {
	return fmt.Sprintf("nvml return %d", int(ret))
}

var _ = Describe("nvml runtime", func() {

	var (
		lib *fakeNvml
		dev *fakeDevice
		rt  *NvmlRuntime
	)

	BeforeEach(func() {
		dev = &fakeDevice{
			major: 7, minor: 0, memory: 16 * 1024 * MB,
			name: "Tesla V100-SXM2-16GB", clockMHz: 1530, sms: 80,
		}
		lib = &fakeNvml{devices: []*fakeDevice{dev}}
		var err error
		rt, err = newNvmlRuntime(lib)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("properties", func() {

		It("reads every property and converts the clock to Hz", func() {
			count, err := rt.DeviceCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
			p, err := rt.Properties(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(*p).To(Equal(Properties{
				Name:                "Tesla V100-SXM2-16GB",
				Major:               7,
				Minor:               0,
				TotalMemory:         16 * 1024 * MB,
				MultiprocessorCount: 80,
				ClockRate:           1530000000,
			}))
		})

		It("tolerates unsupported optional queries", func() {
			dev.attrsRet = nvml.ERROR_NOT_SUPPORTED
			dev.clockRet = nvml.ERROR_NOT_SUPPORTED
			p, err := rt.Properties(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.MultiprocessorCount).To(Equal(0))
			Expect(p.ClockRate).To(Equal(int64(0)))
			Expect(p.Major).To(Equal(7))
		})

		It("tolerates optional queries without permission", func() {
			dev.nameRet = nvml.ERROR_NO_PERMISSION
			p, err := rt.Properties(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(BeEmpty())
			Expect(p.MultiprocessorCount).To(Equal(80))
		})

		It("skips optional values on hard errors", func() {
			dev.clockRet = nvml.ERROR_GPU_IS_LOST
			p, err := rt.Properties(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ClockRate).To(Equal(int64(0)))
		})

		It("fails on errors in required queries", func() {
			dev.capRet = nvml.ERROR_NOT_SUPPORTED
			_, err := rt.Properties(0)
			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Op).To(Equal("GetCudaComputeCapability"))
			Expect(se.Device).To(Equal(0))
			Expect(se.Status).To(Equal(fmt.Sprintf("nvml return %d", int(nvml.ERROR_NOT_SUPPORTED))))

			dev.capRet = nvml.SUCCESS
			dev.memRet = nvml.ERROR_UNKNOWN
			_, err = rt.Properties(0)
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Op).To(Equal("GetMemoryInfo"))
		})

		It("fails when the device count is unavailable", func() {
			lib.countRet = nvml.ERROR_UNINITIALIZED
			_, err := rt.DeviceCount()
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrDeviceNotFound)).To(BeFalse())
		})
	})

	Context("binding", func() {

		It("binds known devices", func() {
			Expect(rt.SetDevice(0)).To(Succeed())
			id, ok := rt.BoundDevice()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(0))
			Expect(rt.Synchronize()).To(Succeed())
		})

		It("keeps the driver status of unknown devices", func() {
			err := rt.SetDevice(3)
			Expect(errors.Is(err, ErrDeviceNotFound)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(fmt.Sprintf("nvml return %d", int(nvml.ERROR_INVALID_ARGUMENT))))
			_, ok := rt.BoundDevice()
			Expect(ok).To(BeFalse())

			lib.handleRet = nvml.ERROR_NOT_FOUND
			err = rt.SetDevice(0)
			Expect(errors.Is(err, ErrDeviceNotFound)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("SetDevice failed for device 0"))
		})
	})

	Context("lifecycle", func() {

		It("refuses to start when nvml can't initialize", func() {
			_, err := newNvmlRuntime(&fakeNvml{initRet: nvml.ERROR_LIBRARY_NOT_FOUND})
			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Op).To(Equal("nvml init"))
		})

		It("shuts nvml down once", func() {
			Expect(rt.SetDevice(0)).To(Succeed())
			Expect(rt.Reset()).To(Succeed())
			Expect(rt.Reset()).To(Succeed())
			Expect(lib.shutdowns).To(Equal(1))
			_, err := rt.DeviceCount()
			Expect(err).To(MatchError(ErrRuntimeClosed))
			_, err = rt.Properties(0)
			Expect(err).To(MatchError(ErrRuntimeClosed))
		})
	})
})
