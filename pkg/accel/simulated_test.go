package accel

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestAccel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accel Suite")
}

var _ = Describe("simulated runtime", func() {

	var rt *SimulatedRuntime

	BeforeEach(func() {
		rt = NewSimulatedRuntime([]SimulatedDevice{
			{Name: "Tesla V100-SXM2-16GB", Major: 7, Minor: 0, MemoryBytes: 16 * 1024 * MB, Multiprocessors: 80, ClockMHz: 1530},
			{Name: "Tesla T4", Major: 7, Minor: 5, MemoryBytes: 15 * 1024 * MB, Multiprocessors: 40, ClockMHz: 1590},
		})
	})

	Context("properties", func() {
		It("reports configured devices", func() {
			count, err := rt.DeviceCount()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
			p, err := rt.Properties(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(Equal("Tesla T4"))
			Expect(p.MultiprocessorCount).To(Equal(40))
			Expect(p.ClockRate).To(Equal(int64(1590 * 1000 * 1000)))
		})
		It("rejects unknown devices", func() {
			_, err := rt.Properties(2)
			Expect(errors.Is(err, ErrDeviceNotFound)).To(BeTrue())
		})
	})

	Context("binding", func() {
		It("needs a bound device before touching limits", func() {
			_, err := rt.Limit(LimitStackSize)
			Expect(err).To(MatchError(ErrNoDeviceBound))
			Expect(rt.Upload("flags", []byte{1})).To(MatchError(ErrNoDeviceBound))
		})
		It("starts from default limits and keeps overrides", func() {
			Expect(rt.SetDevice(0)).To(Succeed())
			v, err := rt.Limit(LimitStackSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(1024)))
			Expect(rt.SetLimit(LimitStackSize, 8192)).To(Succeed())
			v, _ = rt.Limit(LimitStackSize)
			Expect(v).To(Equal(uint64(8192)))
			heap, _ := rt.Limit(LimitMallocHeapSize)
			Expect(heap).To(Equal(8 * MB))
		})
		It("stages uploads as copies", func() {
			Expect(rt.SetDevice(1)).To(Succeed())
			data := []byte{1, 0, 1}
			Expect(rt.Upload("mpi_bcompute", data)).To(Succeed())
			data[0] = 0
			buf, ok := rt.Buffer("mpi_bcompute")
			Expect(ok).To(BeTrue())
			Expect(buf).To(Equal([]byte{1, 0, 1}))
		})
		It("drops everything on reset", func() {
			Expect(rt.SetDevice(0)).To(Succeed())
			Expect(rt.SetCacheConfig(PreferL1)).To(Succeed())
			Expect(rt.Upload("mpi_bcompute", []byte{1})).To(Succeed())
			Expect(rt.Reset()).To(Succeed())
			_, bound := rt.BoundDevice()
			Expect(bound).To(BeFalse())
			_, ok := rt.Buffer("mpi_bcompute")
			Expect(ok).To(BeFalse())
			Expect(rt.CacheConfig()).To(Equal(PreferNone))
		})
	})

	Context("faults", func() {
		It("returns injected errors and counts calls", func() {
			boom := errors.New("cudaErrorInvalidDevice")
			rt.InjectFault("SetDevice", boom)
			Expect(rt.SetDevice(0)).To(MatchError(boom))
			Expect(rt.Calls("SetDevice")).To(Equal(1))
		})
	})
})
