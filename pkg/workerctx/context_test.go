package workerctx_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fedepedron/QUICK/pkg/accel"
	"github.com/fedepedron/QUICK/pkg/balancer"
	"github.com/fedepedron/QUICK/pkg/catalog"
	"github.com/fedepedron/QUICK/pkg/workerctx"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestWorkerContext(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Context Suite")
}

const GB = 1000 * 1000 * 1000

func volta(name string) accel.SimulatedDevice {
	return accel.SimulatedDevice{Name: name, Major: 7, Minor: 0, MemoryBytes: 16 * GB, Multiprocessors: 80, ClockMHz: 1530}
}

type loads struct {
	pairs      map[int]int
	bins       map[string]map[int]int
	points     map[int]int
	rangeLens  map[int]int
	deviceMems map[int]int
}

func newLoads() *loads {
	return &loads{
		pairs:      map[int]int{},
		bins:       map[string]map[int]int{"naive": {}, "greedy": {}},
		points:     map[int]int{},
		rangeLens:  map[int]int{},
		deviceMems: map[int]int{},
	}
}

func (l *loads) SetDeviceMemory(rank, _ int, _ string, memoryMB int) { l.deviceMems[rank] = memoryMB }
func (l *loads) SetShellPairs(rank, pairs, _ int)                    { l.pairs[rank] = pairs }
func (l *loads) SetTypePairPrimitives(int, string, int)              {}
func (l *loads) SetBins(rank int, strategy string, bins int)         { l.bins[strategy][rank] = bins }
func (l *loads) SetActivePoints(rank, points int)                    { l.points[rank] = points }
func (l *loads) SetPointRange(rank, length int)                      { l.rangeLens[rank] = length }

var universe = balancer.ShellPairUniverse{
	{FirstType: balancer.S, SecondType: balancer.S, FirstPrims: 1, SecondPrims: 1},
	{FirstType: balancer.S, SecondType: balancer.P, FirstPrims: 1, SecondPrims: 3},
	{FirstType: balancer.S, SecondType: balancer.S, FirstPrims: 3, SecondPrims: 3},
	{FirstType: balancer.S, SecondType: balancer.S, FirstPrims: 1, SecondPrims: 1},
	{FirstType: balancer.S, SecondType: balancer.P, FirstPrims: 1, SecondPrims: 3},
}

var _ = Describe("worker context", func() {

	var (
		rt  *accel.SimulatedRuntime
		cat *catalog.Catalog
		dir string
	)

	BeforeEach(func() {
		var err error
		rt = accel.NewSimulatedRuntime([]accel.SimulatedDevice{volta("a"), volta("b")})
		cat, err = catalog.Enumerate(rt, 2, nil)
		Expect(err).NotTo(HaveOccurred())
		dir, err = os.MkdirTemp("", "mgpu-worker")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Context("initialize", func() {

		It("binds and configures the device", func() {
			c, err := workerctx.Startup(1, cat, rt, workerctx.Options{DebugDir: dir})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 1)).To(Succeed())

			id, bound := rt.BoundDevice()
			Expect(bound).To(BeTrue())
			Expect(id).To(Equal(1))
			Expect(rt.CacheConfig()).To(Equal(accel.PreferL1))
			Expect(c.Limits[accel.LimitStackSize]).To(Equal(workerctx.DefaultStackSize))
			Expect(c.Limits[accel.LimitPrintfFifoSize]).To(Equal(1 * accel.MB))
			Expect(c.Limits[accel.LimitMallocHeapSize]).To(Equal(8 * accel.MB))
			Expect(c.Blocks).To(Equal(80))
			Expect(c.Geometry).To(Equal(workerctx.GeometryFor(7)))
			Expect(c.Properties.Name).To(Equal("b"))
			Expect(c.Shutdown()).To(Succeed())

			data, err := os.ReadFile(filepath.Join(dir, "debug.mgpu.1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("worker started"))
			Expect(string(data)).To(ContainSubstring("device initialized"))
			Expect(string(data)).To(ContainSubstring("worker stopped"))
		})

		It("applies the configured stack size and geometry", func() {
			g := workerctx.Geometry{SMVersion: "custom", ThreadsPerBlock: 128, TwoEThreadsPerBlock: 128, XCThreadsPerBlock: 64, GradThreadsPerBlock: 64}
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{StackSize: 4096, Geometry: &g})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 0)).To(Succeed())
			Expect(c.Limits[accel.LimitStackSize]).To(Equal(uint64(4096)))
			Expect(c.Geometry).To(Equal(g))
		})

		It("rejects an invalid geometry", func() {
			_, err := workerctx.Startup(0, cat, rt, workerctx.Options{Geometry: &workerctx.Geometry{SMVersion: "bad", ThreadsPerBlock: 2048}})
			Expect(err).To(HaveOccurred())
		})

		It("falls back to the default block count", func() {
			d := volta("no-sm")
			d.Multiprocessors = 0
			rt = accel.NewSimulatedRuntime([]accel.SimulatedDevice{d})
			cat, err := catalog.Enumerate(rt, 1, nil)
			Expect(err).NotTo(HaveOccurred())
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{DefaultBlocks: 16})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(1, 0)).To(Succeed())
			Expect(c.Blocks).To(Equal(16))
		})

		It("rejects devices outside the catalog and releases the runtime", func() {
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{DebugDir: dir})
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(c.Initialize(2, 5), workerctx.ErrDeviceNotInCatalog)).To(BeTrue())
			Expect(rt.Calls("Reset")).To(Equal(1))
			Expect(rt.Calls("SetDevice")).To(Equal(0))
			Expect(c.Initialize(2, 0)).To(Equal(workerctx.ErrNotStarted))

			data, err := os.ReadFile(filepath.Join(dir, "debug.mgpu.0"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("worker stopped"))
		})

		It("rejects a world size the catalog doesn't cover", func() {
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			err = c.Initialize(3, 0)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, workerctx.ErrDeviceNotInCatalog)).To(BeFalse())
			Expect(rt.Calls("Reset")).To(Equal(1))
		})

		It("rejects a rank outside the world", func() {
			c, err := workerctx.Startup(2, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(c.Initialize(2, 0), catalog.ErrInvalidRank)).To(BeTrue())
			Expect(rt.Calls("Reset")).To(Equal(1))
			_, err = c.DistributeShellPairs(universe)
			Expect(err).To(Equal(workerctx.ErrNotStarted))
			_, err = workerctx.Startup(-1, cat, rt, workerctx.Options{})
			Expect(errors.Is(err, catalog.ErrInvalidRank)).To(BeTrue())
		})

		It("releases the runtime when binding fails", func() {
			rt.InjectFault("SetDevice", errors.New("device busy"))
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 0)).To(HaveOccurred())
			Expect(rt.Calls("Reset")).To(Equal(1))
			_, err = c.DistributeShellPairs(universe)
			Expect(err).To(Equal(workerctx.ErrNotStarted))
		})

		It("releases the runtime when properties can't be read", func() {
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			rt.InjectFault("Properties", errors.New("lost device"))
			Expect(c.Initialize(2, 0)).To(HaveOccurred())
			Expect(rt.Calls("Reset")).To(Equal(1))
		})

		It("tolerates cache and limit failures", func() {
			rt.InjectFault("SetCacheConfig", errors.New("not supported"))
			rt.InjectFault("Limit", errors.New("not supported"))
			rt.InjectFault("SetLimit", errors.New("not supported"))
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 0)).To(Succeed())
			Expect(c.Limits).To(BeEmpty())
			Expect(rt.Calls("Reset")).To(Equal(0))
		})

		It("shares a single device across workers", func() {
			rt = accel.NewSimulatedRuntime([]accel.SimulatedDevice{volta("only")})
			cat, err := catalog.Enumerate(rt, 4, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.IDs()).To(Equal([]int{0, 0, 0, 0}))
			c, err := workerctx.Startup(3, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(4, cat.IDs()[3])).To(Succeed())
			Expect(c.DeviceID).To(Equal(0))
		})
	})

	Context("ordering", func() {

		It("refuses to partition before initialize", func() {
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.DistributeShellPairs(universe)
			Expect(err).To(Equal(workerctx.ErrNotInitialized))
			_, err = c.DistributeBinsNaive(&balancer.QuadratureGrid{NBins: 1, BinSize: 1, Weights: []float64{1}})
			Expect(err).To(Equal(workerctx.ErrNotInitialized))
			Expect(rt.Calls("Upload")).To(Equal(0))
		})

		It("shuts down once", func() {
			c, err := workerctx.Startup(0, cat, rt, workerctx.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 0)).To(Succeed())
			Expect(c.Shutdown()).To(Succeed())
			Expect(c.Shutdown()).To(Succeed())
			Expect(rt.Calls("Reset")).To(Equal(1))
			Expect(c.Initialize(2, 0)).To(Equal(workerctx.ErrNotStarted))
		})

		It("stops before any partitioner when no device is visible", func() {
			rt = accel.NewSimulatedRuntime(nil)
			_, err := catalog.Enumerate(rt, 2, nil)
			Expect(err).To(Equal(catalog.ErrNoDevicesVisible))
			Expect(rt.Calls("Reset")).To(Equal(1))
			Expect(rt.Calls("SetDevice")).To(Equal(0))
			Expect(rt.Calls("Upload")).To(Equal(0))
		})
	})

	Context("distribute", func() {

		var (
			c   *workerctx.Context
			rec *loads
		)

		BeforeEach(func() {
			var err error
			rec = newLoads()
			c, err = workerctx.Startup(1, cat, rt, workerctx.Options{Recorder: rec})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Initialize(2, 1)).To(Succeed())
			Expect(rec.deviceMems[1]).To(Equal(int(16 * GB / accel.MB)))
		})

		It("uploads the shell pair flags of the rank", func() {
			p, err := c.DistributeShellPairs(universe)
			Expect(err).NotTo(HaveOccurred())
			buf, ok := rt.Buffer(workerctx.ShellPairBuffer)
			Expect(ok).To(BeTrue())
			Expect(buf).To(Equal([]byte{0, 0, 1, 0, 1}))
			Expect(buf).To(Equal(p.RankFlags(1)))
			Expect(rec.pairs).To(Equal(map[int]int{0: 3, 1: 2}))
		})

		It("records the naive point range", func() {
			g, err := balancer.NewQuadratureGrid(10, 4, make([]float64, 40))
			Expect(err).NotTo(HaveOccurred())
			p, err := c.DistributeBinsNaive(g)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.BinsPerRank).To(Equal([]int{5, 5}))
			Expect(*c.XCRange).To(Equal(balancer.PointRange{Start: 20, End: 40}))
			Expect(rec.rangeLens).To(Equal(map[int]int{0: 20, 1: 20}))
			_, ok := rt.Buffer(workerctx.XCBinBuffer)
			Expect(ok).To(BeFalse())
		})

		It("uploads the greedy bin flags of the rank", func() {
			g, err := balancer.NewQuadratureGrid(4, 2, []float64{1, 1, 0, 0, 1, 0, 1, 0})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.DistributeBinsGreedy(g)
			Expect(err).NotTo(HaveOccurred())
			buf, ok := rt.Buffer(workerctx.XCBinBuffer)
			Expect(ok).To(BeTrue())
			Expect(buf).To(Equal([]byte{0, 1, 1, 1}))
			Expect(rec.points).To(Equal(map[int]int{0: 2, 1: 2}))
			Expect(rec.bins["greedy"]).To(Equal(map[int]int{0: 1, 1: 3}))
		})

		It("reports upload failures", func() {
			rt.InjectFault("Upload", errors.New("out of memory"))
			_, err := c.DistributeShellPairs(universe)
			Expect(err).To(HaveOccurred())
		})
	})
})
