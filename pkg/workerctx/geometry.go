package workerctx

import "fmt"

// Geometry is the kernel launch configuration picked for a device generation.
type Geometry struct {
	SMVersion           string `mapstructure:"smVersion"`
	ThreadsPerBlock     int    `mapstructure:"threadsPerBlock"`
	TwoEThreadsPerBlock int    `mapstructure:"twoEThreadsPerBlock"`
	XCThreadsPerBlock   int    `mapstructure:"xcThreadsPerBlock"`
	GradThreadsPerBlock int    `mapstructure:"gradThreadsPerBlock"`
}

var (
	sm13Geometry = Geometry{
		SMVersion:           "SM_13",
		ThreadsPerBlock:     256,
		TwoEThreadsPerBlock: 256,
		XCThreadsPerBlock:   256,
		GradThreadsPerBlock: 256,
	}
	sm2xGeometry = Geometry{
		SMVersion:           "SM_2X",
		ThreadsPerBlock:     384,
		TwoEThreadsPerBlock: 384,
		XCThreadsPerBlock:   256,
		GradThreadsPerBlock: 256,
	}
)

// GeometryFor returns the launch geometry for a compute capability major
// version. Every generation from Fermi on shares the SM_2X profile.
func GeometryFor(major int) Geometry {
	if major < 2 {
		return sm13Geometry
	}
	return sm2xGeometry
}

// Validate rejects geometries a kernel launch would refuse.
func (g Geometry) Validate() error {
	for name, v := range map[string]int{
		"threadsPerBlock":     g.ThreadsPerBlock,
		"twoEThreadsPerBlock": g.TwoEThreadsPerBlock,
		"xcThreadsPerBlock":   g.XCThreadsPerBlock,
		"gradThreadsPerBlock": g.GradThreadsPerBlock,
	} {
		if v < 1 || v > 1024 {
			return fmt.Errorf("geometry %s: %s must be within [1, 1024], got %d", g.SMVersion, name, v)
		}
	}
	return nil
}
