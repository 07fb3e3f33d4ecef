package balancer

import "fmt"

// QuadratureGrid is the packed XC grid: NBins bins of BinSize points each.
// A point is active when its weight is positive.
type QuadratureGrid struct {
	NBins   int
	BinSize int
	Weights []float64
}

func NewQuadratureGrid(nbins, binSize int, weights []float64) (*QuadratureGrid, error) {
	if nbins < 0 || binSize < 1 {
		return nil, fmt.Errorf("invalid quadrature grid: nbins=%d bin_size=%d", nbins, binSize)
	}
	if len(weights) != nbins*binSize {
		return nil, fmt.Errorf("quadrature grid expects %d weights (nbins=%d bin_size=%d), got %d",
			nbins*binSize, nbins, binSize, len(weights))
	}
	return &QuadratureGrid{NBins: nbins, BinSize: binSize, Weights: weights}, nil
}

// NPoints is the packed point count, always a multiple of BinSize.
func (g *QuadratureGrid) NPoints() int {
	return g.NBins * g.BinSize
}

// ActivePoints counts the active points of every bin.
func (g *QuadratureGrid) ActivePoints() []int {
	tpoints := make([]int, g.NBins)
	for i := 0; i < g.NBins; i++ {
		for j := 0; j < g.BinSize; j++ {
			if g.Weights[i*g.BinSize+j] > 0 {
				tpoints[i]++
			}
		}
	}
	return tpoints
}

// PointRange is a half open [Start, End) range of grid points.
type PointRange struct {
	Start int
	End   int
}

func (r PointRange) Len() int {
	return r.End - r.Start
}

// NaiveBinPartition splits bins by count into contiguous ranges.
type NaiveBinPartition struct {
	WorldSize   int
	BinSize     int
	Dividend    int
	Remainder   int
	BinsPerRank []int
}

// DistributeBinsNaive gives every rank nbins/worldSize bins and hands the
// remainder out one bin at a time starting from rank 0.
func DistributeBinsNaive(nbins, binSize, worldSize int) *NaiveBinPartition {
	dividend := nbins / worldSize
	remainder := nbins - dividend*worldSize
	p := &NaiveBinPartition{
		WorldSize:   worldSize,
		BinSize:     binSize,
		Dividend:    dividend,
		Remainder:   remainder,
		BinsPerRank: make([]int, worldSize),
	}
	for r := range p.BinsPerRank {
		p.BinsPerRank[r] = dividend
	}
	left := remainder
	for left > 0 {
		for r := 0; r < worldSize && left > 0; r++ {
			p.BinsPerRank[r]++
			left--
		}
	}
	return p
}

// Range returns the grid points owned by rank.
func (p *NaiveBinPartition) Range(rank int) PointRange {
	if rank == 0 {
		return PointRange{Start: 0, End: p.BinsPerRank[0] * p.BinSize}
	}
	count := 0
	for r := 0; r < rank; r++ {
		count += p.BinsPerRank[r]
	}
	return PointRange{
		Start: count * p.BinSize,
		End:   (count + p.BinsPerRank[rank]) * p.BinSize,
	}
}

// GreedyBinPartition assigns bins by active point count.
type GreedyBinPartition struct {
	WorldSize int
	// TruePoints is the active point count per bin.
	TruePoints []int
	// Flags holds one 0/1 entry per bin per rank.
	Flags [][]byte
	// PointsPerRank is the active point total per rank.
	PointsPerRank []int
	// BinsPerRank is the number of bins per rank.
	BinsPerRank []int
}

// DistributeBinsGreedy scans bins in order and gives each to the rank
// holding the fewest active points so far, the lowest rank winning ties.
func DistributeBinsGreedy(g *QuadratureGrid, worldSize int) *GreedyBinPartition {
	p := &GreedyBinPartition{
		WorldSize:     worldSize,
		TruePoints:    g.ActivePoints(),
		Flags:         make([][]byte, worldSize),
		PointsPerRank: make([]int, worldSize),
		BinsPerRank:   make([]int, worldSize),
	}
	for r := 0; r < worldSize; r++ {
		p.Flags[r] = make([]byte, g.NBins)
	}
	for i, tp := range p.TruePoints {
		r := minRank(p.PointsPerRank)
		p.PointsPerRank[r] += tp
		p.BinsPerRank[r]++
		p.Flags[r][i] = 1
	}
	return p
}

// RankFlags returns the flag vector of rank.
func (p *GreedyBinPartition) RankFlags(rank int) []byte {
	return p.Flags[rank]
}
