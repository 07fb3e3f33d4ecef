package balancer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Imbalance is the heaviest rank load over the mean rank load. A perfectly
// balanced partition, an empty one included, scores 1.
func Imbalance(loads []int) float64 {
	if len(loads) == 0 {
		return 1
	}
	xs := make([]float64, len(loads))
	for i, l := range loads {
		xs[i] = float64(l)
	}
	mean := stat.Mean(xs, nil)
	if mean == 0 {
		return 1
	}
	return floats.Max(xs) / mean
}

// Imbalance of the primitive totals.
func (p *ShellPairPartition) Imbalance() float64 {
	return Imbalance(p.Primitives)
}

// Imbalance of the bin counts.
func (p *NaiveBinPartition) Imbalance() float64 {
	return Imbalance(p.BinsPerRank)
}

// Imbalance of the active point totals.
func (p *GreedyBinPartition) Imbalance() float64 {
	return Imbalance(p.PointsPerRank)
}
