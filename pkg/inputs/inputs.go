package inputs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/fedepedron/QUICK/pkg/balancer"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Basis holds the sorted basis tables produced by the basis-set setup.
type Basis struct {
	// Kprim is the primitive count per shell.
	Kprim         []int   `yaml:"kprim"`
	SortedQ       []int   `yaml:"sortedQ"`
	SortedQNumber []int   `yaml:"sortedQNumber"`
	SortedPairs   [][]int `yaml:"sortedPairs"`
}

// Grid holds the packed exchange-correlation quadrature.
type Grid struct {
	NBins   int       `yaml:"nbins"`
	BinSize int       `yaml:"binSize"`
	Weights []float64 `yaml:"weights"`
}

// Problem is the shared, read-only input every worker loads identically.
type Problem struct {
	Basis Basis `yaml:"basis"`
	XC    Grid  `yaml:"xc"`
}

func Load(path string) (*Problem, error) {
	return LoadFs(afero.NewOsFs(), path)
}

func LoadFs(fs afero.Fs, path string) (*Problem, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Problem, error) {
	p := &Problem{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return p, nil
}

// ShellPairs builds the shell-pair universe.
func (p *Problem) ShellPairs() (balancer.ShellPairUniverse, error) {
	pairs := make([][2]int, len(p.Basis.SortedPairs))
	for i, sp := range p.Basis.SortedPairs {
		if len(sp) != 2 {
			return nil, fmt.Errorf("sorted pair %d must have 2 entries, got %d", i, len(sp))
		}
		pairs[i] = [2]int{sp[0], sp[1]}
	}
	return balancer.NewShellPairUniverse(pairs, p.Basis.SortedQ, p.Basis.SortedQNumber, p.Basis.Kprim)
}

// QuadratureGrid builds the bin universe.
func (p *Problem) QuadratureGrid() (*balancer.QuadratureGrid, error) {
	return balancer.NewQuadratureGrid(p.XC.NBins, p.XC.BinSize, p.XC.Weights)
}

// Digest fingerprints the input. Workers computing the same digest will
// compute the same partitions.
func (p *Problem) Digest() uint64 {
	d := xxhash.New()
	buf := make([]byte, 8)
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
		_, _ = d.Write(buf)
	}
	writeInts := func(vs []int) {
		writeInt(len(vs))
		for _, v := range vs {
			writeInt(v)
		}
	}
	writeInts(p.Basis.Kprim)
	writeInts(p.Basis.SortedQ)
	writeInts(p.Basis.SortedQNumber)
	writeInt(len(p.Basis.SortedPairs))
	for _, sp := range p.Basis.SortedPairs {
		writeInts(sp)
	}
	writeInt(p.XC.NBins)
	writeInt(p.XC.BinSize)
	writeInt(len(p.XC.Weights))
	for _, w := range p.XC.Weights {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(w))
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}
