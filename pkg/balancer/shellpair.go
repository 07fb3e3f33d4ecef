package balancer

import (
	"fmt"
)

// AngularType is the angular momentum class of a shell.
type AngularType int

const (
	S AngularType = iota
	P
	D
	F
)

// NumAngularTypes is the number of shell classes balanced separately.
const NumAngularTypes = 4

// NumTypePairs is the number of ordered (first, second) shell class pairs.
const NumTypePairs = NumAngularTypes * NumAngularTypes

func (t AngularType) String() string {
	switch t {
	case S:
		return "s"
	case P:
		return "p"
	case D:
		return "d"
	case F:
		return "f"
	}
	return fmt.Sprintf("l%d", int(t))
}

// TypePairName returns the label of a type pair index, e.g. "sp".
func TypePairName(idx int) string {
	return AngularType(idx/NumAngularTypes).String() + AngularType(idx%NumAngularTypes).String()
}

// ShellPair is one unit of ERI work.
type ShellPair struct {
	First       int
	Second      int
	FirstType   AngularType
	SecondType  AngularType
	FirstPrims  int
	SecondPrims int
}

// Cost is the primitive count the pair contributes to a rank.
func (p ShellPair) Cost() int {
	return p.FirstPrims + p.SecondPrims
}

// ShellPairUniverse is the sorted shell-pair list, identical on every worker.
type ShellPairUniverse []ShellPair

// NewShellPairUniverse resolves the sorted pair table against the basis
// tables: pair indices go through sortedQ to reach a shell, sortedQNumber
// gives the shell class and kprim the primitive count of the shell.
func NewShellPairUniverse(pairs [][2]int, sortedQ, sortedQNumber, kprim []int) (ShellPairUniverse, error) {
	if len(sortedQ) != len(sortedQNumber) {
		return nil, fmt.Errorf("sorted shell table length %d doesn't match shell type table length %d", len(sortedQ), len(sortedQNumber))
	}
	u := make(ShellPairUniverse, 0, len(pairs))
	for i, pair := range pairs {
		var sp ShellPair
		for k, idx := range pair {
			if idx < 0 || idx >= len(sortedQ) {
				return nil, fmt.Errorf("shell pair %d: sorted index %d out of range [0, %d)", i, idx, len(sortedQ))
			}
			shell := sortedQ[idx]
			if shell < 0 || shell >= len(kprim) {
				return nil, fmt.Errorf("shell pair %d: shell %d has no primitive count", i, shell)
			}
			typ := sortedQNumber[idx]
			if typ < 0 || typ >= NumAngularTypes {
				return nil, fmt.Errorf("shell pair %d: unsupported shell type %d", i, typ)
			}
			if k == 0 {
				sp.First, sp.FirstType, sp.FirstPrims = shell, AngularType(typ), kprim[shell]
			} else {
				sp.Second, sp.SecondType, sp.SecondPrims = shell, AngularType(typ), kprim[shell]
			}
		}
		u = append(u, sp)
	}
	return u, nil
}

// ShellPairPartition is the global assignment of shell pairs to ranks.
type ShellPairPartition struct {
	WorldSize int
	// Assigned holds universe indices per rank, in assignment order.
	Assigned [][]int
	// Flags holds one 0/1 entry per universe item per rank.
	Flags [][]byte
	// TypeCounts counts items per rank per type pair.
	TypeCounts [][NumTypePairs]int
	// TypePrimitives is the primitive count per rank per type pair.
	TypePrimitives [][NumTypePairs]int
	// Primitives is the total primitive count per rank.
	Primitives []int
}

// DistributeShellPairs assigns every shell pair to a rank. Type pairs are
// visited in row-major order and balanced independently: rank costs restart
// from zero for each type pair. Within a type pair the pair goes to the rank
// with the lowest cost so far, the lowest rank winning ties.
func DistributeShellPairs(u ShellPairUniverse, worldSize int) *ShellPairPartition {
	nitems := len(u)
	p := &ShellPairPartition{
		WorldSize:      worldSize,
		Assigned:       make([][]int, worldSize),
		Flags:          make([][]byte, worldSize),
		TypeCounts:     make([][NumTypePairs]int, worldSize),
		TypePrimitives: make([][NumTypePairs]int, worldSize),
		Primitives:     make([]int, worldSize),
	}
	for r := 0; r < worldSize; r++ {
		p.Flags[r] = make([]byte, nitems)
	}

	cost := make([]int, worldSize)
	typePair := 0
	for t1 := AngularType(0); t1 < NumAngularTypes; t1++ {
		for t2 := AngularType(0); t2 < NumAngularTypes; t2++ {
			for i, sp := range u {
				if sp.FirstType != t1 || sp.SecondType != t2 {
					continue
				}
				r := minRank(cost)
				cost[r] += sp.Cost()
				p.Primitives[r] += sp.Cost()
				p.Assigned[r] = append(p.Assigned[r], i)
				p.Flags[r][i] = 1
				p.TypeCounts[r][typePair]++
				p.TypePrimitives[r][typePair] += sp.Cost()
			}
			for r := range cost {
				cost[r] = 0
			}
			typePair++
		}
	}
	return p
}

// RankFlags returns the flag vector of rank.
func (p *ShellPairPartition) RankFlags(rank int) []byte {
	return p.Flags[rank]
}

// minRank returns the rank with the lowest cost, rank 0 first and replaced
// only on a strictly smaller cost.
func minRank(cost []int) int {
	best, bestCost := 0, cost[0]
	for r := 1; r < len(cost); r++ {
		if cost[r] < bestCost {
			best, bestCost = r, cost[r]
		}
	}
	return best
}
