package workerctx

import (
	"fmt"

	"github.com/fedepedron/QUICK/pkg/balancer"
	log "github.com/sirupsen/logrus"
)

// DistributeShellPairs computes the shell pair partition for the whole world
// and uploads the flags of this rank.
func (c *Context) DistributeShellPairs(u balancer.ShellPairUniverse) (*balancer.ShellPairPartition, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	p := balancer.DistributeShellPairs(u, c.WorldSize)
	if err := c.rt.Upload(ShellPairBuffer, p.RankFlags(c.Rank)); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", ShellPairBuffer, err)
	}

	for tp := 0; tp < balancer.NumTypePairs; tp++ {
		if p.TypeCounts[c.Rank][tp] == 0 {
			continue
		}
		c.diag.WithFields(log.Fields{
			"typePair":   balancer.TypePairName(tp),
			"pairs":      p.TypeCounts[c.Rank][tp],
			"primitives": p.TypePrimitives[c.Rank][tp],
		}).Debug("shell pairs assigned")
	}
	c.diag.WithFields(log.Fields{
		"rank":       c.Rank,
		"pairs":      len(p.Assigned[c.Rank]),
		"universe":   len(u),
		"primitives": p.Primitives[c.Rank],
	}).Info("shell pair partition uploaded")

	if c.opts.Recorder != nil {
		for r := 0; r < c.WorldSize; r++ {
			c.opts.Recorder.SetShellPairs(r, len(p.Assigned[r]), p.Primitives[r])
			for tp := 0; tp < balancer.NumTypePairs; tp++ {
				c.opts.Recorder.SetTypePairPrimitives(r, balancer.TypePairName(tp), p.TypePrimitives[r][tp])
			}
		}
	}
	return p, nil
}

// DistributeBinsNaive splits the grid by bin count and records the point
// range of this rank.
func (c *Context) DistributeBinsNaive(g *balancer.QuadratureGrid) (*balancer.NaiveBinPartition, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	p := balancer.DistributeBinsNaive(g.NBins, g.BinSize, c.WorldSize)
	rg := p.Range(c.Rank)
	c.XCRange = &rg

	c.diag.WithFields(log.Fields{
		"rank":      c.Rank,
		"dividend":  p.Dividend,
		"remainder": p.Remainder,
		"bins":      p.BinsPerRank[c.Rank],
		"start":     rg.Start,
		"end":       rg.End,
	}).Info("quadrature point range assigned")

	if c.opts.Recorder != nil {
		for r := 0; r < c.WorldSize; r++ {
			c.opts.Recorder.SetBins(r, "naive", p.BinsPerRank[r])
			c.opts.Recorder.SetPointRange(r, p.Range(r).Len())
		}
	}
	return p, nil
}

// DistributeBinsGreedy balances bins by active point count and uploads the
// flags of this rank.
func (c *Context) DistributeBinsGreedy(g *balancer.QuadratureGrid) (*balancer.GreedyBinPartition, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	p := balancer.DistributeBinsGreedy(g, c.WorldSize)
	if err := c.rt.Upload(XCBinBuffer, p.RankFlags(c.Rank)); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", XCBinBuffer, err)
	}

	c.diag.WithFields(log.Fields{
		"rank":   c.Rank,
		"bins":   p.BinsPerRank[c.Rank],
		"nbins":  g.NBins,
		"points": p.PointsPerRank[c.Rank],
	}).Info("quadrature bin partition uploaded")

	if c.opts.Recorder != nil {
		for r := 0; r < c.WorldSize; r++ {
			c.opts.Recorder.SetBins(r, "greedy", p.BinsPerRank[r])
			c.opts.Recorder.SetActivePoints(r, p.PointsPerRank[r])
		}
	}
	return p, nil
}
