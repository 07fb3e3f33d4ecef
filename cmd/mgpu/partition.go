package main

import (
	"fmt"
	"strings"

	"github.com/fedepedron/QUICK/pkg/balancer"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var partitionCmd = &cobra.Command{
	Use:     "partition",
	Aliases: []string{"p"},
	Short:   "compute the shell pair and quadrature bin partitions of every rank offline",
	Run: func(cmd *cobra.Command, args []string) {
		worldSize := viper.GetInt(flagWorldSize)
		if worldSize < 1 {
			log.Fatalf("world size must be positive, got %d", worldSize)
		}
		problem := loadProblem()
		u, err := problem.ShellPairs()
		if err != nil {
			log.Fatal(err)
		}
		g, err := problem.QuadratureGrid()
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("input digest: %x", problem.Digest())

		printTable(shellPairTable(balancer.DistributeShellPairs(u, worldSize), len(u)))
		printTable(naiveBinTable(balancer.DistributeBinsNaive(g.NBins, g.BinSize, worldSize)))
		printTable(greedyBinTable(balancer.DistributeBinsGreedy(g, worldSize), g.NBins))
	},
}

func printTable(to *TableOutput) {
	to.buildTable()
	to.print()
}

func shellPairTable(p *balancer.ShellPairPartition, nitems int) *TableOutput {
	to := &TableOutput{title: "shell pairs"}
	to.header = table.Row{"Rank", "Pairs", "Primitives", "Type pairs"}
	total := 0
	for r := 0; r < p.WorldSize; r++ {
		var types []string
		for tp := 0; tp < balancer.NumTypePairs; tp++ {
			if n := p.TypeCounts[r][tp]; n > 0 {
				types = append(types, fmt.Sprintf("%s:%d", balancer.TypePairName(tp), n))
			}
		}
		if len(types) == 0 {
			types = append(types, "-")
		}
		to.body = append(to.body, table.Row{r, len(p.Assigned[r]), p.Primitives[r], strings.Join(types, " ")})
		total += p.Primitives[r]
	}
	to.footer = table.Row{p.WorldSize, nitems, total, fmt.Sprintf("imbalance %.3f", p.Imbalance())}
	return to
}

func naiveBinTable(p *balancer.NaiveBinPartition) *TableOutput {
	to := &TableOutput{title: "quadrature bins (naive)"}
	to.header = table.Row{"Rank", "Bins", "Start", "End", "Points"}
	bins := 0
	for r := 0; r < p.WorldSize; r++ {
		rg := p.Range(r)
		to.body = append(to.body, table.Row{r, p.BinsPerRank[r], rg.Start, rg.End, rg.Len()})
		bins += p.BinsPerRank[r]
	}
	to.footer = table.Row{p.WorldSize, bins, fmt.Sprintf("imbalance %.3f", p.Imbalance()), "", bins * p.BinSize}
	return to
}

func greedyBinTable(p *balancer.GreedyBinPartition, nbins int) *TableOutput {
	to := &TableOutput{title: "quadrature bins (greedy)"}
	to.header = table.Row{"Rank", "Bins", "Active points"}
	points := 0
	for r := 0; r < p.WorldSize; r++ {
		to.body = append(to.body, table.Row{r, p.BinsPerRank[r], p.PointsPerRank[r]})
		points += p.PointsPerRank[r]
	}
	to.footer = table.Row{p.WorldSize, nbins, fmt.Sprintf("%d (imbalance %.3f)", points, p.Imbalance())}
	return to
}
