package main

import (
	"context"
	"time"

	"github.com/fedepedron/QUICK/pkg/accel"
	"github.com/fedepedron/QUICK/pkg/catalog"
	"github.com/fedepedron/QUICK/pkg/coord"
	"github.com/fedepedron/QUICK/pkg/inputs"
	"github.com/fedepedron/QUICK/pkg/metrics"
	"github.com/fedepedron/QUICK/pkg/workerctx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	xcNaive  = "naive"
	xcGreedy = "greedy"
)

var workerParams = []param{
	{name: flagRank, shorthand: flagRankS, value: 0, usage: "rank of this worker, 0 is the lead"},
	{name: flagCoordAddr, shorthand: "", value: "0.0.0.0:50061", usage: "listen address of the coordination server on the lead"},
	{name: flagMetricsAddr, shorthand: "", value: "", usage: "listen address of the metrics endpoint, empty disables it"},
	{name: flagXCStrategy, shorthand: "", value: xcGreedy, usage: "quadrature bin partitioner, one of: naive|greedy"},
}

var workerCmd = &cobra.Command{
	Use:     "worker",
	Aliases: []string{"w"},
	Short:   "bind a device and compute the work partitions of one rank",
	Run: func(cmd *cobra.Command, args []string) {
		runWorker(viper.GetInt(flagRank), viper.GetInt(flagWorldSize))
	},
}

func coordTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(viper.GetInt(flagCoordTimeout))*time.Second)
}

func runWorker(rank, worldSize int) {
	if rank < 0 || rank >= worldSize {
		log.Fatalf("rank %d outside of world size %d", rank, worldSize)
	}
	strategy := viper.GetString(flagXCStrategy)
	if strategy != xcNaive && strategy != xcGreedy {
		log.Fatalf("unknown xc strategy: %s, expected one of: %s|%s", strategy, xcNaive, xcGreedy)
	}
	problem := loadProblem()
	digest := problem.Digest()
	rt := newRuntime()

	var (
		cat *catalog.Catalog
		srv *coord.Server
	)
	if rank == 0 {
		cat = enumerate(rt)
		srv = coord.NewServer(cat, digest, viper.GetString(flagCoordSecret))
		if _, err := srv.Start(viper.GetString(flagCoordAddr)); err != nil {
			releaseAndFatalf(rt, "failed to start coordination server, err: %s", err)
		}
	} else {
		cat = fetchCatalog(rt, rank, digest)
	}

	rec := metrics.NewRecorder()
	rec.SetCatalogDevices(cat.Count())
	if addr := viper.GetString(flagMetricsAddr); addr != "" {
		rec.Serve(addr)
	}

	opts := workerOptions()
	opts.Recorder = rec
	wc, err := workerctx.Startup(rank, cat, rt, opts)
	if err != nil {
		releaseAndFatalf(rt, "worker startup failed, err: %s", err)
	}
	d, err := cat.Descriptor(rank)
	if err != nil {
		shutdownAndFatalf(wc, "%s", err)
	}
	if err := wc.Initialize(worldSize, d.ID); err != nil {
		// Initialize released the device already
		log.Fatalf("device initialization failed, err: %s", err)
	}
	log.Infof("rank %d bound to device %d (%s), blocks: %d, geometry: %s",
		rank, d.ID, wc.Properties.Name, wc.Blocks, wc.Geometry.SMVersion)

	distribute(wc, problem, strategy)

	if srv != nil {
		ctx, cancel := coordTimeout()
		if err := srv.WaitForWorkers(ctx); err != nil {
			log.Warnf("not every worker fetched the device list, err: %s", err)
		}
		cancel()
		srv.Stop()
	}
	if err := wc.Shutdown(); err != nil {
		log.Errorf("failed to release device, err: %s", err)
	}
	log.Info("bye bye 👋")
}

func fetchCatalog(rt accel.Runtime, rank int, digest uint64) *catalog.Catalog {
	ctx, cancel := coordTimeout()
	defer cancel()
	c, err := coord.Dial(ctx, viper.GetString(flagLeadAddr))
	if err != nil {
		releaseAndFatalf(rt, "can't initiate connection to the lead, err: %s", err)
	}
	defer c.Close()
	if secret := viper.GetString(flagCoordSecret); secret != "" {
		token, err := coord.WorkerToken(secret, rank)
		if err != nil {
			releaseAndFatalf(rt, "failed to sign worker token, err: %s", err)
		}
		c.SetToken(token)
	}
	cat, err := c.FetchDevices(ctx, rank, digest)
	if err != nil {
		releaseAndFatalf(rt, "failed to fetch the device list, err: %s", err)
	}
	if cat.Count() != viper.GetInt(flagWorldSize) {
		releaseAndFatalf(rt, "lead runs %d workers, this worker expects %d", cat.Count(), viper.GetInt(flagWorldSize))
	}
	return cat
}

func distribute(wc *workerctx.Context, problem *inputs.Problem, strategy string) {
	u, err := problem.ShellPairs()
	if err != nil {
		shutdownAndFatalf(wc, "wrong shell pair input, err: %s", err)
	}
	sp, err := wc.DistributeShellPairs(u)
	if err != nil {
		shutdownAndFatalf(wc, "%s", err)
	}
	log.Infof("shell pairs: %d of %d, primitives: %d", len(sp.Assigned[wc.Rank]), len(u), sp.Primitives[wc.Rank])

	g, err := problem.QuadratureGrid()
	if err != nil {
		shutdownAndFatalf(wc, "wrong quadrature grid input, err: %s", err)
	}
	switch strategy {
	case xcNaive:
		p, err := wc.DistributeBinsNaive(g)
		if err != nil {
			shutdownAndFatalf(wc, "%s", err)
		}
		log.Infof("quadrature bins: %d of %d, points: [%d, %d)", p.BinsPerRank[wc.Rank], g.NBins, wc.XCRange.Start, wc.XCRange.End)
	case xcGreedy:
		p, err := wc.DistributeBinsGreedy(g)
		if err != nil {
			shutdownAndFatalf(wc, "%s", err)
		}
		log.Infof("quadrature bins: %d of %d, active points: %d", p.BinsPerRank[wc.Rank], g.NBins, p.PointsPerRank[wc.Rank])
	}
}

func releaseAndFatalf(rt accel.Runtime, format string, args ...interface{}) {
	if err := rt.Reset(); err != nil {
		log.Errorf("failed to release device runtime, err: %s", err)
	}
	log.Fatalf(format, args...)
}

func shutdownAndFatalf(wc *workerctx.Context, format string, args ...interface{}) {
	if err := wc.Shutdown(); err != nil {
		log.Errorf("failed to release device, err: %s", err)
	}
	log.Fatalf(format, args...)
}
