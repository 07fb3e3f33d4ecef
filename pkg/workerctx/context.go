package workerctx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fedepedron/QUICK/pkg/accel"
	"github.com/fedepedron/QUICK/pkg/balancer"
	"github.com/fedepedron/QUICK/pkg/catalog"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultStackSize uint64 = 8192
	// ShellPairBuffer holds the shell pair flags of the bound rank.
	ShellPairBuffer = "mpi_bcompute"
	// XCBinBuffer holds the quadrature bin flags of the bound rank.
	XCBinBuffer = "mpi_bxccompute"
)

var (
	ErrNotStarted         = errors.New("worker context not started")
	ErrNotInitialized     = errors.New("worker context not initialized")
	ErrDeviceNotInCatalog = errors.New("device is not a member of the device catalog")
)

// Recorder receives the load of every rank once a partition is computed.
type Recorder interface {
	SetDeviceMemory(rank, deviceID int, name string, memoryMB int)
	SetShellPairs(rank, pairs, primitives int)
	SetTypePairPrimitives(rank int, typePair string, primitives int)
	SetBins(rank int, strategy string, bins int)
	SetActivePoints(rank, points int)
	SetPointRange(rank, length int)
}

type Options struct {
	// DebugDir receives the debug.mgpu.<rank> file, none is written when empty.
	DebugDir  string    `mapstructure:"debugDir"`
	StackSize uint64    `mapstructure:"stackSize"`
	Geometry  *Geometry `mapstructure:"geometry"`
	// DefaultBlocks is used when the driver doesn't report a multiprocessor count.
	DefaultBlocks int      `mapstructure:"defaultBlocks"`
	Recorder      Recorder `mapstructure:"-"`
}

// Context is the per-process device state of one worker.
type Context struct {
	Rank       int
	WorldSize  int
	DeviceID   int
	Properties *accel.Properties
	Blocks     int
	Geometry   Geometry
	Limits     map[accel.Limit]uint64
	// XCRange is set once the naive bin partition ran.
	XCRange *balancer.PointRange

	rt          accel.Runtime
	cat         *catalog.Catalog
	opts        Options
	diag        *log.Logger
	diagFile    *os.File
	initialized bool
	closed      bool
}

// Startup allocates the worker context of rank. No device is bound yet.
func Startup(rank int, cat *catalog.Catalog, rt accel.Runtime, opts Options) (*Context, error) {
	if rt == nil {
		return nil, errors.New("device runtime is required")
	}
	if cat == nil {
		return nil, errors.New("device catalog is required")
	}
	if rank < 0 {
		return nil, fmt.Errorf("rank %d: %w", rank, catalog.ErrInvalidRank)
	}
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.DefaultBlocks < 1 {
		opts.DefaultBlocks = 1
	}
	if opts.Geometry != nil {
		if err := opts.Geometry.Validate(); err != nil {
			return nil, err
		}
	}
	c := &Context{
		Rank:     rank,
		DeviceID: -1,
		Limits:   make(map[accel.Limit]uint64),
		rt:       rt,
		cat:      cat,
		opts:     opts,
	}
	if err := c.openDiag(); err != nil {
		return nil, err
	}
	c.diag.WithFields(currentProcess().fields()).WithField("rank", rank).Info("worker started")
	return c, nil
}

func (c *Context) openDiag() error {
	c.diag = log.New()
	c.diag.SetLevel(log.DebugLevel)
	c.diag.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	if c.opts.DebugDir == "" {
		c.diag.SetOutput(io.Discard)
		return nil
	}
	path := filepath.Join(c.opts.DebugDir, fmt.Sprintf("debug.mgpu.%d", c.Rank))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open diagnostic file %s: %w", path, err)
	}
	c.diagFile = f
	c.diag.SetOutput(f)
	return nil
}

// Initialize binds deviceID to the process and configures it. Every failure
// releases the runtime and closes the context, so the worker can only exit.
// Cache and limit failures are only logged.
func (c *Context) Initialize(worldSize, deviceID int) error {
	if c.closed {
		return ErrNotStarted
	}
	if worldSize < 1 || c.Rank >= worldSize {
		return c.fatal(fmt.Errorf("rank %d of world size %d: %w", c.Rank, worldSize, catalog.ErrInvalidRank))
	}
	if c.cat.Count() != worldSize {
		return c.fatal(fmt.Errorf("device catalog holds %d devices for world size %d", c.cat.Count(), worldSize))
	}
	if !c.cat.Contains(deviceID) {
		return c.fatal(fmt.Errorf("device %d: %w", deviceID, ErrDeviceNotInCatalog))
	}
	c.WorldSize = worldSize
	c.DeviceID = deviceID

	if err := c.rt.SetDevice(deviceID); err != nil {
		return c.fatal(fmt.Errorf("failed to bind device %d: %w", deviceID, err))
	}
	props, err := c.rt.Properties(deviceID)
	if err != nil {
		return c.fatal(fmt.Errorf("failed to read device %d properties: %w", deviceID, err))
	}
	c.Properties = props
	if err := c.rt.Synchronize(); err != nil {
		c.diag.Warnf("device synchronize failed: %s", err)
	}
	if err := c.rt.SetCacheConfig(accel.PreferL1); err != nil {
		c.diag.Warnf("failed to prefer L1 cache: %s", err)
	}

	for _, l := range []accel.Limit{accel.LimitStackSize, accel.LimitPrintfFifoSize, accel.LimitMallocHeapSize} {
		c.queryLimit(l)
	}
	if err := c.rt.SetLimit(accel.LimitStackSize, c.opts.StackSize); err != nil {
		c.diag.Warnf("failed to set stack size to %d: %s", c.opts.StackSize, err)
	}
	c.queryLimit(accel.LimitStackSize)

	c.Blocks = props.MultiprocessorCount
	if c.Blocks < 1 {
		c.Blocks = c.opts.DefaultBlocks
		log.Warnf("device %d doesn't report a multiprocessor count, using %d blocks", deviceID, c.Blocks)
	}
	if c.opts.Geometry != nil {
		c.Geometry = *c.opts.Geometry
	} else {
		c.Geometry = GeometryFor(props.Major)
	}

	c.diag.WithFields(log.Fields{
		"rank":         c.Rank,
		"worldSize":    worldSize,
		"deviceId":     deviceID,
		"device":       props.Name,
		"sm":           fmt.Sprintf("%d.%d", props.Major, props.Minor),
		"memoryMB":     props.TotalMemory / accel.MB,
		"blocks":       c.Blocks,
		"geometry":     c.Geometry.SMVersion,
		"threadsBlock": c.Geometry.ThreadsPerBlock,
	}).Info("device initialized")
	if c.opts.Recorder != nil {
		c.opts.Recorder.SetDeviceMemory(c.Rank, deviceID, props.Name, int(props.TotalMemory/accel.MB))
	}
	c.initialized = true
	return nil
}

func (c *Context) queryLimit(l accel.Limit) {
	v, err := c.rt.Limit(l)
	if err != nil {
		c.diag.Warnf("failed to query %s: %s", l, err)
		return
	}
	c.Limits[l] = v
	c.diag.Debugf("%s: %d", l, v)
}

// fatal runs the cleanup path and hands err back to the caller.
func (c *Context) fatal(err error) error {
	c.diag.Error(err)
	if e := c.Shutdown(); e != nil {
		log.Errorf("cleanup after fatal error failed, err: %s", e)
	}
	return err
}

// Shutdown releases the device and closes the diagnostic stream. Repeated
// calls are no-ops.
func (c *Context) Shutdown() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.initialized = false
	err := c.rt.Reset()
	if err != nil {
		c.diag.Errorf("device reset failed: %s", err)
	} else {
		c.diag.Info("worker stopped")
	}
	if c.diagFile != nil {
		if e := c.diagFile.Close(); e != nil && err == nil {
			err = e
		}
		c.diagFile = nil
	}
	c.diag.SetOutput(io.Discard)
	return err
}

func (c *Context) ready() error {
	if c.closed {
		return ErrNotStarted
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}
