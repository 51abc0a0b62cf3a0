package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/pool"
)

const (
	modeArena   = "arena"
	modeShared  = "shared"
	modeHandoff = "handoff"
)

type cliSettings struct {
	mode       string
	workers    int
	operations int
	maxCount   int
	liveLimit  int
	seed       int64

	blockSize int
	noRecycle bool

	detailedStats bool
	verbose       bool
}

var settings cliSettings

func init() {
	pflag.CommandLine.SortFlags = false

	pflag.StringVarP(&settings.mode, "mode", "m", modeShared, fmt.Sprintf("Concurrency discipline to exercise [%s, %s, %s]", modeArena, modeShared, modeHandoff))
	pflag.IntVarP(&settings.workers, "workers", "w", 4, "Number of goroutines allocating from the pool")
	pflag.IntVarP(&settings.operations, "operations", "n", 100000, "Allocations performed by each worker")
	pflag.IntVar(&settings.maxCount, "max-count", 8, "Largest number of elements in a single allocation")
	pflag.IntVar(&settings.liveLimit, "live", 256, "Allocations each worker keeps alive before releasing the oldest")
	pflag.Int64Var(&settings.seed, "seed", 1, "Seed for the allocation size generator")

	pflag.IntVar(&settings.blockSize, "block-size", pool.DefaultBlockSize, "Size in bytes of each pool block, must be a power of two")
	pflag.BoolVar(&settings.noRecycle, "no-recycle", false, "Grow a new block instead of coalescing when a request misses")

	pflag.BoolVar(&settings.detailedStats, "detailed", false, "Include every block and free chunk in the statistics dump")
	pflag.BoolVarP(&settings.verbose, "verbose", "v", false, "Log pool debug events")
	printHelp := pflag.BoolP("help", "h", false, "Show this help message")

	pflag.Parse()

	if *printHelp {
		pflag.Usage()
		os.Exit(0)
	}
}

func (s cliSettings) validate() error {
	switch s.mode {
	case modeArena, modeShared, modeHandoff:
	default:
		return errors.Newf("unknown mode %q", s.mode)
	}

	if s.workers < 1 {
		return errors.Newf("--workers must be at least 1, got %d", s.workers)
	}
	if s.maxCount < 1 {
		return errors.Newf("--max-count must be at least 1, got %d", s.maxCount)
	}
	if s.liveLimit < 1 {
		return errors.Newf("--live must be at least 1, got %d", s.liveLimit)
	}
	return memutils.CheckPow2(s.blockSize, "--block-size")
}

func (s cliSettings) createOptions(externallySynchronized bool) pool.CreateOptions {
	var flags pool.CreateFlags
	if externallySynchronized {
		flags |= pool.PoolCreateExternallySynchronized
	}
	if s.noRecycle {
		flags |= pool.PoolCreateNoRecycle
	}

	return pool.CreateOptions{
		Flags:     flags,
		BlockSize: s.blockSize,
	}
}
