package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/pool"
	"github.com/vkngwrapper/slotpool/queue"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

type record struct {
	ID      uint64
	Payload [6]uint64
}

type allocation struct {
	ptr   unsafe.Pointer
	count int
}

func main() {
	err := settings.validate()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if settings.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	start := time.Now()
	var pools []*pool.Pool[record]

	switch settings.mode {
	case modeArena:
		pools, err = runArena(logger)
	case modeShared:
		pools, err = runShared(logger)
	case modeHandoff:
		pools, err = runHandoff(logger)
	}
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("benchmark failed", slog.Any("error", err))
		os.Exit(1)
	}

	var total memutils.DetailedStatistics
	total.Clear()
	for _, p := range pools {
		stats := p.CalculateStatistics()
		total.AddDetailedStatistics(&stats)
	}

	operations := settings.workers * settings.operations
	logger.LogAttrs(context.Background(), slog.LevelInfo, "benchmark complete",
		slog.String("mode", settings.mode),
		slog.Int("operations", operations),
		slog.Duration("elapsed", elapsed),
		slog.Float64("ns.per.op", float64(elapsed.Nanoseconds())/float64(operations)),
		slog.Int("blocks", total.BlockCount),
		slog.Int("block.bytes", total.BlockBytes),
		slog.Int("stranded.bytes", total.StrandedBytes),
	)

	for _, p := range pools {
		fmt.Println(p.BuildStatsString(settings.detailedStats))

		err = errors.CombineErrors(p.Validate(), p.Destroy())
		if err != nil {
			logger.Error("pool teardown failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// churn allocates settings.operations runs from p, keeping at most settings.liveLimit alive and
// releasing the oldest when the limit is reached. Each run is stamped and checked before release.
func churn(p *pool.Pool[record], worker int) error {
	rng := rand.New(rand.NewSource(settings.seed + int64(worker)))
	live := make([]allocation, 0, settings.liveLimit)

	release := func(alloc allocation) error {
		records := unsafe.Slice((*record)(alloc.ptr), alloc.count)
		for i := range records {
			if records[i].ID != uint64(worker) {
				return errors.Newf("worker %d found record owned by %d", worker, records[i].ID)
			}
		}
		return p.Deallocate(alloc.ptr, alloc.count)
	}

	for op := 0; op < settings.operations; op++ {
		if len(live) == settings.liveLimit {
			err := release(live[0])
			if err != nil {
				return err
			}
			live = live[1:]
		}

		count := rng.Intn(settings.maxCount) + 1
		ptr, err := p.Allocate(count)
		if err != nil {
			return err
		}

		records := unsafe.Slice((*record)(ptr), count)
		for i := range records {
			records[i].ID = uint64(worker)
		}
		live = append(live, allocation{ptr: ptr, count: count})
	}

	for _, alloc := range live {
		err := release(alloc)
		if err != nil {
			return err
		}
	}
	return nil
}

func runArena(logger *slog.Logger) ([]*pool.Pool[record], error) {
	pools := make([]*pool.Pool[record], settings.workers)
	for i := range pools {
		p, err := pool.New[record](logger, settings.createOptions(true))
		if err != nil {
			return nil, err
		}
		pools[i] = p
	}

	var group errgroup.Group
	for worker, p := range pools {
		worker, p := worker, p
		group.Go(func() error {
			return churn(p, worker)
		})
	}

	return pools, group.Wait()
}

func runShared(logger *slog.Logger) ([]*pool.Pool[record], error) {
	p, err := pool.New[record](logger, settings.createOptions(false))
	if err != nil {
		return nil, err
	}

	var group errgroup.Group
	for worker := 0; worker < settings.workers; worker++ {
		worker := worker
		group.Go(func() error {
			return churn(p, worker)
		})
	}

	return []*pool.Pool[record]{p}, group.Wait()
}

// runHandoff allocates on producer goroutines and releases on consumer goroutines, passing the
// runs through a blocking queue
func runHandoff(logger *slog.Logger) ([]*pool.Pool[record], error) {
	p, err := pool.New[record](logger, settings.createOptions(false))
	if err != nil {
		return nil, err
	}

	handoff := queue.New[allocation]()
	group, ctx := errgroup.WithContext(context.Background())

	var producers errgroup.Group
	for worker := 0; worker < settings.workers; worker++ {
		worker := worker
		producers.Go(func() error {
			rng := rand.New(rand.NewSource(settings.seed + int64(worker)))
			for op := 0; op < settings.operations; op++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				count := rng.Intn(settings.maxCount) + 1
				ptr, err := p.Allocate(count)
				if err != nil {
					return err
				}

				records := unsafe.Slice((*record)(ptr), count)
				for i := range records {
					records[i].ID = uint64(op)
				}
				handoff.PushBack(allocation{ptr: ptr, count: count})
			}
			return nil
		})
	}

	for worker := 0; worker < settings.workers; worker++ {
		group.Go(func() error {
			for {
				alloc, ok := handoff.PopFront()
				if !ok {
					return nil
				}

				err := p.Deallocate(alloc.ptr, alloc.count)
				if err != nil {
					handoff.Close()
					return err
				}
			}
		})
	}

	err = producers.Wait()
	handoff.Close()

	return []*pool.Pool[record]{p}, errors.CombineErrors(err, group.Wait())
}
