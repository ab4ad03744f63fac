package mpi

import (
	"cmp"
	"context"
	"log"
	"runtime"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/metrics"
	"github.com/pomerol-ed/pomerol-sub001/util"
)

// Job is one unit of embarrassingly parallel work.
type Job struct {
	Complexity int
	Run        func() error
}

type skelOptions struct {
	metrics  *metrics.Metrics
	name     string
	throttle time.Duration
}

type SkelOption func(*skelOptions)

func WithMetrics(m *metrics.Metrics) SkelOption {
	return func(o *skelOptions) { o.metrics = m }
}

// WithName sets the name logged with every job.
func WithName(name string) SkelOption {
	return func(o *skelOptions) { o.name = name }
}

// WithLogInterval sets the minimum interval between two progress lines of one rank.
func WithLogInterval(d time.Duration) SkelOption {
	return func(o *skelOptions) { o.throttle = d }
}

// Skel runs jobs over all ranks of comm with rank 0 as master, most complex jobs first.
// It must be called collectively, and returns on every rank the rank that ran each job.
func Skel(ctx context.Context, comm *Comm, jobs []Job, opts ...SkelOption) ([]int, error) {
	o := &skelOptions{name: "part", throttle: time.Second}
	for _, opt := range opts {
		opt(o)
	}
	const root = 0

	order := make([]int, len(jobs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(jobs[b].Complexity, jobs[a].Complexity) })

	worker := NewWorker(comm, root)
	var master *Master
	if comm.Rank() == root {
		master = NewMaster(comm, len(jobs), true, o.metrics)
	}
	throttle := util.NewSkipThrottler(o.throttle)
	for !worker.IsFinished() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(ErrAborted, err.Error())
		}
		if master != nil {
			if err := master.Order(); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}
		if err := worker.ReceiveOrder(ctx, master == nil); err != nil {
			return nil, errors.Wrap(err, "")
		}

		progress := false
		if worker.IsWorking() {
			p := order[worker.Current]
			if throttle.Ok() {
				log.Printf("[%d/%d] P%d : %s %d [%d] run (%d not logged)", worker.Current+1, len(jobs), comm.Rank(), o.name, p, jobs[p].Complexity, throttle.Skipped())
			}
			start := time.Now()
			if err := jobs[p].Run(); err != nil {
				return nil, errors.Wrap(err, "")
			}
			o.metrics.Completed(comm.Rank(), time.Since(start))
			if err := worker.ReportJobDone(); err != nil {
				return nil, errors.Wrap(err, "")
			}
			progress = true
		}

		if master != nil {
			returned, err := master.CheckWorkers()
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			if !progress && !returned {
				runtime.Gosched()
			}
		}
	}

	if err := comm.Barrier(ctx); err != nil {
		return nil, errors.Wrap(err, "")
	}

	var ranks []int
	if master != nil {
		ranks = make([]int, len(jobs))
		for k, p := range order {
			ranks[p] = master.DispatchMap[k]
		}
	}
	ranks, err := comm.BcastInts(ctx, root, ranks)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ranks, nil
}
