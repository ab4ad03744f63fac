package mpi

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/pomerol-ed/pomerol-sub001/metrics"
)

// Message tags of the master-worker protocol.
const (
	TagPending = iota
	TagWork
	TagFinish
)

type WorkerState int

const (
	Pending WorkerState = iota
	Work
	Finish
)

// Worker receives orders from a master.
// It keeps exactly one receive posted while it is not finished.
type Worker struct {
	comm *Comm
	boss int
	req  *Request

	Current int
	State   WorkerState
}

func NewWorker(comm *Comm, boss int) *Worker {
	return &Worker{comm: comm, boss: boss, req: comm.Irecv(boss, AnyTag), Current: -1, State: Pending}
}

func (w *Worker) IsWorking() bool  { return w.State == Work }
func (w *Worker) IsFinished() bool { return w.State == Finish }

// ReceiveOrder checks for an order from the master, waiting for one if block is set.
func (w *Worker) ReceiveOrder(ctx context.Context, block bool) error {
	var msg Message
	switch {
	case block:
		var err error
		msg, err = w.req.Wait(ctx)
		if err != nil {
			return errors.Wrap(err, "")
		}
	case w.req.Test():
		msg = w.req.Message()
	default:
		return nil
	}

	switch msg.Tag {
	case TagWork:
		jobs, err := DecodeInts(msg.Data)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if len(jobs) != 1 {
			return errors.Errorf("%#v", jobs)
		}
		w.Current = jobs[0]
		w.State = Work
	case TagFinish:
		w.req = nil
		w.State = Finish
	default:
		return errors.Errorf("unexpected tag %d from %d", msg.Tag, msg.Source)
	}
	return nil
}

// ReportJobDone tells the master the current job is done and waits for the next order.
func (w *Worker) ReportJobDone() error {
	if err := w.comm.Send(w.boss, TagPending, nil); err != nil {
		return errors.Wrap(err, "")
	}
	w.State = Pending
	w.req = w.comm.Irecv(w.boss, AnyTag)
	return nil
}

// Master hands out jobs to idle workers.
// Both the job stack and the idle worker stack are LIFO, with job 0 and the lowest rank on top.
type Master struct {
	comm       *Comm
	jobs       []int
	workers    []int
	numWorkers int
	requests   map[int]*Request
	finished   bool
	metrics    *metrics.Metrics

	// DispatchMap records the worker of every ordered job.
	DispatchMap map[int]int
}

func NewMaster(comm *Comm, numJobs int, includeBoss bool, m *metrics.Metrics) *Master {
	ms := &Master{comm: comm, requests: make(map[int]*Request), DispatchMap: make(map[int]int), metrics: m}
	for j := numJobs - 1; j >= 0; j-- {
		ms.jobs = append(ms.jobs, j)
	}
	for r := comm.Size() - 1; r >= 0; r-- {
		if !includeBoss && r == comm.Rank() {
			continue
		}
		ms.workers = append(ms.workers, r)
	}
	ms.numWorkers = len(ms.workers)
	return ms
}

func (m *Master) IsFinished() bool { return m.finished }

func (m *Master) orderWorker(worker, job int) error {
	if err := m.comm.Send(worker, TagWork, EncodeInts([]int{job})); err != nil {
		return errors.Wrap(err, "")
	}
	m.DispatchMap[job] = worker
	m.requests[worker] = m.comm.Irecv(worker, TagPending)
	m.metrics.Dispatched()
	return nil
}

// Order sends jobs to idle workers while both are available.
func (m *Master) Order() error {
	for len(m.workers) > 0 && len(m.jobs) > 0 {
		worker := m.workers[len(m.workers)-1]
		job := m.jobs[len(m.jobs)-1]
		m.workers = m.workers[:len(m.workers)-1]
		m.jobs = m.jobs[:len(m.jobs)-1]
		if err := m.orderWorker(worker, job); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// CheckWorkers collects completions, and sends Finish to every worker once all jobs are done.
// It reports whether any worker returned.
func (m *Master) CheckWorkers() (bool, error) {
	busy := make([]int, 0, len(m.requests))
	for w := range m.requests {
		busy = append(busy, w)
	}
	slices.Sort(busy)
	slices.Reverse(busy)

	returned := false
	for _, w := range busy {
		if !m.requests[w].Test() {
			continue
		}
		delete(m.requests, w)
		m.workers = append(m.workers, w)
		returned = true
	}

	if !m.finished && len(m.jobs) == 0 && len(m.workers) == m.numWorkers {
		for _, w := range m.workers {
			if err := m.comm.Send(w, TagFinish, nil); err != nil {
				return returned, errors.Wrap(err, "")
			}
		}
		m.finished = true
	}
	return returned, nil
}
