// Package scheduler implements the WFQ+EDF intake described in §4.2:
// lock-free multi-producer/single-consumer queues feed one dispatcher
// goroutine, which orders work with two container/heap priority
// queues and hands it to a bounded worker pool.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"fetchcore/internal/domain/model"
)

// Fn is the unit of work a Job performs once the scheduler admits it.
type Fn func(ctx context.Context) (*model.Response, error)

// Job is one scheduled unit of work plus the bookkeeping the WFQ/EDF
// heaps need to order it.
type Job struct {
	Req         *model.Request
	ctx         context.Context
	fn          Fn
	enqueuedAt  time.Time
	weight      int
	deadline    time.Time
	hasDeadline bool
	finish      float64 // WFQ virtual finish time; unused for EDF jobs

	resultCh chan jobResult
}

type jobResult struct {
	resp *model.Response
	err  error
}

// Config mirrors the scheduler-relevant slice of the configuration
// table: worker pool capacity and intake queue backpressure bounds.
type Config struct {
	MaxConcurrentRequests int
	MaxQueueLength        int64 // per intake; <=0 means unbounded
	DefaultCost           float64
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentRequests: 10_000,
		MaxQueueLength:        100_000,
		DefaultCost:           1,
	}
}

// Scheduler owns the two intake queues, the per-class WFQ virtual
// clock, and the bounded worker pool. Heap access never leaves the
// dispatcher goroutine, so the heaps themselves need no lock.
type Scheduler struct {
	cfg Config

	wfqIntake *mpscQueue[*Job]
	edfIntake *mpscQueue[*Job]

	wake chan struct{}
	sem  chan struct{}

	stop   chan struct{}
	stopWg sync.WaitGroup

	mu          sync.Mutex // guards virtual clock state below
	virtualTime float64
	lastFinish  map[string]float64

	onDrop func(reason string)
}

func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 1
	}
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = 1
	}

	s := &Scheduler{
		cfg:        cfg,
		wfqIntake:  newMPSCQueue[*Job](cfg.MaxQueueLength),
		edfIntake:  newMPSCQueue[*Job](cfg.MaxQueueLength),
		wake:       make(chan struct{}, 1),
		sem:        make(chan struct{}, cfg.MaxConcurrentRequests),
		stop:       make(chan struct{}),
		lastFinish: make(map[string]float64),
	}

	s.stopWg.Add(1)
	go s.dispatchLoop()

	return s
}

// OnDrop registers a callback invoked when a deadline-expired job is
// dropped without consuming a worker slot.
func (s *Scheduler) OnDrop(fn func(reason string)) {
	s.onDrop = fn
}

// Stats reports intake queue depth and worker pool occupancy for the
// metrics:// resource and readiness checks.
type Stats struct {
	QueueDepth int64
	Inflight   int
	Capacity   int
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueDepth: s.wfqIntake.Len() + s.edfIntake.Len(),
		Inflight:   len(s.sem),
		Capacity:   cap(s.sem),
	}
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.stopWg.Wait()
}

// Submit enqueues fn for execution and blocks until it runs (or the
// context is cancelled, or the request is rejected). weightOf derives
// w_c from the request's priority/client class when Req.Weight is
// unset.
func (s *Scheduler) Submit(ctx context.Context, req *model.Request, fn Fn) (*model.Response, error) {
	job := &Job{
		Req:        req,
		ctx:        ctx,
		fn:         fn,
		enqueuedAt: time.Now(),
		weight:     weightOf(req),
		resultCh:   make(chan jobResult, 1),
	}

	intake := s.wfqIntake
	if req.HasDeadline() {
		job.deadline = req.Deadline
		job.hasDeadline = true
		intake = s.edfIntake
	}

	if !intake.Push(job) {
		return nil, &model.TimeoutError{Phase: model.PhaseQueue, Timeout: 0}
	}

	s.signal()

	select {
	case res := <-job.resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, model.ErrCancelled
	}
}

func weightOf(req *model.Request) int {
	if req.Weight > 0 {
		return req.Weight
	}

	switch req.Priority {
	case model.PriorityHigh:
		return 3
	case model.PriorityLow:
		return 1
	default:
		return 2
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	defer s.stopWg.Done()

	wfq := &wfqHeap{}
	edf := &edfHeap{}
	heap.Init(wfq)
	heap.Init(edf)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.drainIntakes(wfq, edf)

		job, ok := s.selectNext(wfq, edf)
		if !ok {
			select {
			case <-s.stop:
				return
			case <-s.wake:
				continue
			case <-ticker.C:
				continue
			}
		}

		if job.hasDeadline && time.Now().After(job.deadline) {
			s.dropExpired(job)
			continue
		}

		select {
		case s.sem <- struct{}{}:
			go s.run(job)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) drainIntakes(wfq *wfqHeap, edf *edfHeap) {
	for {
		job, ok := s.wfqIntake.Pop()
		if !ok {
			break
		}
		heap.Push(wfq, &wfqEntry{job: job, finish: s.virtualFinish(job)})
	}

	for {
		job, ok := s.edfIntake.Pop()
		if !ok {
			break
		}
		heap.Push(edf, &edfEntry{job: job})
	}
}

// selectNext implements the Open-Question decision that EDF is
// strictly higher priority than WFQ: EDF is drained to empty before
// WFQ is ever touched.
func (s *Scheduler) selectNext(wfq *wfqHeap, edf *edfHeap) (*Job, bool) {
	if edf.Len() > 0 {
		entry := heap.Pop(edf).(*edfEntry)
		return entry.job, true
	}

	if wfq.Len() > 0 {
		entry := heap.Pop(wfq).(*wfqEntry)

		s.mu.Lock()
		if entry.finish > s.virtualTime {
			s.virtualTime = entry.finish
		}
		s.mu.Unlock()

		return entry.job, true
	}

	return nil, false
}

func (s *Scheduler) virtualFinish(job *Job) float64 {
	classKey := job.Req.ClientClass
	cost := s.cfg.DefaultCost

	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.virtualTime
	if prev, ok := s.lastFinish[classKey]; ok && prev > base {
		base = prev
	}

	finish := base + cost/float64(job.weight)
	s.lastFinish[classKey] = finish

	return finish
}

func (s *Scheduler) dropExpired(job *Job) {
	if s.onDrop != nil {
		s.onDrop("deadline_exceeded")
	}

	job.resultCh <- jobResult{err: &model.TimeoutError{Phase: model.PhaseQueue, Timeout: time.Since(job.enqueuedAt)}}
}

func (s *Scheduler) run(job *Job) {
	defer func() { <-s.sem }()

	resp, err := job.fn(job.ctx)
	job.resultCh <- jobResult{resp: resp, err: err}
}
