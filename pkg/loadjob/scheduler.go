package loadjob

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/pagedfs/internal/logger"
)

// Scheduler drives load jobs: it pulls task batches out of each job,
// dispatches them to the assigned workers with bounded concurrency and
// feeds the responses back. One scheduler serves many jobs.
type Scheduler struct {
	mu      sync.Mutex
	workers map[string]WorkerClient
	jobs    map[string]*Job

	journal     Journal
	concurrency int
	idleDelay   time.Duration
}

// SchedulerOptions configures a scheduler.
type SchedulerOptions struct {
	// Concurrency bounds in-flight worker RPCs per Run call. Zero
	// means 8.
	Concurrency int

	// Journal persists job state transitions. Optional.
	Journal Journal

	// IdleDelay is how long Run sleeps when a pass has no tasks ready
	// but is not done yet. Zero means 200ms.
	IdleDelay time.Duration
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = 200 * time.Millisecond
	}
	return &Scheduler{
		workers:     make(map[string]WorkerClient),
		jobs:        make(map[string]*Job),
		journal:     opts.Journal,
		concurrency: opts.Concurrency,
		idleDelay:   opts.IdleDelay,
	}
}

// AddWorker registers a worker as active.
func (s *Scheduler) AddWorker(client WorkerClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[client.Address()] = client
}

// RemoveWorker deregisters a worker. In-flight tasks on it finish or
// fail on their own; its files get reassigned by the hash policy on the
// next batch.
func (s *Scheduler) RemoveWorker(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, address)
}

// ActiveWorkers returns the sorted addresses of the active workers.
// Sorted so that every caller hashes over the same sequence.
func (s *Scheduler) ActiveWorkers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.workers))
	for addr := range s.workers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func (s *Scheduler) workerClient(address string) (WorkerClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.workers[address]
	return client, ok
}

// Submit registers a job with the scheduler. A job with the same
// description as a registered one is rejected.
func (s *Scheduler) Submit(job *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.Description() == job.Description() {
			return false
		}
	}
	s.jobs[job.ID()] = job
	s.appendJournal(job)
	return true
}

// Get returns a registered job by id.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

func (s *Scheduler) appendJournal(job *Job) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(job.ToJournalEntry()); err != nil {
		logger.Warn("failed to journal load job",
			logger.KeyJobID, job.ID(), logger.KeyError, err.Error())
	}
}

// Run drives one job to completion: batches of tasks are prepared,
// dispatched concurrently, and reconciled until the pass is done. With
// verification enabled a second pass re-walks the tree. Run returns the
// job's final state; cancelling the context stops the job.
func (s *Scheduler) Run(ctx context.Context, job *Job) State {
	passes := 1
	if job.Verify() {
		passes = 2
	}
	for pass := 0; pass < passes && job.State() == StateRunning; pass++ {
		if pass > 0 {
			job.setState(StateVerifying, false)
			job.iterator = NewFileListFetcher(job.fs, job.Path())
		}
		s.runPass(ctx, job)
	}

	switch {
	case ctx.Err() != nil && job.State() != StateFailed:
		job.Stop()
	case job.State() == StateFailed:
		// failure reason already recorded
	case job.HasFailure():
		job.Fail(errFilesFailed(len(job.FailedFiles())))
	default:
		job.Succeed()
	}
	s.appendJournal(job)
	return job.State()
}

func (s *Scheduler) runPass(ctx context.Context, job *Job) {
	for ctx.Err() == nil {
		state := job.State()
		if state != StateRunning && state != StateVerifying {
			return
		}
		tasks := job.GetNextTasks(ctx, s.ActiveWorkers())
		if len(tasks) == 0 {
			if job.IsCurrentPassDone(ctx) {
				return
			}
			select {
			case <-time.After(s.idleDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		s.dispatch(ctx, job, tasks)
	}
}

// dispatch runs one batch of tasks against their workers, bounded by
// the scheduler's concurrency, and reconciles every outcome.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, tasks []*Task) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, task := range tasks {
		task := task
		client, ok := s.workerClient(task.Worker)
		if !ok {
			// worker left between assignment and dispatch
			job.OnTaskSubmitFailure(task)
			continue
		}
		g.Go(func() error {
			logger.Debug("dispatching task",
				logger.KeyJobID, job.ID(), logger.KeyTaskID, task.ID,
				logger.KeyWorker, task.Worker, "files", len(task.Files))
			task.Run(gctx, client, job.ID())
			job.ProcessResponse(task)
			return nil
		})
	}
	g.Wait()
}
