// Package loadjob implements the distributed load job: a
// scheduler-driven walk of a UFS directory tree that assigns every file
// deterministically to a worker and drives a bounded batch pipeline
// with retry and failure accounting.
package loadjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/pagedfs/internal/bytesize"
	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/metrics"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// Load job tuning constants.
const (
	// FailureCountThreshold is the failure count above which the
	// failure ratio starts to matter for job health.
	FailureCountThreshold = 100

	// FailureRatioThreshold is the failure ratio above which a job
	// with more than FailureCountThreshold failures turns unhealthy.
	FailureRatioThreshold = 0.05

	// RetryCapacity bounds the retry deque. Files that do not fit are
	// recorded as permanently failed.
	RetryCapacity = 1000

	// RetryThreshold is how many retry entries one batch drains.
	RetryThreshold = int(0.8 * RetryCapacity)

	// DefaultBatchSize is the batch size when the config leaves it
	// unset.
	DefaultBatchSize = 200
)

// State is the load job lifecycle state.
type State string

const (
	StateRunning   State = "RUNNING"
	StateVerifying State = "VERIFYING"
	StateStopped   State = "STOPPED"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Options configures a load job.
type Options struct {
	// Path is the UFS directory tree to load.
	Path string

	// User the job runs as. Optional.
	User string

	// Bandwidth caps the job's load rate in bytes per second. Zero
	// means unlimited.
	Bandwidth uint64

	// PartialListing marks the job as using partial listing: progress
	// reports omit the total byte count. The fetcher lists the tree in
	// one full walk either way.
	PartialListing bool

	// Verify re-walks the tree after the first pass completes.
	Verify bool

	// BatchSize is the number of files one PrepareNextTasks call
	// batches. Zero uses DefaultBatchSize.
	BatchSize int
}

// Job is one load job. Counters are atomic so worker callback threads
// and the scheduler thread can update them without coordination; the
// retry deque and failed-file map carry their own locks.
type Job struct {
	id        string
	path      string
	user      string
	partial   bool
	verify    bool
	batchSize int

	bandwidth atomic.Uint64

	mu           sync.Mutex
	state        State
	failedReason error
	retry        []string
	failedFiles  map[string]string
	endTime      time.Time

	processedCount  atomic.Int64
	loadedBytes     atomic.Uint64
	totalBytes      atomic.Uint64
	processingCount atomic.Int64
	failureCount    atomic.Int64
	unhealthy       atomic.Bool

	preparing atomic.Bool
	taskIDGen atomic.Int64
	inFlight  atomic.Int64

	fs       ufs.UFS
	iterator *FileListFetcher
	policy   WorkerAssignPolicy

	startTime time.Time
}

// NewJob creates a load job over the tree at opts.Path.
func NewJob(fs ufs.UFS, opts Options) *Job {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	j := &Job{
		id:          uuid.NewString(),
		path:        opts.Path,
		user:        opts.User,
		partial:     opts.PartialListing,
		verify:      opts.Verify,
		batchSize:   opts.BatchSize,
		state:       StateRunning,
		failedFiles: make(map[string]string),
		fs:          fs,
		iterator:    NewFileListFetcher(fs, opts.Path),
		policy:      HashWorkerPolicy{},
		startTime:   time.Now(),
	}
	j.bandwidth.Store(opts.Bandwidth)
	return j
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Path returns the tree the job loads.
func (j *Job) Path() string { return j.path }

// Description identifies the job: two load jobs over the same path are
// the same job.
func (j *Job) Description() string { return "load:" + j.path }

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Bandwidth returns the current bandwidth cap, zero meaning unlimited.
func (j *Job) Bandwidth() uint64 { return j.bandwidth.Load() }

// UpdateBandwidth replaces the bandwidth cap of a running job.
func (j *Job) UpdateBandwidth(bandwidth uint64) { j.bandwidth.Store(bandwidth) }

// Verify reports whether post-load verification is enabled.
func (j *Job) Verify() bool { return j.verify }

func (j *Job) setState(state State, final bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	if final {
		j.endTime = time.Now()
	}
}

// Fail moves the job to FAILED with the given reason.
func (j *Job) Fail(reason error) {
	logger.Warn("load job failed",
		logger.KeyJobID, j.id, logger.KeyError, reason.Error())
	j.mu.Lock()
	j.state = StateFailed
	j.failedReason = reason
	j.endTime = time.Now()
	j.mu.Unlock()
	metrics.JobLoadFail()
}

// Succeed moves the job to SUCCEEDED.
func (j *Job) Succeed() {
	j.setState(StateSucceeded, true)
	metrics.JobLoadSuccess()
}

// Stop moves the job to STOPPED.
func (j *Job) Stop() {
	j.setState(StateStopped, true)
}

// IsHealthy reports whether the job should keep retrying transient
// failures. A job turns unhealthy when it has failed, or when the
// failure count exceeds FailureCountThreshold and the failure ratio
// exceeds FailureRatioThreshold; once unhealthy it stays unhealthy.
func (j *Job) IsHealthy() bool {
	if j.unhealthy.Load() {
		return false
	}
	if j.State() == StateFailed {
		j.unhealthy.Store(true)
		return false
	}
	failures := j.failureCount.Load()
	if failures <= FailureCountThreshold {
		return true
	}
	if processing := j.processingCount.Load(); processing > 0 &&
		float64(failures)/float64(processing) <= FailureRatioThreshold {
		return true
	}
	j.unhealthy.Store(true)
	return false
}

// HasFailure reports whether any file failed permanently.
func (j *Job) HasFailure() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.failedFiles) > 0
}

// IsCurrentPassDone reports whether this pass has nothing left: the
// iterator is exhausted, the retry deque is empty and no task is in
// flight.
func (j *Job) IsCurrentPassDone(ctx context.Context) bool {
	if j.iterator.HasNext(ctx) {
		return false
	}
	j.mu.Lock()
	retrying := len(j.retry)
	j.mu.Unlock()
	return retrying == 0 && j.inFlight.Load() == 0
}

// addToRetry enqueues a file for another pass. Returns false when the
// deque is at capacity; the caller then records the file as failed.
func (j *Job) addToRetry(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.retry) >= RetryCapacity {
		return false
	}
	logger.Debug("retrying file", logger.KeyJobID, j.id, logger.KeyPath, path)
	j.retry = append(j.retry, path)
	j.failureCount.Add(1)
	metrics.JobFileFailed()
	return true
}

// addFileFailure records a permanent failure. When the same file fails
// more than once only the first reason is kept; later failures for a
// file the user already sees as failed add nothing.
func (j *Job) addFileFailure(path, message string, code int32) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.failedFiles[path]; !ok {
		j.failedFiles[path] = fmt.Sprintf("Status code: %d, message: %s", code, message)
	}
	metrics.JobFileFailed()
}

// FailedFiles returns a copy of the failed-file map.
func (j *Job) FailedFiles() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]string, len(j.failedFiles))
	for k, v := range j.failedFiles {
		out[k] = v
	}
	return out
}

// GetNextTasks returns the next batch of tasks for the active workers.
// Both the scheduler thread and worker callback threads call this;
// whoever wins the single-entry guard prepares the batch, everyone else
// gets the empty list.
func (j *Job) GetNextTasks(ctx context.Context, workers []string) []*Task {
	if !j.preparing.CompareAndSwap(false, true) {
		return nil
	}
	defer j.preparing.Store(false)
	return j.prepareNextTasks(ctx, workers)
}

// prepareNextTasks drains the retry deque, pulls from the iterator up
// to the batch size, assigns every file to a worker and packs the
// batch into per-worker tasks.
func (j *Job) prepareNextTasks(ctx context.Context, workers []string) []*Task {
	logger.Debug("preparing next tasks", logger.KeyJobID, j.id)

	var batch []ufs.FileStatus

	// retries first: re-stat each file so the task carries fresh
	// lengths, dropping files that vanished from the UFS
	j.mu.Lock()
	drain := len(j.retry)
	j.mu.Unlock()
	if drain > RetryThreshold {
		drain = RetryThreshold
	}
	for i := 0; i < drain; i++ {
		j.mu.Lock()
		if len(j.retry) == 0 {
			j.mu.Unlock()
			break
		}
		path := j.retry[0]
		j.retry = j.retry[1:]
		j.mu.Unlock()

		status, err := j.fs.GetStatus(ctx, path)
		if err != nil {
			if !errors.Is(err, ufs.ErrFileNotFound) {
				j.mu.Lock()
				j.retry = append(j.retry, path)
				j.mu.Unlock()
			}
			continue
		}
		batch = append(batch, status)
	}

	for len(batch) < j.batchSize {
		status, ok := j.iterator.Next(ctx)
		if !ok {
			if err := j.iterator.Err(); err != nil {
				j.Fail(err)
			}
			break
		}
		batch = append(batch, status)
	}

	byWorker := make(map[string][]*Task)
	for _, status := range batch {
		worker := j.policy.PickWorker(status.Path, workers)
		if worker == "" {
			if !j.addToRetry(status.Path) {
				j.addFileFailure(status.Path, "retry queue full", 8)
			}
			continue
		}
		tasks := byWorker[worker]
		var task *Task
		if n := len(tasks); n > 0 && len(tasks[n-1].Files) < MaxFilesPerTask {
			task = tasks[n-1]
		} else {
			task = &Task{ID: j.taskIDGen.Add(1), Worker: worker}
			byWorker[worker] = append(tasks, task)
		}
		task.Files = append(task.Files, status)
		j.totalBytes.Add(status.Length)
		j.processingCount.Add(1)
	}

	var out []*Task
	for _, tasks := range byWorker {
		out = append(out, tasks...)
	}
	for range out {
		j.inFlight.Add(1)
	}
	return out
}

// OnTaskSubmitFailure requeues every file of a task the scheduler could
// not hand to its worker.
func (j *Job) OnTaskSubmitFailure(task *Task) {
	for _, f := range task.Files {
		if !j.addToRetry(f.Path) {
			j.addFileFailure(f.Path, "retry queue full", 8)
		}
	}
	j.inFlight.Add(-1)
}

// ProcessResponse reconciles a finished task into the job's state.
// Returns false when the task failed outright and the scheduler should
// count it against the job.
//
// A cancelled task retries all of its files and returns true, so the
// task is not counted as failed; each requeued file still adds to the
// failure count like any other retry.
// An RPC error retries the files while the job is healthy, otherwise
// records them failed. A worker response credits the succeeded files
// and classifies each reported failure as retryable or permanent.
func (j *Job) ProcessResponse(task *Task) bool {
	defer j.inFlight.Add(-1)

	if err := task.err; err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("task cancelled, retrying its files",
				logger.KeyJobID, j.id, logger.KeyTaskID, task.ID)
			for _, f := range task.Files {
				if !j.addToRetry(f.Path) {
					j.addFileFailure(f.Path, "retry queue full", 8)
				}
			}
			return true
		}
		logger.Warn("task rpc failed",
			logger.KeyJobID, j.id, logger.KeyTaskID, task.ID,
			logger.KeyWorker, task.Worker, logger.KeyError, err.Error())
		for _, f := range task.Files {
			if j.IsHealthy() {
				if j.addToRetry(f.Path) {
					continue
				}
			}
			j.addFileFailure(f.Path, err.Error(), 13)
		}
		return false
	}

	resp := task.response
	loadedBytes := task.totalBytes()
	if resp.Status != StatusSuccess {
		logger.Debug("task came back with failures",
			logger.KeyJobID, j.id, logger.KeyTaskID, task.ID,
			logger.KeyWorker, task.Worker, "failed_files", len(resp.Files))
		for _, failure := range resp.Files {
			loadedBytes -= failure.File.Length
			if !j.IsHealthy() || !failure.Retryable || !j.addToRetry(failure.File.Path) {
				j.addFileFailure(failure.File.Path, failure.Message, failure.Code)
			}
		}
	}
	loadedFiles := len(task.Files) - len(resp.Files)
	j.loadedBytes.Add(loadedBytes)
	j.processedCount.Add(int64(loadedFiles))
	metrics.JobFilesLoaded(loadedFiles)
	metrics.JobBytesLoaded(loadedBytes)
	return resp.Status != StatusFailure
}

// durationSec is the job's age, or its total runtime once ended.
func (j *Job) durationSec() int64 {
	j.mu.Lock()
	end := j.endTime
	j.mu.Unlock()
	if end.IsZero() {
		end = time.Now()
	}
	return int64(end.Sub(j.startTime) / time.Second)
}

// JournalEntry is the persisted form of a load job.
type JournalEntry struct {
	JobID          string `json:"job_id"`
	LoadPath       string `json:"load_path"`
	State          State  `json:"state"`
	PartialListing bool   `json:"partial_listing"`
	Verify         bool   `json:"verify"`
	User           string `json:"user,omitempty"`
	Bandwidth      uint64 `json:"bandwidth,omitempty"`
	EndTimeMs      int64  `json:"end_time,omitempty"`
}

// Journal persists load job entries across restarts.
type Journal interface {
	Append(entry JournalEntry) error
}

// ToJournalEntry snapshots the job for the journal.
func (j *Job) ToJournalEntry() JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := JournalEntry{
		JobID:          j.id,
		LoadPath:       j.path,
		State:          j.state,
		PartialListing: j.partial,
		Verify:         j.verify,
		User:           j.user,
		Bandwidth:      j.bandwidth.Load(),
	}
	if !j.endTime.IsZero() {
		entry.EndTimeMs = j.endTime.UnixMilli()
	}
	return entry
}

func (j *Job) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "LoadJob{id=%s path=%s state=%s processed=%d loaded=%s failed=%d}",
		j.id, j.path, j.State(), j.processedCount.Load(),
		bytesize.Format(j.loadedBytes.Load()), j.failureCount.Load())
	return b.String()
}
