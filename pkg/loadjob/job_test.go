package loadjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pagedfs/pkg/blockstore"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// fakeUFS is an in-memory UFS serving a fixed file set.
type fakeUFS struct {
	mu    sync.Mutex
	files map[string]uint64
}

func newFakeUFS(files map[string]uint64) *fakeUFS {
	return &fakeUFS{files: files}
}

func (f *fakeUFS) GetStatus(ctx context.Context, path string) (ufs.FileStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	length, ok := f.files[path]
	if !ok {
		return ufs.FileStatus{}, ufs.ErrFileNotFound
	}
	return ufs.FileStatus{Path: path, UfsPath: path, Length: length}, nil
}

func (f *fakeUFS) ListStatus(ctx context.Context, path string, recursive bool) ([]ufs.FileStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ufs.FileStatus
	for p, length := range f.files {
		out = append(out, ufs.FileStatus{Path: p, UfsPath: p, Length: length})
	}
	return out, nil
}

func (f *fakeUFS) Open(ctx context.Context, path string) (ufs.PositionReader, error) {
	return nil, ufs.ErrFileNotFound
}

func (f *fakeUFS) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func fileSet(n int) map[string]uint64 {
	files := make(map[string]uint64, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("/data/f%03d", i)] = 100
	}
	return files
}

func newTestJob(t *testing.T, fs ufs.UFS, opts Options) *Job {
	t.Helper()
	if opts.Path == "" {
		opts.Path = "/data"
	}
	return NewJob(fs, opts)
}

func TestPrepareNextTasksBatchingAndPacking(t *testing.T) {
	fs := newFakeUFS(fileSet(50))
	job := newTestJob(t, fs, Options{BatchSize: 50})

	tasks := job.GetNextTasks(context.Background(), []string{"w1", "w2"})
	require.NotEmpty(t, tasks)

	total := 0
	for _, task := range tasks {
		assert.LessOrEqual(t, len(task.Files), MaxFilesPerTask)
		assert.Contains(t, []string{"w1", "w2"}, task.Worker)
		total += len(task.Files)
	}
	assert.Equal(t, 50, total)
	assert.Equal(t, int64(50), job.processingCount.Load())
	assert.Equal(t, uint64(50*100), job.totalBytes.Load())
}

func TestPrepareNextTasksNoWorkersRequeues(t *testing.T) {
	fs := newFakeUFS(fileSet(5))
	job := newTestJob(t, fs, Options{BatchSize: 5})

	tasks := job.GetNextTasks(context.Background(), nil)
	assert.Empty(t, tasks)

	job.mu.Lock()
	retrying := len(job.retry)
	job.mu.Unlock()
	assert.Equal(t, 5, retrying)
}

func TestPrepareDrainsRetryAndDropsVanishedFiles(t *testing.T) {
	fs := newFakeUFS(fileSet(3))
	job := newTestJob(t, fs, Options{BatchSize: 10})

	// exhaust the iterator first
	job.GetNextTasks(context.Background(), []string{"w1"})

	require.True(t, job.addToRetry("/data/f000"))
	require.True(t, job.addToRetry("/data/gone"))
	fs.remove("/data/gone")

	tasks := job.GetNextTasks(context.Background(), []string{"w1"})
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Files, 1)
	assert.Equal(t, "/data/f000", tasks[0].Files[0].Path)

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Empty(t, job.retry, "vanished file must not be re-enqueued")
}

func TestGetNextTasksSingleEntry(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	job.preparing.Store(true)
	assert.Nil(t, job.GetNextTasks(context.Background(), []string{"w1"}))
	job.preparing.Store(false)

	assert.NotEmpty(t, job.GetNextTasks(context.Background(), []string{"w1"}))
}

// Partial failure: 10 files, 3 retryable failures, 1 permanent. The
// retry deque grows by 3, the failed map by 1, processed by 6.
func TestProcessResponsePartialFailure(t *testing.T) {
	fs := newFakeUFS(fileSet(10))
	job := newTestJob(t, fs, Options{BatchSize: 10})

	tasks := job.GetNextTasks(context.Background(), []string{"w1"})
	require.Len(t, tasks, 1)
	task := tasks[0]
	require.Len(t, task.Files, 10)

	var failures []blockstore.LoadFailure
	for i := 0; i < 3; i++ {
		failures = append(failures, blockstore.LoadFailure{
			File:      blockstore.LoadFileSpec{Path: task.Files[i].Path, Length: 100},
			Message:   "ufs timeout",
			Code:      14,
			Retryable: true,
		})
	}
	failures = append(failures, blockstore.LoadFailure{
		File:      blockstore.LoadFileSpec{Path: task.Files[3].Path, Length: 100},
		Message:   "corrupt entry",
		Code:      13,
		Retryable: false,
	})
	task.Complete(LoadFileResponse{Status: StatusPartial, Files: failures}, nil)

	assert.True(t, job.ProcessResponse(task))

	job.mu.Lock()
	assert.Len(t, job.retry, 3)
	assert.Len(t, job.failedFiles, 1)
	job.mu.Unlock()
	assert.Equal(t, int64(6), job.processedCount.Load())
	assert.Equal(t, uint64(600), job.loadedBytes.Load())
	assert.Equal(t, int64(0), job.inFlight.Load())
}

func TestProcessResponseKeepsFirstFailureReason(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	job.addFileFailure("/data/f000", "first", 13)
	job.addFileFailure("/data/f000", "second", 14)

	failed := job.FailedFiles()
	require.Len(t, failed, 1)
	assert.Contains(t, failed["/data/f000"], "first")
	assert.NotContains(t, failed["/data/f000"], "second")
}

func TestProcessResponseCancelledRetriesAll(t *testing.T) {
	fs := newFakeUFS(fileSet(4))
	job := newTestJob(t, fs, Options{BatchSize: 4})

	tasks := job.GetNextTasks(context.Background(), []string{"w1"})
	require.Len(t, tasks, 1)
	task := tasks[0]
	task.Complete(LoadFileResponse{}, context.Canceled)

	assert.True(t, job.ProcessResponse(task))

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Len(t, job.retry, 4)
	assert.Empty(t, job.failedFiles)
}

func TestProcessResponseRPCErrorUnhealthyRecordsFailures(t *testing.T) {
	fs := newFakeUFS(fileSet(2))
	job := newTestJob(t, fs, Options{BatchSize: 2})
	job.unhealthy.Store(true)

	tasks := job.GetNextTasks(context.Background(), []string{"w1"})
	require.Len(t, tasks, 1)
	task := tasks[0]
	task.Complete(LoadFileResponse{}, fmt.Errorf("connection refused"))

	assert.False(t, job.ProcessResponse(task))

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Empty(t, job.retry)
	assert.Len(t, job.failedFiles, 2)
	for _, reason := range job.failedFiles {
		assert.NotEmpty(t, reason)
	}
}

func TestIsHealthyMonotonic(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	assert.True(t, job.IsHealthy())

	// failures above the count threshold with a ratio above 5%
	job.processingCount.Store(200)
	job.failureCount.Store(150)
	assert.False(t, job.IsHealthy())

	// even if the ratio later recovers, the job stays unhealthy
	job.processingCount.Store(1_000_000)
	assert.False(t, job.IsHealthy())
}

func TestIsHealthyToleratesFewFailures(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	job.processingCount.Store(50)
	job.failureCount.Store(FailureCountThreshold)
	assert.True(t, job.IsHealthy())

	// many failures but a tiny ratio is still healthy
	job.processingCount.Store(1_000_000)
	job.failureCount.Store(FailureCountThreshold + 1)
	assert.True(t, job.IsHealthy())
}

func TestRetryDequeBounded(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	for i := 0; i < RetryCapacity; i++ {
		require.True(t, job.addToRetry(fmt.Sprintf("/data/x%d", i)))
	}
	assert.False(t, job.addToRetry("/data/overflow"))
}

func TestProgressReportJSON(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{Bandwidth: 1024, Verify: true})
	job.processedCount.Store(10)
	job.loadedBytes.Store(4096)
	job.addFileFailure("/data/bad", "boom", 13)

	out, err := job.Progress(ReportJSON, true)
	require.NoError(t, err)

	var report ProgressReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, StateRunning, report.State)
	require.NotNil(t, report.Bandwidth)
	assert.Equal(t, uint64(1024), *report.Bandwidth)
	assert.True(t, report.Verify)
	assert.Equal(t, int64(10), report.ProcessedCount)
	assert.Equal(t, uint64(4096), report.LoadedBytes)
	assert.NotNil(t, report.TotalBytes, "full listing reports total bytes")
	assert.Equal(t, 1, report.FailedFileCount)
	assert.Contains(t, report.FailedFiles, "/data/bad")
}

func TestProgressReportPartialListingOmitsTotal(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{PartialListing: true})

	out, err := job.Progress(ReportJSON, false)
	require.NoError(t, err)

	var report ProgressReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Nil(t, report.TotalBytes)
}

func TestProgressReportText(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{})

	out, err := job.Progress(ReportText, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Job State: RUNNING")
	assert.Contains(t, out, "Files Processed: 0")
}

func TestJournalEntry(t *testing.T) {
	fs := newFakeUFS(fileSet(1))
	job := newTestJob(t, fs, Options{
		Path: "/data", User: "alice", Bandwidth: 2048, Verify: true,
	})
	job.Succeed()

	entry := job.ToJournalEntry()
	assert.Equal(t, job.ID(), entry.JobID)
	assert.Equal(t, "/data", entry.LoadPath)
	assert.Equal(t, StateSucceeded, entry.State)
	assert.Equal(t, "alice", entry.User)
	assert.Equal(t, uint64(2048), entry.Bandwidth)
	assert.True(t, entry.Verify)
	assert.NotZero(t, entry.EndTimeMs)
}
