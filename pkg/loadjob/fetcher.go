package loadjob

import (
	"context"
	"sync"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// PrefetchSize sets the file fetcher's refill point: the fetcher lists
// more when fewer than 20% of this are queued. Each listing is one full
// walk, so the first refill queues the whole tree.
const PrefetchSize = 1000

// FileListFetcher is a lazy iterator over the files of a UFS directory
// tree. HasNext and Next advance monotonically and may suspend on
// listing I/O; directories themselves are not produced.
//
// The fetcher is used by one scheduler goroutine at a time, but the
// single-entry guard on the job makes concurrent calls harmless.
type FileListFetcher struct {
	fs   ufs.UFS
	path string

	mu      sync.Mutex
	queue   []ufs.FileStatus
	done    bool
	listErr error
}

// NewFileListFetcher creates a fetcher over the subtree at path.
func NewFileListFetcher(fs ufs.UFS, path string) *FileListFetcher {
	return &FileListFetcher{fs: fs, path: path}
}

// advance lists more files into the queue. Returns the number of files
// added. The UFS listing here is a single full walk; a paginating UFS
// would list one page per call.
func (f *FileListFetcher) advance(ctx context.Context) int {
	if f.done {
		return 0
	}
	statuses, err := f.fs.ListStatus(ctx, f.path, true)
	if err != nil {
		logger.Warn("file listing failed", logger.KeyPath, f.path, logger.KeyError, err.Error())
		f.done = true
		f.listErr = err
		return 0
	}
	added := 0
	for _, status := range statuses {
		if status.IsDir {
			continue
		}
		f.queue = append(f.queue, status)
		added++
	}
	f.done = true
	return added
}

func (f *FileListFetcher) refill(ctx context.Context) {
	for !f.done && len(f.queue) < PrefetchSize/5 {
		if f.advance(ctx) <= 0 {
			break
		}
	}
}

// HasNext reports whether another file is available, listing more as
// needed.
func (f *FileListFetcher) HasNext(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refill(ctx)
	return len(f.queue) > 0
}

// Next returns the next file. ok is false when the iterator is
// exhausted.
func (f *FileListFetcher) Next(ctx context.Context) (ufs.FileStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refill(ctx)
	if len(f.queue) == 0 {
		return ufs.FileStatus{}, false
	}
	status := f.queue[0]
	f.queue = f.queue[1:]
	return status, true
}

// Err returns the listing error that terminated the iterator, if any.
func (f *FileListFetcher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listErr
}
