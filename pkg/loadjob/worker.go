package loadjob

import (
	"context"

	"github.com/marmos91/pagedfs/pkg/blockstore"
)

// TaskStatus summarizes one task's outcome as reported by the worker.
type TaskStatus int

const (
	// StatusSuccess means every file of the task was loaded.
	StatusSuccess TaskStatus = iota
	// StatusPartial means some files failed; the response lists them.
	StatusPartial
	// StatusFailure means the whole task failed.
	StatusFailure
)

func (s TaskStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPartial:
		return "PARTIAL"
	default:
		return "FAILURE"
	}
}

// LoadFileRequest asks a worker to cache a list of files. Tag is the
// job id, grouping the worker's UFS reads for accounting.
type LoadFileRequest struct {
	Files []blockstore.LoadFileSpec
	Tag   string
}

// LoadFileResponse reports the outcome per file. Files is empty on full
// success.
type LoadFileResponse struct {
	Status TaskStatus
	Files  []blockstore.LoadFailure
}

// WorkerClient is the scheduler's view of one block worker.
type WorkerClient interface {
	// LoadFile asks the worker to cache the request's files. A non-nil
	// error means the RPC itself failed; per-file failures come back in
	// the response.
	LoadFile(ctx context.Context, req LoadFileRequest) (LoadFileResponse, error)

	// Address returns the worker's stable address, the identity the
	// assignment policy hashes on.
	Address() string
}
