package loadjob

import (
	"context"

	"github.com/marmos91/pagedfs/pkg/blockstore"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// MaxFilesPerTask bounds how many files one task carries.
const MaxFilesPerTask = 20

// Task is one batch of files assigned to one worker. The scheduler runs
// it and stores the outcome; the job reconciles the outcome in
// ProcessResponse.
type Task struct {
	ID     int64
	Worker string
	Files  []ufs.FileStatus

	response LoadFileResponse
	err      error
}

// Request builds the worker RPC request for this task.
func (t *Task) Request(jobID string) LoadFileRequest {
	req := LoadFileRequest{Tag: jobID}
	for _, f := range t.Files {
		req.Files = append(req.Files, blockstore.LoadFileSpec{
			Path:    f.Path,
			UfsPath: f.UfsPath,
			Length:  f.Length,
		})
	}
	return req
}

// Run executes the task against a worker client and records the
// outcome.
func (t *Task) Run(ctx context.Context, client WorkerClient, jobID string) {
	t.response, t.err = client.LoadFile(ctx, t.Request(jobID))
}

// Complete records an externally produced outcome, for callers that
// drive the RPC themselves.
func (t *Task) Complete(resp LoadFileResponse, err error) {
	t.response, t.err = resp, err
}

func (t *Task) totalBytes() uint64 {
	var n uint64
	for _, f := range t.Files {
		n += f.Length
	}
	return n
}
