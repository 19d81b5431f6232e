package loadjob

import (
	"github.com/cespare/xxhash/v2"
)

// WorkerAssignPolicy picks the worker responsible for a file path out
// of the currently active worker set.
type WorkerAssignPolicy interface {
	// PickWorker returns the worker for path, or "" when no worker is
	// available. The choice must be deterministic for a given path and
	// worker set.
	PickWorker(path string, workers []string) string
}

// HashWorkerPolicy assigns files by rendezvous hashing: every worker is
// scored by the hash of (worker, path) and the highest score wins. Any
// two schedulers with the same active-worker view pick the same worker
// for the same path, and removing a worker only reassigns the files it
// owned.
type HashWorkerPolicy struct{}

// PickWorker implements WorkerAssignPolicy.
func (HashWorkerPolicy) PickWorker(path string, workers []string) string {
	var (
		best      string
		bestScore uint64
	)
	for _, w := range workers {
		d := xxhash.New()
		d.WriteString(w)
		d.WriteString("\x00")
		d.WriteString(path)
		if score := d.Sum64(); best == "" || score > bestScore {
			best = w
			bestScore = score
		}
	}
	return best
}
