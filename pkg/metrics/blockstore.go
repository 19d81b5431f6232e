package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var blockStore struct {
	commits     prometheus.Counter
	aborts      prometheus.Counter
	removes     prometheus.Counter
	pageReads   *prometheus.CounterVec // status: hit, miss
	pageWrites  prometheus.Counter
	ufsBytes    prometheus.Counter
	masterFails prometheus.Counter
}

func registerBlockStoreMetrics(reg *prometheus.Registry) {
	blockStore.commits = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_commits_total",
		Help: "Total number of blocks committed locally",
	})
	blockStore.aborts = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_aborts_total",
		Help: "Total number of temp blocks aborted",
	})
	blockStore.removes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_removes_total",
		Help: "Total number of blocks removed",
	})
	blockStore.pageReads = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_page_reads_total",
		Help: "Total number of page reads by cache status",
	}, []string{"status"})
	blockStore.pageWrites = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_page_writes_total",
		Help: "Total number of pages written to the page store",
	})
	blockStore.ufsBytes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_ufs_read_bytes_total",
		Help: "Total bytes fetched from the UFS on cache misses",
	})
	blockStore.masterFails = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_blockstore_master_commit_failures_total",
		Help: "Total number of failed commit reports to the block master",
	})
}

// BlockCommitted records a local block commit.
func BlockCommitted() {
	if IsEnabled() {
		blockStore.commits.Inc()
	}
}

// BlockAborted records a temp block abort.
func BlockAborted() {
	if IsEnabled() {
		blockStore.aborts.Inc()
	}
}

// BlockRemoved records a block removal.
func BlockRemoved() {
	if IsEnabled() {
		blockStore.removes.Inc()
	}
}

// PageRead records a page read with its cache status ("hit" or "miss").
func PageRead(status string) {
	if IsEnabled() {
		blockStore.pageReads.WithLabelValues(status).Inc()
	}
}

// PageWritten records a page landing in the page store.
func PageWritten() {
	if IsEnabled() {
		blockStore.pageWrites.Inc()
	}
}

// UfsBytesRead records bytes fetched from the UFS.
func UfsBytesRead(n uint64) {
	if IsEnabled() {
		blockStore.ufsBytes.Add(float64(n))
	}
}

// MasterCommitFailed records a failed commit report to the master.
func MasterCommitFailed() {
	if IsEnabled() {
		blockStore.masterFails.Inc()
	}
}
