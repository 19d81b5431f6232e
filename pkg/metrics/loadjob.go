package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loadJob struct {
	success   prometheus.Counter
	fail      prometheus.Counter
	fileCount prometheus.Counter
	fileFail  prometheus.Counter
	fileBytes prometheus.Counter
}

func registerLoadJobMetrics(reg *prometheus.Registry) {
	loadJob.success = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_job_load_success_total",
		Help: "Total number of load jobs that succeeded",
	})
	loadJob.fail = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_job_load_fail_total",
		Help: "Total number of load jobs that failed",
	})
	loadJob.fileCount = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_job_load_file_count_total",
		Help: "Total number of files loaded by load jobs",
	})
	loadJob.fileFail = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_job_load_file_fail_total",
		Help: "Total number of file load failures, including retries",
	})
	loadJob.fileBytes = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "pagedfs_job_load_file_bytes_total",
		Help: "Total bytes loaded by load jobs",
	})
}

// JobLoadSuccess records a load job completing successfully.
func JobLoadSuccess() {
	if IsEnabled() {
		loadJob.success.Inc()
	}
}

// JobLoadFail records a load job failing.
func JobLoadFail() {
	if IsEnabled() {
		loadJob.fail.Inc()
	}
}

// JobFilesLoaded records files successfully loaded.
func JobFilesLoaded(n int) {
	if IsEnabled() {
		loadJob.fileCount.Add(float64(n))
	}
}

// JobFileFailed records one file load failure or retry.
func JobFileFailed() {
	if IsEnabled() {
		loadJob.fileFail.Inc()
	}
}

// JobBytesLoaded records bytes credited to a load job.
func JobBytesLoaded(n uint64) {
	if IsEnabled() {
		loadJob.fileBytes.Add(float64(n))
	}
}
