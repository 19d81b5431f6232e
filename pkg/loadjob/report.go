package loadjob

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marmos91/pagedfs/internal/bytesize"
)

// ReportFormat selects the progress report rendering.
type ReportFormat string

const (
	ReportText ReportFormat = "TEXT"
	ReportJSON ReportFormat = "JSON"
)

// ProgressReport is a point-in-time view of a load job's progress.
// TotalBytes is only known with full listing; Throughput needs at least
// one elapsed second. FailedFiles is filled only for verbose
// reports.
type ProgressReport struct {
	State             State             `json:"state"`
	Verbose           bool              `json:"verbose"`
	Bandwidth         *uint64           `json:"bandwidth,omitempty"`
	Verify            bool              `json:"verify"`
	ProcessedCount    int64             `json:"processed_count"`
	LoadedBytes       uint64            `json:"loaded_bytes"`
	TotalBytes        *uint64           `json:"total_bytes,omitempty"`
	Throughput        *uint64           `json:"throughput,omitempty"`
	FailurePercentage float64           `json:"failure_percentage"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	FailedFileCount   int               `json:"failed_file_count"`
	FailedFiles       map[string]string `json:"failed_files,omitempty"`
}

// progressReport snapshots the job.
func (j *Job) progressReport(verbose bool) ProgressReport {
	report := ProgressReport{
		State:          j.State(),
		Verbose:        verbose,
		Verify:         j.verify,
		ProcessedCount: j.processedCount.Load(),
		LoadedBytes:    j.loadedBytes.Load(),
	}
	if bw := j.bandwidth.Load(); bw > 0 {
		report.Bandwidth = &bw
	}
	if !j.partial {
		total := j.totalBytes.Load()
		report.TotalBytes = &total
	}
	if duration := j.durationSec(); duration > 0 {
		throughput := report.LoadedBytes / uint64(duration)
		report.Throughput = &throughput
	}
	if processed := report.ProcessedCount; processed > 0 {
		report.FailurePercentage =
			float64(j.failureCount.Load()) / float64(processed) * 100
	}

	j.mu.Lock()
	if j.failedReason != nil {
		report.FailureReason = j.failedReason.Error()
	}
	report.FailedFileCount = len(j.failedFiles)
	if verbose && len(j.failedFiles) > 0 {
		report.FailedFiles = make(map[string]string, len(j.failedFiles))
		for k, v := range j.failedFiles {
			report.FailedFiles[k] = v
		}
	}
	j.mu.Unlock()
	return report
}

// Progress renders the job's progress in the given format.
func (j *Job) Progress(format ReportFormat, verbose bool) (string, error) {
	report := j.progressReport(verbose)
	switch format {
	case ReportText:
		return report.text(), nil
	case ReportJSON:
		data, err := json.Marshal(report)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown load progress report format: %s", format)
	}
}

func (r ProgressReport) text() string {
	var b strings.Builder
	bw := "unlimited"
	if r.Bandwidth != nil {
		bw = bytesize.Format(*r.Bandwidth) + "/s"
	}
	fmt.Fprintf(&b, "\tSettings:\tbandwidth: %s\tverify: %v\n", bw, r.Verify)
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "\tJob State: %s (%s)\n", r.State, r.FailureReason)
	} else {
		fmt.Fprintf(&b, "\tJob State: %s\n", r.State)
	}
	fmt.Fprintf(&b, "\tFiles Processed: %d\n", r.ProcessedCount)
	if r.TotalBytes != nil {
		fmt.Fprintf(&b, "\tBytes Loaded: %s out of %s\n",
			bytesize.Format(r.LoadedBytes), bytesize.Format(*r.TotalBytes))
	} else {
		fmt.Fprintf(&b, "\tBytes Loaded: %s\n", bytesize.Format(r.LoadedBytes))
	}
	if r.Throughput != nil {
		fmt.Fprintf(&b, "\tThroughput: %s/s\n", bytesize.Format(*r.Throughput))
	}
	fmt.Fprintf(&b, "\tFile load failure rate: %.2f%%\n", r.FailurePercentage)
	fmt.Fprintf(&b, "\tFiles Failed: %d\n", r.FailedFileCount)
	if r.Verbose {
		for file, reason := range r.FailedFiles {
			fmt.Fprintf(&b, "\t\t%s: %s\n", file, reason)
		}
	}
	return b.String()
}
