package loadjob

import "fmt"

// errFilesFailed is the failure reason of a job that finished its
// passes with permanently failed files.
func errFilesFailed(count int) error {
	return fmt.Errorf("%d files failed to load", count)
}
