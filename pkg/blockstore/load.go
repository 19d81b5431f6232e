package blockstore

import (
	"context"
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/metrics"
	"github.com/marmos91/pagedfs/pkg/pagestore"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

// LoadFileSpec names one file a load task asks this worker to cache.
type LoadFileSpec struct {
	// Path is the logical path clients address the file by.
	Path string

	// UfsPath is the physical path on the UFS.
	UfsPath string

	// Length is the file size in bytes.
	Length uint64
}

// LoadFailure reports one file the worker could not load.
type LoadFailure struct {
	File      LoadFileSpec
	Message   string
	Code      int32
	Retryable bool
}

// BlockIDForPath derives the block id a file is cached under. Every
// worker derives the same id for the same path, so the scheduler and
// the store agree without coordination.
func BlockIDForPath(path string) int64 {
	return int64(xxhash.Sum64String(path))
}

// LoadFiles streams each file from the UFS through a caching block
// reader, populating this worker's cache. The tag groups the reads for
// accounting, typically a load job id. Files already cached are counted
// as loaded without touching the UFS.
//
// Returns a failure record per file that could not be loaded; an empty
// slice means full success.
func (s *PagedBlockStore) LoadFiles(ctx context.Context, tag string, files []LoadFileSpec) []LoadFailure {
	sessionID := int64(xxhash.Sum64String("load-" + tag))

	var failures []LoadFailure
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			failures = append(failures, LoadFailure{
				File: file, Message: err.Error(), Code: codeOf(err), Retryable: true,
			})
			continue
		}
		if err := s.loadOne(sessionID, tag, file); err != nil {
			logger.Warn("failed to load file",
				logger.KeyPath, file.Path, logger.KeyError, err.Error())
			failures = append(failures, LoadFailure{
				File:      file,
				Message:   err.Error(),
				Code:      codeOf(err),
				Retryable: retryable(err),
			})
			continue
		}
		metrics.UfsBytesRead(file.Length)
	}
	return failures
}

func (s *PagedBlockStore) loadOne(sessionID int64, tag string, file LoadFileSpec) error {
	blockID := BlockIDForPath(file.Path)
	if s.metaStore.HasBlock(blockID) {
		return nil
	}

	reader, err := s.CreateBlockReader(sessionID, blockID, 0, ufs.BlockReadOptions{
		UfsPath:   file.UfsPath,
		BlockSize: file.Length,
		Tag:       tag,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// codeOf maps an error to the numeric code reported back to the
// scheduler.
func codeOf(err error) int32 {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ufs.ErrFileNotFound):
		return 5 // not found
	case errors.Is(err, ErrResourceExhausted):
		return 8 // resource exhausted
	case errors.Is(err, ErrDeadlineExceeded):
		return 4 // deadline exceeded
	case errors.Is(err, ErrUnavailable), errors.Is(err, ufs.ErrUnavailable):
		return 14 // unavailable
	default:
		return 13 // internal
	}
}

// retryable reports whether a load failure is worth retrying on another
// pass. Missing files and full storage are not; transient UFS and lock
// trouble is.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ufs.ErrFileNotFound) {
		return false
	}
	if errors.Is(err, pagestore.ErrCapacityExceeded) || errors.Is(err, ErrResourceExhausted) {
		return false
	}
	return true
}
