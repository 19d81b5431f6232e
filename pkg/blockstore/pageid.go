package blockstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Page file id derivation. A committed block's pages live under a file
// id derived from the block id and its final length, so two generations
// of the same block id never collide in the page store. A temp block's
// pages live under a distinct temp file id derived from the block id
// alone, because its length is unknown until commit.
const (
	blockFilePrefix = "blk"
	tempFilePrefix  = "tmp"
)

// FileIDOf returns the page store file id of a committed block.
func FileIDOf(blockID int64, blockLength uint64) string {
	return fmt.Sprintf("%s-%x-%x", blockFilePrefix, uint64(blockID), blockLength)
}

// TempFileIDOf returns the page store file id of a temp block.
func TempFileIDOf(blockID int64) string {
	return fmt.Sprintf("%s-%x", tempFilePrefix, uint64(blockID))
}

// BlockOf parses a file id back to the block id it belongs to. It
// accepts both committed and temp file ids and returns false for
// anything else. Used by evictors for pin checks.
func BlockOf(fileID string) (int64, bool) {
	rest, ok := strings.CutPrefix(fileID, blockFilePrefix+"-")
	if ok {
		idPart, _, found := strings.Cut(rest, "-")
		if !found {
			return 0, false
		}
		id, err := strconv.ParseUint(idPart, 16, 64)
		if err != nil {
			return 0, false
		}
		return int64(id), true
	}
	rest, ok = strings.CutPrefix(fileID, tempFilePrefix+"-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 16, 64)
	if err != nil {
		return 0, false
	}
	return int64(id), true
}
