package blockmaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// commitBlockRequest is the wire form of a commit report.
type commitBlockRequest struct {
	WorkerID  uint64 `json:"worker_id"`
	UsedBytes uint64 `json:"used_bytes"`
	Tier      string `json:"tier"`
	Medium    string `json:"medium"`
	BlockID   int64  `json:"block_id"`
	Length    uint64 `json:"length"`
}

// HTTPClient reports commits to the master over its HTTP control
// endpoint. The master treats commit reports as idempotent, so a
// retried report is harmless.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a master client for the given host:port.
func NewHTTPClient(address string) *HTTPClient {
	return &HTTPClient{
		base: "http://" + address,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// CommitBlock implements Client.
func (c *HTTPClient) CommitBlock(ctx context.Context, workerID, usedBytes uint64, tier, medium string, blockID int64, length uint64) error {
	body, err := json.Marshal(commitBlockRequest{
		WorkerID:  workerID,
		UsedBytes: usedBytes,
		Tier:      tier,
		Medium:    medium,
		BlockID:   blockID,
		Length:    length,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/blocks/commit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("master commit failed: %s", resp.Status)
	}
	return nil
}

// Close implements Client. The underlying HTTP transport pools its own
// connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
