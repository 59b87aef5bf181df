package api

import (
	"context"
	"encoding/json"
	"fmt"
)

const resultsEndpoint = "/rest/v1/task_results"

// ResultExists probes whether a final result row exists for the task. A
// single-row existence query, not a full fetch.
func (c *Client) ResultExists(ctx context.Context, taskID string) (bool, error) {
	params := map[string]string{
		"task_id": eq(taskID),
		"select":  "task_id",
		"limit":   "1",
	}

	resp, err := c.Get(ctx, resultsEndpoint, params)
	if err != nil {
		return false, fmt.Errorf("failed to probe result existence: %w", err)
	}
	if !resp.IsSuccess() {
		return false, fmt.Errorf("result probe returned status %d", resp.StatusCode())
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return false, fmt.Errorf("failed to parse result probe response: %w", err)
	}

	return len(rows) > 0, nil
}

// FetchResult retrieves the final result document for a task. Returns the
// raw JSON row so the caller can cache it verbatim.
func (c *Client) FetchResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	params := map[string]string{
		"task_id": eq(taskID),
		"limit":   "1",
	}

	resp, err := c.Get(ctx, resultsEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("result fetch returned status %d", resp.StatusCode())
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse result response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result stored for task %s", taskID)
	}

	return rows[0], nil
}
