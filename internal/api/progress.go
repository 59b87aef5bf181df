package api

import (
	"context"
	"encoding/json"
	"fmt"

	"deepwatch/internal/models"
)

const progressEndpoint = "/rest/v1/task_progress"

// ListProgress fetches the authoritative snapshot of progress records for a
// task, ordered newest-first by created_at. Individual malformed rows are
// skipped rather than failing the whole snapshot.
func (c *Client) ListProgress(ctx context.Context, taskID string) ([]models.ProgressRecord, error) {
	params := map[string]string{
		"task_id": eq(taskID),
		"order":   "created_at.desc",
	}

	resp, err := c.Get(ctx, progressEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch progress snapshot: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("progress snapshot returned status %d", resp.StatusCode())
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse progress snapshot: %w", err)
	}

	records := make([]models.ProgressRecord, 0, len(rows))
	for _, row := range rows {
		record, err := models.DecodeRecord(row)
		if err != nil {
			// Malformed rows are normalized away, never surfaced
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// DeletePollution removes every debug test record under the task and returns
// how many rows were deleted. The returned representation carries the
// deleted rows so the count is exact.
func (c *Client) DeletePollution(ctx context.Context, taskID string) (int64, error) {
	params := map[string]string{
		"task_id": eq(taskID),
		"label":   containsInsensitive(models.PollutionMarker),
	}
	headers := map[string]string{
		"Prefer": "return=representation",
	}

	resp, err := c.Delete(ctx, progressEndpoint, params, headers)
	if err != nil {
		return 0, fmt.Errorf("failed to delete debug records: %w", err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("debug record delete returned status %d", resp.StatusCode())
	}

	var deleted []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &deleted); err != nil {
		return 0, fmt.Errorf("failed to parse delete response: %w", err)
	}

	return int64(len(deleted)), nil
}
