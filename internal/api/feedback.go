package api

import (
	"context"
	"fmt"
)

const feedbackEndpoint = "/rest/v1/task_feedback"

// Feedback is one rating submitted for a finished task.
type Feedback struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id"`
	UserID  string `json:"user_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// CountFeedback returns how many feedback rows exist for (task, user). This
// is the authoritative existence check behind HasSubmitted.
func (c *Client) CountFeedback(ctx context.Context, taskID, userID string) (int64, error) {
	params := map[string]string{
		"task_id": eq(taskID),
		"user_id": eq(userID),
		"select":  "id",
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("Prefer", "count=exact").
		SetHeader("Range", "0-0").
		Get(c.buildURL(feedbackEndpoint))
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("feedback count returned status %d", resp.StatusCode())
	}

	count, err := parseContentRange(resp.Header().Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("feedback count: %w", err)
	}

	return count, nil
}

// InsertFeedback writes a feedback row through the primary path.
func (c *Client) InsertFeedback(ctx context.Context, fb Feedback) error {
	resp, err := c.Post(ctx, feedbackEndpoint, fb)
	if err != nil {
		return fmt.Errorf("feedback insert failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("feedback insert returned status %d", resp.StatusCode())
	}
	return nil
}

// InsertFeedbackFallback writes a feedback row through the privileged RPC
// endpoint, used when the primary path is rejected.
func (c *Client) InsertFeedbackFallback(ctx context.Context, fb Feedback) error {
	resp, err := c.Post(ctx, "/rest/v1/rpc/submit_task_feedback", fb)
	if err != nil {
		return fmt.Errorf("feedback fallback insert failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("feedback fallback insert returned status %d", resp.StatusCode())
	}
	return nil
}
