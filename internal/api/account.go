package api

import (
	"context"
	"encoding/json"
	"fmt"

	"deepwatch/internal/models"
)

// FetchProfile retrieves the user profile row for the given owner id.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	params := map[string]string{
		"id":    eq(userID),
		"limit": "1",
	}

	resp, err := c.Get(ctx, "/rest/v1/profiles", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("profile fetch returned status %d", resp.StatusCode())
	}

	var profiles []models.UserProfile
	if err := json.Unmarshal(resp.Body(), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profile for user %s", userID)
	}

	return &profiles[0], nil
}

// FetchEmail retrieves the account email from the auth collaborator.
func (c *Client) FetchEmail(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch account email: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("account fetch returned status %d", resp.StatusCode())
	}

	var account struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(resp.Body(), &account); err != nil {
		return "", fmt.Errorf("failed to parse account response: %w", err)
	}

	return account.Email, nil
}
