package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-token", 5*time.Second)
}

func TestListProgress(t *testing.T) {
	t.Run("Should query with equality filter and descending order", func(t *testing.T) {
		var gotQuery map[string]string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{
				"task_id": r.URL.Query().Get("task_id"),
				"order":   r.URL.Query().Get("order"),
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		})

		_, err := client.ListProgress(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, "eq.task-1", gotQuery["task_id"])
		assert.Equal(t, "created_at.desc", gotQuery["order"])
	})

	t.Run("Should carry the bearer token", func(t *testing.T) {
		var gotAuth string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`[]`))
		})

		_, err := client.ListProgress(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, "Bearer test-token", gotAuth)
	})

	t.Run("Should skip malformed rows and keep the rest", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"id": "rec-1", "task_id": "task-1", "label": "query_one", "created_at": "2025-06-01T12:00:01Z"},
				{"label": "no ids at all"},
				{"id": "rec-2", "task_id": "task-1", "label": "query_two", "created_at": "2025-06-01T12:00:02Z"}
			]`))
		})

		records, err := client.ListProgress(context.Background(), "task-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "rec-1", records[0].ID)
		assert.Equal(t, "rec-2", records[1].ID)
	})

	t.Run("Should fail on a non-2xx response", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := client.ListProgress(context.Background(), "task-1")
		assert.Error(t, err)
	})
}

func TestDeletePollution(t *testing.T) {
	t.Run("Should filter by marker and count the returned rows", func(t *testing.T) {
		var gotLabel, gotPrefer, gotMethod string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotLabel = r.URL.Query().Get("label")
			gotPrefer = r.Header.Get("Prefer")
			w.Write([]byte(`[{"id": "junk-1"}, {"id": "junk-2"}]`))
		})

		deleted, err := client.DeletePollution(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		assert.Equal(t, http.MethodDelete, gotMethod)
		assert.Equal(t, "ilike.*test_insert*", gotLabel)
		assert.Equal(t, "return=representation", gotPrefer)
	})

	t.Run("Should report zero when nothing matched", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		})

		deleted, err := client.DeletePollution(context.Background(), "task-1")
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestCountFeedback(t *testing.T) {
	t.Run("Should read the exact count from the Content-Range header", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
			w.Header().Set("Content-Range", "0-0/3")
			w.Write([]byte(`[{"id": "fb-1"}]`))
		})

		count, err := client.CountFeedback(context.Background(), "task-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("Should handle the empty-table form", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Range", "*/0")
			w.Write([]byte(`[]`))
		})

		count, err := client.CountFeedback(context.Background(), "task-1", "user-1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestParseContentRange(t *testing.T) {
	t.Run("Should extract counts from both header forms", func(t *testing.T) {
		count, err := parseContentRange("0-24/3573")
		require.NoError(t, err)
		assert.Equal(t, int64(3573), count)

		count, err = parseContentRange("*/0")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("Should reject malformed headers", func(t *testing.T) {
		for _, header := range []string{"", "0-24", "0-24/", "0-24/abc"} {
			_, err := parseContentRange(header)
			assert.Error(t, err, "header=%q", header)
		}
	})
}
