package progress

import (
	"context"

	"deepwatch/internal/models"
	"deepwatch/internal/realtime"
)

// SnapshotStore fetches the authoritative progress snapshot for a task.
// Implemented by the api client.
type SnapshotStore interface {
	ListProgress(ctx context.Context, taskID string) ([]models.ProgressRecord, error)
}

// Feed opens push subscriptions on the change-notification channel.
// Implemented by the realtime client. The returned func revokes the
// subscription deterministically.
type Feed interface {
	Subscribe(topic string, handler realtime.Handler) (func(), error)
}

// Notifier is invoked after every merge with the fresh immutable view.
type Notifier func(view models.TaskProgressView)

// SourcesNotifier is invoked when an update event grew a record's source
// list. Reportable but non-fatal; purely informational for the caller.
type SourcesNotifier func(recordID string, added []models.Source)
