package main

import (
	"context"
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"gorm.io/gorm"

	"deepwatch/internal/api"
	"deepwatch/internal/auth"
	"deepwatch/internal/cache"
	"deepwatch/internal/config"
	"deepwatch/internal/database"
	"deepwatch/internal/models"
	"deepwatch/internal/realtime"
	"deepwatch/internal/services/account"
	"deepwatch/internal/services/feedback"
	"deepwatch/internal/services/janitor"
	"deepwatch/internal/services/progress"
	"deepwatch/internal/services/result"
)

// App wires the shared collaborators (config, cache database, api client,
// change feed) and owns one TaskWatcher per watched task.
type App struct {
	cfg *config.Config
	log *charmlog.Logger

	db    *gorm.DB
	cache *cache.Store

	apiClient *api.Client
	feed      *realtime.Client

	accountService  *account.Service
	feedbackService *feedback.Service

	watchersMu sync.Mutex
	watchers   map[string]*TaskWatcher
}

// TaskWatcher bundles the per-task services: the progress tracker, the
// pollution janitor and the result watcher. Stop tears all three down.
type TaskWatcher struct {
	TaskID   string
	Progress *progress.Service
	Janitor  *janitor.Service
	Result   *result.Service
}

// Stop halts the watcher's services in dependency order.
func (w *TaskWatcher) Stop() {
	w.Janitor.Stop()
	w.Result.Stop()
	w.Progress.Stop()
}

// NewApp builds the application from configuration. The change feed is
// optional: when the realtime endpoint is missing or refuses the dial, the
// app runs pull-only and every watcher leans on the reconcile cadence.
func NewApp(cfg *config.Config, log *charmlog.Logger) (*App, error) {
	db, err := database.Init(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	cacheStore := cache.New(db, log)
	if evicted, err := cacheStore.EvictExpired(); err != nil {
		log.Warnf("startup cache eviction failed: %v", err)
	} else if evicted > 0 {
		log.Debugf("evicted %d expired cache entries", evicted)
	}

	token, err := auth.LoadToken()
	if err != nil {
		log.Warnf("no access token available, requests go out unauthenticated: %v", err)
	}

	app := &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		cache:     cacheStore,
		apiClient: api.NewClient(cfg.APIBaseURL, token, cfg.HTTPTimeout),
		watchers:  make(map[string]*TaskWatcher),
	}

	if cfg.RealtimeURL != "" {
		feed := realtime.NewClient(cfg.RealtimeURL, token, cfg.DialTimeout, cfg.ReconnectDelay, log)
		feed.SetOnReconnect(app.reconcileAll)
		if err := feed.Start(); err != nil {
			log.Warnf("change feed unavailable, running pull-only: %v", err)
		} else {
			app.feed = feed
		}
	}

	app.accountService = account.NewService(cfg.UserID, app.apiClient, cacheStore, cfg.ProfileTTL, log)
	app.feedbackService = feedback.NewService(cfg.UserID, app.apiClient, log)

	return app, nil
}

// WatchTask starts tracking one task: seeds and subscribes the progress
// service, schedules the pollution janitor and opens the result watcher.
// Watching an already-watched task returns the existing watcher.
func (a *App) WatchTask(ctx context.Context, taskID string, breadth, depth int) (*TaskWatcher, error) {
	a.watchersMu.Lock()
	if existing, ok := a.watchers[taskID]; ok {
		a.watchersMu.Unlock()
		return existing, nil
	}
	a.watchersMu.Unlock()

	// A nil *realtime.Client must stay a nil interface for the services
	var feed progress.Feed
	var resultFeed result.Feed
	if a.feed != nil {
		feed = a.feed
		resultFeed = a.feed
	}

	progressService := progress.NewService(taskID, breadth, depth, a.apiClient, feed, a.log)
	if err := progressService.Start(ctx, a.cfg.ReconcileInterval); err != nil {
		a.log.Warnf("task %s degraded to pull-only: %v", taskID, err)
	}

	janitorService := janitor.NewService(taskID, a.apiClient, progressService, a.log)
	if err := janitorService.Start(ctx, a.cfg.JanitorSpec); err != nil {
		progressService.Stop()
		return nil, fmt.Errorf("failed to start janitor for task %s: %w", taskID, err)
	}

	resultService := result.NewService(taskID, a.apiClient, resultFeed, a.cache, a.cfg.ResultTTL, a.log)
	if err := resultService.Start(ctx); err != nil {
		a.log.Warnf("result probe for task %s failed: %v", taskID, err)
	}

	watcher := &TaskWatcher{
		TaskID:   taskID,
		Progress: progressService,
		Janitor:  janitorService,
		Result:   resultService,
	}

	a.watchersMu.Lock()
	a.watchers[taskID] = watcher
	a.watchersMu.Unlock()

	return watcher, nil
}

// UnwatchTask stops and forgets the watcher for a task.
func (a *App) UnwatchTask(taskID string) {
	a.watchersMu.Lock()
	watcher, ok := a.watchers[taskID]
	delete(a.watchers, taskID)
	a.watchersMu.Unlock()

	if ok {
		watcher.Stop()
	}
}

// reconcileAll re-pulls every watched task's snapshot. Runs after each feed
// reconnect to heal whatever the gap swallowed.
func (a *App) reconcileAll() {
	a.watchersMu.Lock()
	watchers := make([]*TaskWatcher, 0, len(a.watchers))
	for _, watcher := range a.watchers {
		watchers = append(watchers, watcher)
	}
	a.watchersMu.Unlock()

	for _, watcher := range watchers {
		if err := watcher.Progress.Reconcile(context.Background()); err != nil {
			a.log.Warnf("post-reconnect reconcile for task %s failed: %v", watcher.TaskID, err)
		}
	}
}

// Profile returns the signed-in user's profile through the cache.
func (a *App) Profile(ctx context.Context) (*models.UserProfile, error) {
	return a.accountService.Profile(ctx)
}

// Email returns the signed-in user's email through the cache.
func (a *App) Email(ctx context.Context) (string, error) {
	return a.accountService.Email(ctx)
}

// HasSubmittedFeedback reports whether the user already rated the task.
func (a *App) HasSubmittedFeedback(ctx context.Context, taskID string) (bool, error) {
	return a.feedbackService.HasSubmitted(ctx, taskID)
}

// SubmitFeedback writes one rating for the task.
func (a *App) SubmitFeedback(ctx context.Context, taskID string, rating int, comment string) error {
	return a.feedbackService.Submit(ctx, taskID, rating, comment)
}

// SignOut removes the stored token and wipes every cached entity.
func (a *App) SignOut() error {
	if err := auth.DeleteToken(); err != nil {
		return err
	}
	if err := a.cache.Clear(); err != nil {
		return fmt.Errorf("cache clear on sign-out failed: %w", err)
	}
	return nil
}

// Shutdown stops all watchers, closes the feed and releases the database.
func (a *App) Shutdown() {
	a.watchersMu.Lock()
	watchers := make([]*TaskWatcher, 0, len(a.watchers))
	for _, watcher := range a.watchers {
		watchers = append(watchers, watcher)
	}
	a.watchers = make(map[string]*TaskWatcher)
	a.watchersMu.Unlock()

	for _, watcher := range watchers {
		watcher.Stop()
	}

	if a.feed != nil {
		a.feed.Close()
	}

	if err := database.Close(a.db); err != nil {
		a.log.Warnf("error closing cache database: %v", err)
	}
}
