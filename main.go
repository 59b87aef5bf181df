package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"deepwatch/internal/auth"
	"deepwatch/internal/cache"
	"deepwatch/internal/config"
	"deepwatch/internal/database"
	"deepwatch/internal/models"
	"deepwatch/internal/services/result"
)

func main() {
	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "deepwatch",
	})
	if os.Getenv("LOG_LEVEL") == "DEBUG" {
		log.SetLevel(charmlog.DebugLevel)
	}

	root := &cli.Command{
		Name:  "deepwatch",
		Usage: "Track live progress of server-executed research tasks",
		Commands: []*cli.Command{
			watchCommand(log),
			resultCommand(log),
			feedbackCommand(log),
			accountCommand(log),
			loginCommand(log),
			logoutCommand(log),
			cacheCommand(log),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func watchCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch a research task until it completes or is interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Task id to watch", Required: true},
			&cli.IntFlag{Name: "breadth", Aliases: []string{"b"}, Usage: "Research breadth parameter", Value: 2},
			&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Usage: "Research depth parameter", Value: 2},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			taskID := cmd.String("task")
			watcher, err := app.WatchTask(ctx, taskID, int(cmd.Int("breadth")), int(cmd.Int("depth")))
			if err != nil {
				return err
			}

			// The command exits once the task reports complete AND the
			// result artifact exists, or on interrupt.
			done := make(chan struct{})
			var once sync.Once
			var complete, available atomic.Bool
			finishWhenReady := func() {
				if complete.Load() && available.Load() {
					once.Do(func() { close(done) })
				}
			}

			watcher.Progress.SetNotifier(func(view models.TaskProgressView) {
				head, ok := view.Head()
				if !ok {
					return
				}
				log.Infof("task %s: %d%% (%d/%d records) latest=%q complete=%v",
					view.TaskID, view.Percentage, len(view.Records), view.ExpectedTotal, head.Label, view.IsComplete)
				if view.IsComplete {
					complete.Store(true)
					finishWhenReady()
				}
			})
			watcher.Progress.SetSourcesNotifier(func(recordID string, added []models.Source) {
				for _, source := range added {
					log.Infof("record %s found source: %s", recordID, source.URL)
				}
			})
			watcher.Result.SetOnAvailable(func(availability models.ResultAvailability) {
				log.Infof("result for task %s is available, fetch it with: deepwatch result --task %s",
					availability.TaskID, availability.TaskID)
				available.Store(true)
				finishWhenReady()
			})

			view := watcher.Progress.View()
			log.Infof("watching task %s (%d/%d records, %d%%)",
				taskID, len(view.Records), view.ExpectedTotal, view.Percentage)

			// The watcher may already be complete+available from the seed
			if view.IsComplete {
				complete.Store(true)
			}
			if watcher.Result.Availability().Available {
				available.Store(true)
			}
			finishWhenReady()

			select {
			case <-ctx.Done():
			case <-done:
				log.Infof("task %s finished", taskID)
			}
			return nil
		},
	}
}

func resultCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "result",
		Usage: "Fetch the final report of a finished task",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Task id", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			resultService := result.NewService(cmd.String("task"), app.apiClient, nil, app.cache, cfg.ResultTTL, log)
			research, err := resultService.Fetch(ctx)
			if err != nil {
				return err
			}

			fmt.Println(research.Report)
			for _, source := range research.Sources {
				fmt.Printf("- %s (%s)\n", source.Title, source.URL)
			}
			return nil
		},
	}
}

func feedbackCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "feedback",
		Usage: "Rate a finished task",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Task id", Required: true},
			&cli.IntFlag{Name: "rating", Aliases: []string{"r"}, Usage: "Rating from 1 to 5", Required: true},
			&cli.StringFlag{Name: "comment", Aliases: []string{"c"}, Usage: "Optional comment"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			taskID := cmd.String("task")
			submitted, err := app.HasSubmittedFeedback(ctx, taskID)
			if err != nil {
				return err
			}
			if submitted {
				log.Infof("task %s already has your feedback", taskID)
				return nil
			}

			if err := app.SubmitFeedback(ctx, taskID, int(cmd.Int("rating")), cmd.String("comment")); err != nil {
				return err
			}
			log.Infof("feedback for task %s submitted", taskID)
			return nil
		},
	}
}

func accountCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Show the signed-in user's profile",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			profile, err := app.Profile(ctx)
			if err != nil {
				return err
			}
			email, err := app.Email(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("%s <%s>\n", profile.DisplayName, email)
			return nil
		},
	}
}

func loginCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Store an API access token in the system keychain",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "Access token", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := auth.SaveToken(cmd.String("token")); err != nil {
				return err
			}
			log.Info("access token stored")
			return nil
		},
	}
}

func logoutCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the stored token and wipe cached entities",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := auth.DeleteToken(); err != nil {
				return err
			}

			db, err := database.Init(configDatabaseURL(), log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := cache.New(db, log).Clear(); err != nil {
				return err
			}
			log.Info("signed out")
			return nil
		},
	}
}

func cacheCommand(log *charmlog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the local entity cache",
		Commands: []*cli.Command{
			{
				Name:  "evict",
				Usage: "Remove expired and stale entries",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					db, err := database.Init(configDatabaseURL(), log)
					if err != nil {
						return err
					}
					defer database.Close(db)

					evicted, err := cache.New(db, log).EvictExpired()
					if err != nil {
						return err
					}
					log.Infof("evicted %d entries", evicted)
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Remove every cached entry",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					db, err := database.Init(configDatabaseURL(), log)
					if err != nil {
						return err
					}
					defer database.Close(db)

					if err := cache.New(db, log).Clear(); err != nil {
						return err
					}
					log.Info("cache cleared")
					return nil
				},
			},
		},
	}
}

// configDatabaseURL resolves the database URL without requiring the full
// config (cache commands work offline, no API URL needed).
func configDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return "sqlite://./deepwatch.db"
}
