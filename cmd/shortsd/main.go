// Command shortsd runs the autonomous short-form video production daemon:
// it accepts a source URL and intent, drives the 8-stage pipeline to a
// finished vertical reel, and delivers it back to the requester.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"shortsd/internal/capabilities"
	"shortsd/internal/config"
	"shortsd/internal/delivery"
	"shortsd/internal/events"
	"shortsd/internal/hooks"
	"shortsd/internal/model"
	"shortsd/internal/pipeline"
	"shortsd/internal/queue"
	"shortsd/internal/recovery"
	"shortsd/internal/stagerunner"
	"shortsd/internal/statestore"
	"shortsd/internal/workspace"
)

// app bundles every daemon-lifetime collaborator the CLI commands need,
// built once at startup in the construction order documented in
// SPEC_FULL.md §D: Clock -> EventBus -> WorkspaceManager -> Queue ->
// HookScheduler -> RecoveryChain. Per-run collaborators (state store,
// session store, stage runner, orchestrator) are built fresh for each run
// by runForWorkspace.
type app struct {
	cfg       *config.Config
	clock     capabilities.Clock
	bus       *events.Bus
	wsManager *workspace.Manager
	q         *queue.Queue
	hookSched *hooks.Scheduler
	chain     *recovery.Chain
	messenger capabilities.Messenger
}

func buildApp(cfg *config.Config) (*app, error) {
	clock := capabilities.RealClock{}
	bus := events.New()

	wsManager, err := workspace.NewManager(cfg.RunsRoot)
	if err != nil {
		return nil, fmt.Errorf("build app: workspace manager: %w", err)
	}

	q, err := queue.New(cfg.QueueRoot, clock)
	if err != nil {
		return nil, fmt.Errorf("build app: queue: %w", err)
	}

	messenger := capabilities.NewConsoleMessenger()
	bus.SubscribeAll(events.SubscriberFunc(func(evt model.PipelineEvent) error {
		log.WithFields(log.Fields{"run_id": evt.RunID, "stage": evt.Stage, "kind": evt.Kind}).Debug("event published")
		return nil
	}))
	bus.SubscribeAll(events.NewNotifierSubscriber(messenger, clock, 10*time.Second))

	hookSched := hooks.New(clock, cfg.HookInterJobDelay)

	chain := recovery.New(
		recovery.NewRetryHandler(cfg.RecoveryMaxRetries),
		recovery.NewForkHandler(),
		recovery.NewFreshSessionHandler(),
		recovery.NewBackendSwapHandler(),
		recovery.NewDowngradeHandler(),
		recovery.NewEscalateHandler(messenger),
	)

	return &app{
		cfg:       cfg,
		clock:     clock,
		bus:       bus,
		wsManager: wsManager,
		q:         q,
		hookSched: hookSched,
		chain:     chain,
		messenger: messenger,
	}, nil
}

// runBundle holds every per-run collaborator: a run-scoped bus (forwarding
// to the daemon-wide bus plus carrying this run's journal and checkpoint
// writers), the state store, and an orchestrator wired to both.
type runBundle struct {
	bus   *events.Bus
	store *statestore.Store
	orch  *pipeline.Orchestrator
}

// runForWorkspace binds a fresh stagerunner.Runner, statestore.Store, and
// per-run event bus to ws. Session handles and the statestore journal are
// per-run, so these collaborators are rebuilt for every run; only the
// queue, hook scheduler, and recovery chain are process-lifetime
// singletons shared across runs.
func (a *app) runForWorkspace(ws *workspace.Workspace) *runBundle {
	store := statestore.New(ws)

	runBus := events.New()
	runBus.SubscribeAll(events.SubscriberFunc(func(evt model.PipelineEvent) error {
		a.bus.Publish(evt)
		return nil
	}))
	runBus.SubscribeAll(events.NewJournalWriter(store))
	runBus.SubscribeAll(events.NewCheckpointWriter(store, a.clock))

	sessions := statestore.NewSessionStore(ws)
	runner := stagerunner.New(unavailableBackend{}, unavailableDispatcher{}, sessions, runBus, a.clock, a.cfg.ReflectionMaxAttempts)
	deliveryTracker := delivery.NewTracker(unavailableObjectStore{}, a.messenger, a.clock, a.cfg.ObjectStoreInlineLimitBytes)
	orch := pipeline.New(runner, a.chain, a.hookSched, runBus, unavailableMediaProcessor{}, deliveryTracker, a.clock)

	return &runBundle{bus: runBus, store: store, orch: orch}
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	cfg := config.Load()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	a, err := buildApp(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize shortsd")
	}

	if err := rootCmd(a).Execute(); err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func rootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "shortsd",
		Short: "Autonomous short-form video production daemon",
	}
	root.AddCommand(runCmd(a), enqueueCmd(a), serveCmd(a), queueStatusCmd(a))
	return root
}

func runCmd(a *app) *cobra.Command {
	var style, instructions, resumeFrom string
	var targetDuration int64
	cmd := &cobra.Command{
		Use:   "run [url] [message]",
		Short: "Run one request to completion in the foreground",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			message := ""
			if len(args) > 1 {
				message = args[1]
			}

			opts := model.Options{TargetDuration: targetDuration, FramingStyle: style, Instructions: instructions}
			if resumeFrom != "" {
				opts.ResumeStage = model.Stage(resumeFrom)
			}

			runID := uuid.New().String()
			now := a.clock.Now()
			ws, err := a.wsManager.Create(runID, now)
			if err != nil {
				return fmt.Errorf("run: create workspace: %w", err)
			}

			run := &model.Run{RunID: runID, SourceURL: url, Message: message, Options: opts, CreatedAt: now, CurrentStage: model.StageRouter}
			bundle := a.runForWorkspace(ws)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := bundle.orch.RunToCompletion(ctx, ws, bundle.store, run); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Printf("run %s finished with status %s\n", runID, run.ExitStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "initial framing style")
	cmd.Flags().StringVar(&instructions, "instructions", "", "free-form creative instructions")
	cmd.Flags().Int64Var(&targetDuration, "target-duration", 0, "target reel duration in seconds")
	cmd.Flags().StringVar(&resumeFrom, "resume", "", "stage name recorded in the run's options (the run still starts at the first stage in a new workspace)")
	return cmd
}

func enqueueCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "enqueue [url]",
		Short: "Enqueue a request for the daemon to process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := model.QueueItem{
				ItemID:     uuid.New().String(),
				EnqueuedAt: a.clock.Now(),
				URL:        args[0],
				Message:    message,
			}
			added, err := a.q.Enqueue(item)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			if !added {
				fmt.Println("duplicate item, not enqueued")
				return nil
			}
			fmt.Printf("enqueued %s\n", item.ItemID)
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "the original message text accompanying the URL")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: consume the queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := a.q.ReapStaleLeases(a.cfg.StaleLeaseAge); err != nil {
				log.WithError(err).Warn("reap stale leases at startup")
			}
			if err := a.q.AcquireConsumerLock(); err != nil {
				return fmt.Errorf("serve: acquire consumer lock: %w", err)
			}
			defer a.q.ReleaseConsumerLock()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("serve: create inbox watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(a.q.InboxDir()); err != nil {
				return fmt.Errorf("serve: watch inbox: %w", err)
			}

			// Schedules are parsed once and walked forward with .Next, the
			// same pattern the cron library uses internally, rather than
			// reaching for the full Cron runner for two fixed-interval jobs.
			heartbeatSchedule, err := cron.ParseStandard(fmt.Sprintf("@every %s", a.cfg.HeartbeatInterval))
			if err != nil {
				return fmt.Errorf("serve: parse heartbeat schedule: %w", err)
			}
			reapSchedule, err := cron.ParseStandard(fmt.Sprintf("@every %s", a.cfg.StaleLeaseAge))
			if err != nil {
				return fmt.Errorf("serve: parse reap schedule: %w", err)
			}
			nextHeartbeat := heartbeatSchedule.Next(a.clock.Now())
			nextReap := reapSchedule.Next(a.clock.Now())

			// poll is a fallback wake-up in case an inbox write races the
			// watcher's Add call; fsnotify is the common case, not the only one.
			poll := time.NewTicker(time.Second)
			defer poll.Stop()

			log.Info("shortsd daemon started")
			for {
				if now := a.clock.Now(); !now.Before(nextHeartbeat) {
					if err := a.q.Heartbeat(); err != nil {
						log.WithError(err).Warn("heartbeat failed")
					}
					nextHeartbeat = heartbeatSchedule.Next(now)
				}
				if now := a.clock.Now(); !now.Before(nextReap) {
					if n, err := a.q.ReapStaleLeases(a.cfg.StaleLeaseAge); err != nil {
						log.WithError(err).Warn("reap stale leases")
					} else if n > 0 {
						log.WithField("count", n).Info("reaped stale leases")
					}
					nextReap = reapSchedule.Next(now)
				}

				item, err := a.q.ClaimNext()
				if err == nil {
					a.processItem(ctx, item)
					continue
				}
				if err != queue.ErrEmpty {
					log.WithError(err).Error("claim next item")
					continue
				}

				select {
				case <-ctx.Done():
					log.Info("shortsd daemon shutting down")
					return nil
				case _, ok := <-watcher.Events:
					if !ok {
						return nil
					}
				case watchErr, ok := <-watcher.Errors:
					if ok {
						log.WithError(watchErr).Warn("inbox watcher error")
					}
				case <-poll.C:
				}
			}
		},
	}
}

func (a *app) processItem(ctx context.Context, item model.QueueItem) {
	runID := uuid.New().String()
	now := a.clock.Now()
	ws, err := a.wsManager.Create(runID, now)
	if err != nil {
		log.WithError(err).Error("create workspace for queued item")
		_ = a.q.Acknowledge(item.ItemID, queue.OutcomeFailed)
		return
	}

	run := &model.Run{RunID: runID, SourceURL: item.URL, Message: item.Message, Options: item.Options, CreatedAt: now, CurrentStage: model.StageRouter}
	bundle := a.runForWorkspace(ws)

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go func() {
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-time.After(max(a.cfg.HeartbeatInterval, time.Second)):
				if err := a.q.Heartbeat(); err != nil {
					log.WithError(err).Warn("heartbeat during run failed")
				}
			}
		}
	}()

	outcome := queue.OutcomeCompleted
	if err := bundle.orch.RunToCompletion(ctx, ws, bundle.store, run); err != nil {
		log.WithError(err).WithField("run_id", runID).Error("run failed")
		outcome = queue.OutcomeFailed
	}
	if err := a.q.Acknowledge(item.ItemID, outcome); err != nil {
		log.WithError(err).Warn("acknowledge queue item")
	}
}

func queueStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-status",
		Short: "Print the number of items waiting in the work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, err := a.q.Depth()
			if err != nil {
				return fmt.Errorf("queue-status: %w", err)
			}
			fmt.Printf("inbox depth: %d\n", depth)
			return nil
		},
	}
}
