// -----------------------------------------------------------------------
// Application container - wires configuration, storage, services, handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/handlers"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
	"github.com/ternarybob/courier/internal/services/bridge"
	"github.com/ternarybob/courier/internal/services/dispatch"
	"github.com/ternarybob/courier/internal/services/ingress"
	"github.com/ternarybob/courier/internal/services/poller"
	"github.com/ternarybob/courier/internal/services/registry"
	"github.com/ternarybob/courier/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config     *common.Config
	Logger     arbor.ILogger
	InstanceID string

	// Delivery subsystem
	JobStore       interfaces.JobStore
	Registry       *registry.Registry
	IngressService *ingress.Service
	RedisBridge    *bridge.RedisBridge

	// Chat subsystem
	BackendClient *dispatch.Client
	Poller        *poller.Poller
	Orchestrator  *dispatch.Orchestrator

	// Retention sweep
	sweeper *cron.Cron

	// Broadcast feed consumed by the WebSocket hub
	wsFeed *interfaces.Subscription

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	UpdateHandler *handlers.UpdateHandler
	StatusHandler *handlers.StatusHandler
	SSEHandler    *handlers.SSEHandler
	ChatHandler   *handlers.ChatHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		InstanceID: uuid.New().String(),
	}

	if err := app.initServices(); err != nil {
		return nil, err
	}
	app.initHandlers()
	app.startSweeper()
	app.startWebSocketFeed()

	return app, nil
}

func (a *App) initServices() error {
	store, err := storage.NewJobStore(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	a.JobStore = store

	a.Registry = registry.NewRegistry(a.Logger)

	// With the Redis bridge enabled, ingested updates reach subscribers on
	// every replica; otherwise fan-out is local to this process.
	var publisher interfaces.UpdatePublisher = a.Registry
	if a.Config.Redis.Enabled {
		redisBridge, err := bridge.NewRedisBridge(a.Config.Redis, a.Registry, a.InstanceID, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis bridge: %w", err)
		}
		a.RedisBridge = redisBridge
		publisher = redisBridge
	}

	retention := common.ParseDurationOr(a.Config.Delivery.Retention, 2*time.Minute)
	a.IngressService = ingress.NewService(a.JobStore, publisher, retention, a.Logger)

	a.BackendClient = dispatch.NewClientFromConfig(a.Config.Backend, a.Logger)

	pollInterval := common.ParseDurationOr(a.Config.Delivery.PollInterval, 0)
	a.Poller = poller.NewPoller(a.IngressService.Lookup, pollInterval, a.Config.Delivery.PollMaxAttempts, a.Logger)

	a.Orchestrator = dispatch.NewOrchestrator(a.BackendClient, a.Registry, a.Poller, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	heartbeat := common.ParseDurationOr(a.Config.Delivery.HeartbeatInterval, 0)

	a.APIHandler = handlers.NewAPIHandler()
	a.UpdateHandler = handlers.NewUpdateHandler(a.IngressService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.IngressService, a.Logger)
	a.SSEHandler = handlers.NewSSEHandler(a.IngressService, a.Registry, heartbeat, a.Logger)
	a.ChatHandler = handlers.NewChatHandler(a.Orchestrator, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(&a.Config.WebSocket, a.Logger)
}

// startSweeper schedules the retention sweep that removes terminal records
// whose deletion timer did not survive a restart.
func (a *App) startSweeper() {
	schedule := a.Config.Delivery.SweepSchedule
	if schedule == "" {
		return
	}

	a.sweeper = cron.New()
	_, err := a.sweeper.AddFunc(schedule, func() {
		if _, err := a.IngressService.SweepExpired(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		a.Logger.Warn().
			Err(err).
			Str("schedule", schedule).
			Msg("Invalid sweep schedule, retention sweep disabled")
		a.sweeper = nil
		return
	}

	a.sweeper.Start()
	a.Logger.Info().Str("schedule", schedule).Msg("Retention sweep scheduled")
}

// startWebSocketFeed pipes every ingested update into the WebSocket hub via
// a broadcast subscription, and into the orchestrator so a terminal update
// for a job no watch is tracking still lands in its session's conversation.
func (a *App) startWebSocketFeed() {
	a.wsFeed = a.Registry.Subscribe(models.BroadcastJobID)
	go func() {
		for update := range a.wsFeed.C {
			a.WSHandler.BroadcastUpdate(update)
			a.Orchestrator.ReconcileUpdate(update)
		}
	}()
}

// Close shuts down all application components in reverse dependency order.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application components")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}

	if a.wsFeed != nil {
		a.Registry.Unsubscribe(a.wsFeed)
	}
	if a.Registry != nil {
		a.Registry.Close()
	}

	if a.RedisBridge != nil {
		if err := a.RedisBridge.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close redis bridge")
		}
	}

	if a.IngressService != nil {
		a.IngressService.Close()
	}

	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close job store")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
