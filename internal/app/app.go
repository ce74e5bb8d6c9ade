// Package app wires storage, services, the tracking engine and the HTTP
// surface from a single configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jengzang/lifecycle-backend-go/internal/analysis"
	"github.com/jengzang/lifecycle-backend-go/internal/api"
	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/database"
	"github.com/jengzang/lifecycle-backend-go/internal/export"
	"github.com/jengzang/lifecycle-backend-go/internal/geofence"
	"github.com/jengzang/lifecycle-backend-go/internal/handler"
	"github.com/jengzang/lifecycle-backend-go/internal/middleware"
	"github.com/jengzang/lifecycle-backend-go/internal/repository"
	"github.com/jengzang/lifecycle-backend-go/internal/scheduler"
	"github.com/jengzang/lifecycle-backend-go/internal/service"
	"github.com/jengzang/lifecycle-backend-go/internal/tracking"
)

const topCategories = 10

// App holds every long-lived component
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB

	PlaceRepo *repository.PlaceRepository
	VisitRepo *repository.VisitRepository
	SleepRepo *repository.SleepRepository
	TaskRepo  *repository.AnalysisTaskRepository
	TagRepo   *repository.VisitTagRepository

	Fences    *geofence.Registry
	Places    *service.PlaceService
	Sleep     *service.SleepService
	Timeline  *service.TimelineService
	Tags      *service.VisitTagService
	Tasks     *service.AnalysisTaskService
	Engine    *tracking.Engine
	Scheduler *scheduler.Scheduler

	limiter *middleware.RateLimiter
}

// New opens the database and builds all components. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(database.Config{Path: cfg.Database.Path, Logger: logger})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		PlaceRepo: repository.NewPlaceRepository(db),
		VisitRepo: repository.NewVisitRepository(db),
		SleepRepo: repository.NewSleepRepository(db),
		TaskRepo:  repository.NewAnalysisTaskRepository(db),
		TagRepo:   repository.NewVisitTagRepository(db),
		Fences:    geofence.NewRegistry(logger),
	}

	a.Places = service.NewPlaceService(a.PlaceRepo, a.Fences, cfg.Tracking.DefaultRadiusMeters, logger)
	a.Sleep, err = service.NewSleepService(a.SleepRepo, cfg.Sleep, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sleep service: %w", err)
	}
	a.Timeline = service.NewTimelineService(a.VisitRepo, a.SleepRepo, a.Sleep.Location())
	a.Tags = service.NewVisitTagService(a.TagRepo)

	registry := analysis.NewRegistry()
	registry.Register(analysis.NewSleepBackfillAnalyzer(a.VisitRepo, a.Sleep, logger))
	registry.Register(analysis.NewStayStatisticsAnalyzer(a.VisitRepo, a.Sleep.Location(), topCategories))
	runner := analysis.NewRunner(a.TaskRepo, registry, logger)
	a.Tasks = service.NewAnalysisTaskService(a.TaskRepo, runner, logger)

	deps := tracking.Deps{
		Places: a.Places,
		Visits: a.VisitRepo,
		Sleep:  a.Sleep,
		Fences: a.Fences,
		Logger: logger,
	}
	if cfg.Tracking.SoftwareGeofencing {
		deps.Monitor = a.Fences
	}
	a.Engine = tracking.NewEngine(deps, tracking.OptionsFromConfig(cfg.Tracking))

	a.Scheduler = scheduler.New(a.Tasks, cfg.Scheduler, logger)

	return a, nil
}

// Start recovers open visits and starts the scheduler
func (a *App) Start(ctx context.Context) error {
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	return a.Scheduler.Start(ctx)
}

// Router builds the HTTP handler
func (a *App) Router() *gin.Engine {
	if a.limiter == nil && a.Config.Server.RateLimit > 0 {
		window := time.Duration(a.Config.Server.RateLimitWindow) * time.Second
		a.limiter = middleware.NewRateLimiter(a.Config.Server.RateLimit, window)
	}

	h := &api.Handlers{
		Events:   handler.NewEventHandler(a.Engine),
		Places:   handler.NewPlaceHandler(a.Places),
		Timeline: handler.NewTimelineHandler(a.Timeline),
		Tags:     handler.NewVisitTagHandler(a.Tags),
		Sleep:    handler.NewSleepHandler(a.Sleep),
		Tasks:    handler.NewAnalysisTaskHandler(a.Tasks),
	}
	return api.SetupRouter(a.Config.Server, h, a.limiter, a.Logger)
}

// Snapshot collects everything stored for export
func (a *App) Snapshot(ctx context.Context) (*export.Snapshot, error) {
	return export.Build(ctx, a.PlaceRepo, a.VisitRepo, a.SleepRepo, time.Now())
}

// Export writes a JSON backup of everything stored
func (a *App) Export(ctx context.Context, w io.Writer) error {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	return export.WriteJSON(w, snap)
}

// Close flushes the active session, stops background work and closes the database
func (a *App) Close(ctx context.Context) error {
	a.Scheduler.Stop()

	if summary, err := a.Engine.Shutdown(ctx); err != nil {
		a.Logger.Error("Failed to flush tracking session", zap.Error(err))
	} else if summary != nil {
		a.Logger.Info("Flushed tracking session",
			zap.Int64("visit_id", summary.VisitID),
			zap.String("category", summary.Category),
		)
	}

	a.Tasks.Close()
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return a.DB.Close()
}
