// Package engine wires the provisioning core together: database-backed
// services, the task runner, scheduled jobs, the Telegram notifier and
// the intake/ops HTTP API.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"xsell/config"
	"xsell/engine/controller"
	"xsell/engine/job"
	"xsell/engine/service"
	"xsell/engine/worker"
	"xsell/logger"
)

// Engine is the long-running provisioning process.
type Engine struct {
	httpServer *http.Server

	planService      *service.PlanService
	provisionService *service.ProvisionService
	reconcileService *service.ReconcileService
	serverService    service.ServerService
	inboundService   service.InboundService
	taskService      service.TaskService
	tgbot            service.Tgbot

	runner *worker.Runner
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine() *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	plans := &service.PlanService{}
	provision := service.NewProvisionService(plans)

	return &Engine{
		planService:      plans,
		provisionService: provision,
		reconcileService: service.NewReconcileService(provision),
		runner:           worker.NewRunner(config.GetWorkerCount(), config.GetTaskMaxRetries()),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (e *Engine) Start() (err error) {
	defer func() {
		if err != nil {
			e.Stop()
		}
	}()

	if err := e.planService.Load(config.GetPlanCatalogPath()); err != nil {
		// A missing catalog still serves trials
		logger.Warningf("plan catalog not loaded (%v), only trials available", err)
	}

	if config.IsTgBotEnabled() {
		if err := e.tgbot.Start(config.GetTgBotToken()); err != nil {
			logger.Warning("telegram notifier failed to start:", err)
		}
	}

	e.registerHandlers()
	e.runner.Start()

	if err = e.startCron(); err != nil {
		return err
	}

	return e.startHTTP()
}

func (e *Engine) startCron() error {
	e.cron = cron.New(cron.WithSeconds())

	type schedule struct {
		spec string
		job  cron.Job
	}
	schedules := []schedule{
		{"@every 1m", job.NewCheckServerHealthJob()},
		{"@every 5m", job.NewReconcileJob(e.reconcileService)},
		{"@every 5m", job.NewClientUsageJob()},
		{"@every 10m", job.NewSyncInboundsJob()},
		{"@every 10m", job.NewServerStatsJob()},
		{"@daily", job.NewTaskPruneJob()},
	}
	for _, s := range schedules {
		if _, err := e.cron.AddJob(s.spec, s.job); err != nil {
			return err
		}
	}

	e.cron.Start()
	return nil
}

func (e *Engine) startHTTP() error {
	if config.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.DefaultWriter = nil
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	controller.NewAPIController(router.Group("/"), e.provisionService, e.planService)

	e.httpServer = &http.Server{
		Addr:    config.GetAPIListenAddr(),
		Handler: router,
	}

	go func() {
		logger.Infof("intake API listening on %s", e.httpServer.Addr)
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("intake API stopped:", err)
		}
	}()
	return nil
}

// Stop shuts the engine down in dependency order: no new HTTP intake, no
// new scheduled work, then drain the workers.
func (e *Engine) Stop() error {
	var firstErr error

	if e.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
		e.httpServer = nil
	}

	if e.cron != nil {
		e.cron.Stop()
		e.cron = nil
	}

	if e.runner != nil {
		e.runner.Stop()
	}

	if e.tgbot.IsRunning() {
		e.tgbot.Stop()
	}

	e.cancel()
	return firstErr
}
