package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"TriggerHub/internal/dispatcher"
	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/evaluator"
	"TriggerHub/internal/indicator"
	"TriggerHub/internal/registry"
	"TriggerHub/internal/usecase"
	pkgcache "TriggerHub/pkg/cache"
	pkgch "TriggerHub/pkg/clickhouse"
	"TriggerHub/pkg/config"
	xhttp "TriggerHub/pkg/http"
	pkgkafka "TriggerHub/pkg/kafka"
	applogger "TriggerHub/pkg/logger"
)

// Checkpoint keys for warm state persisted across restarts.
const (
	checkpointKey      = "indicator:checkpoint"
	stateCheckpointKey = "evaluator:checkpoint"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	collector  *usecase.CandleCollector
	eval       *evaluator.Evaluator
	disp       *dispatcher.Dispatcher
	reg        *registry.Registry
	indicators *indicator.Cache
	states     *evaluator.StateStore
	checkpoint pkgcache.Service
	bus        domrepo.TriggerBus
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	chClient   *pkgch.Client
	httpServer *xhttp.Server
	handlers   []xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	collector *usecase.CandleCollector,
	eval *evaluator.Evaluator,
	disp *dispatcher.Dispatcher,
	reg *registry.Registry,
	indicators *indicator.Cache,
	states *evaluator.StateStore,
	checkpoint pkgcache.Service,
	bus domrepo.TriggerBus,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:        cfg,
		logger:     logger,
		collector:  collector,
		eval:       eval,
		disp:       disp,
		reg:        reg,
		indicators: indicators,
		states:     states,
		checkpoint: checkpoint,
		bus:        bus,
		consumer:   consumer,
		kh:         kh,
		chClient:   chClient,
	}
}

// AddHTTPHandler registers a route group on the HTTP server.
func (a *App) AddHTTPHandler(h xhttp.Handler) {
	a.handlers = append(a.handlers, h)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	a.restoreCheckpoint(ctx)

	a.httpServer = xhttp.NewServer(multiHandler(a.handlers),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Delivery side first so the evaluator never emits into a dead queue.
	a.disp.Start()
	a.eval.Start(ctx)
	l.Info("evaluator started")

	go func() {
		if err := a.collector.Start(ctx); err != nil {
			l.Error("candle collector error", applogger.Error(err))
		}
	}()
	l.Info("candle collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	go a.sweepLoop(ctx)

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// sweepLoop periodically retires conditions with no active subscribers.
func (a *App) sweepLoop(ctx context.Context) {
	interval := a.cfg.Registry.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.reg.SweepInactive(ctx, time.Now().UTC())
			if err != nil {
				a.logger.Warn("registry sweep error", applogger.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("registry sweep retired conditions", applogger.Int("count", n))
			}
		}
	}
}

func (a *App) restoreCheckpoint(ctx context.Context) {
	if a.checkpoint == nil || a.indicators == nil {
		return
	}
	var entries []indicator.CheckpointEntry
	err := a.checkpoint.Get(ctx, checkpointKey, &entries)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			a.logger.Warn("indicator checkpoint load failed", applogger.Error(err))
		}
		return
	}
	n := a.indicators.RestoreCheckpoint(entries)
	a.logger.Info("indicator checkpoint restored",
		applogger.Int("entries", len(entries)), applogger.Int("restored", n))

	if a.states == nil {
		return
	}
	var states []evaluator.StateCheckpoint
	if err := a.checkpoint.Get(ctx, stateCheckpointKey, &states); err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			a.logger.Warn("evaluation state checkpoint load failed", applogger.Error(err))
		}
		return
	}
	restored := a.states.RestoreCheckpoint(states)
	a.logger.Info("evaluation state restored",
		applogger.Int("entries", len(states)), applogger.Int("restored", restored))
}

func (a *App) saveCheckpoint(ctx context.Context) {
	if a.checkpoint == nil || a.indicators == nil {
		return
	}
	entries := a.indicators.Checkpoint()
	if len(entries) == 0 {
		return
	}
	if err := a.checkpoint.Set(ctx, checkpointKey, entries, 0); err != nil {
		a.logger.Warn("indicator checkpoint save failed", applogger.Error(err))
		return
	}
	a.logger.Info("indicator checkpoint saved", applogger.Int("entries", len(entries)))

	if a.states == nil {
		return
	}
	states := a.states.Checkpoint()
	if len(states) == 0 {
		return
	}
	if err := a.checkpoint.Set(ctx, stateCheckpointKey, states, 0); err != nil {
		a.logger.Warn("evaluation state checkpoint save failed", applogger.Error(err))
		return
	}
	a.logger.Info("evaluation state saved", applogger.Int("entries", len(states)))
}

// shutdown gracefully stops all services. Ordering matters: stop the
// candle intake first, drain evaluation, then drain delivery, and only
// then close the infrastructure clients everything above writes to.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger
	l.Info("shutting down...")

	if err := a.collector.Shutdown(); err != nil {
		l.Warn("candle collector stop error", applogger.Error(err))
	}

	a.eval.Close()
	a.disp.Close()

	a.saveCheckpoint(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			l.Warn("trigger bus close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

// multiHandler fans RegisterRoutes out to every registered route group.
type multiHandler []xhttp.Handler

func (m multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
