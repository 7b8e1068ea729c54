// Package app wires runtime components and owns the process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"monalert/internal/api"
	"monalert/internal/asset"
	"monalert/internal/bus"
	"monalert/internal/clock"
	"monalert/internal/config"
	"monalert/internal/engine"
	"monalert/internal/ingest"
	"monalert/internal/logging"
	"monalert/internal/metrics"
	"monalert/internal/notify"
	"monalert/internal/sched"
	"monalert/internal/store"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable alerting service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      store.Store
	publisher  bus.Publisher
	engine     *engine.Engine
	dispatcher *notify.Dispatcher
	escalator  *sched.Escalator
	retry      *sched.RetryWorker
	consumer   interface{ Close() error }
	apiSrv     *http.Server
	metricsSrv *http.Server
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	if err := service.buildStore(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildPublisher(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildCore(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildConsumer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildServers()

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	// Reconcile deliveries interrupted by a previous crash before new work starts.
	if _, err := s.retry.SweepStalePending(shutdownCtx); err != nil {
		s.logger.Error("startup pending sweep failed", "error", err.Error())
	}

	errChan := make(chan error, 2)
	go func() {
		s.logger.Info("api server starting", "listen", s.cfg.API.Listen)
		err := s.apiSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("api server failed: %w", err)
		}
	}()
	if s.metricsSrv != nil {
		go func() {
			s.logger.Info("metrics server starting", "listen", s.cfg.Metrics.Listen)
			err := s.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	var loops sync.WaitGroup
	if s.cfg.Escalation.Enabled {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.escalator.Run(shutdownCtx)
		}()
	}
	if s.cfg.Retry.Enabled {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.retry.Run(shutdownCtx)
		}()
	}

	s.readyFlag.Store(true)
	s.logger.Info("service started", "mode", s.cfg.Service.Mode, "store", s.cfg.Store.Driver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = err
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCancel()
	loops.Wait()
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			s.logger.Error("bus consumer close failed", "error", err.Error())
			markErr(fmt.Errorf("bus consumer close: %w", err))
		}
	}
	if err := s.apiSrv.Shutdown(ctx); err != nil {
		s.logger.Error("api shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("api shutdown: %w", err))
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Error("metrics shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("bus publisher close failed", "error", err.Error())
			markErr(fmt.Errorf("bus publisher close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.consumer != nil {
		_ = s.consumer.Close()
		s.consumer = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildStore creates the persistence backend from config.
// Params: none.
// Returns: setup error.
func (s *Service) buildStore() error {
	switch s.cfg.Store.Driver {
	case config.StoreDriverMemory:
		s.store = store.NewMemoryStore(s.clock.Now)
		return nil
	case config.StoreDriverSQLite:
		sqliteStore, err := store.NewSQLiteStore(s.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		s.store = sqliteStore
		return nil
	default:
		return fmt.Errorf("unsupported store driver %q", s.cfg.Store.Driver)
	}
}

// buildPublisher creates the outbound bus publisher for the service mode.
// Params: none.
// Returns: setup error.
func (s *Service) buildPublisher() error {
	if isSingleMode(s.cfg) {
		s.publisher = bus.NopPublisher{}
		return nil
	}
	publisher, err := bus.NewNATSPublisher(s.cfg.Bus)
	if err != nil {
		return err
	}
	s.publisher = publisher
	return nil
}

// buildCore wires engine, dispatcher, and schedulers.
// Params: none.
// Returns: setup error from template compilation.
func (s *Service) buildCore() error {
	var assets asset.Provider
	if s.cfg.Asset.Enabled {
		assets = asset.NewHTTPProvider(s.cfg.Asset)
	}

	s.engine = engine.New(s.store, assets, s.publisher, s.cfg.Bus, s.clock, s.logger)

	dispatcher, err := notify.NewDispatcher(s.store, s.cfg.Notify, s.clock, s.logger)
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher

	s.escalator = sched.NewEscalator(s.store, s.engine, s.dispatcher, s.cfg.Escalation, s.clock, s.logger)
	s.retry = sched.NewRetryWorker(s.store, s.dispatcher, s.cfg.Retry, s.clock, s.logger)
	return nil
}

// buildConsumer starts bus ingest when the mode requires it.
// Params: none.
// Returns: initialization error.
func (s *Service) buildConsumer() error {
	if isSingleMode(s.cfg) {
		return nil
	}
	handler := ingest.NewHandler(s.engine, s.dispatcher, s.logger)
	consumer, err := ingest.NewConsumer(s.cfg.Bus, s.cfg.Consumer, handler, s.logger)
	if err != nil {
		return err
	}
	s.consumer = consumer
	return nil
}

// buildServers configures the API and metrics HTTP servers.
// Params: none.
// Returns: servers stored on the service.
func (s *Service) buildServers() {
	apiServer := api.NewServer(s.engine, s.dispatcher, &s.readyFlag, s.logger)
	s.apiSrv = apiServer.HTTPServer(s.cfg.API)
	if s.cfg.Metrics.Enabled {
		s.metricsSrv = metrics.NewServer(s.cfg.Metrics.Listen)
	}
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
