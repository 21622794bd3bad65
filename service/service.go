package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/vinyl-tracker/cache"
	"github.com/saiset-co/vinyl-tracker/config"
	"github.com/saiset-co/vinyl-tracker/database"
	"github.com/saiset-co/vinyl-tracker/health"
	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/metrics"
	"github.com/saiset-co/vinyl-tracker/middleware"
	"github.com/saiset-co/vinyl-tracker/server"
	"github.com/saiset-co/vinyl-tracker/types"
)

const (
	defaultStartTimeout    = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Service wires the store, the dataset caches, the domain services and the
// ops surface, and runs them until the context ends or a signal arrives.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	doneOnce        sync.Once
	wg              sync.WaitGroup
	state           types.StateHolder
	startTimeout    time.Duration
	shutdownTimeout time.Duration
	instanceID      string

	config  *types.ServiceConfig
	logger  types.Logger
	metrics types.MetricsManager
	store   types.Store
	caches  *Caches
	tracker types.KeyIndex[int, string]
	health  *health.Manager
	ops     *server.OpsServer

	Vinyls     *VinylService
	Users      *UserService
	UserVinyls *UserVinylService
	Facade     *Facade
}

// NewService loads the config file and builds the service from it.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	cfg, err := config.NewLoader().LoadFromFile(ctx, configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to build logger")
	}

	return New(ctx, cfg, log)
}

// New builds every component from an already loaded config. Nothing is
// started until Start.
func New(ctx context.Context, cfg *types.ServiceConfig, log types.Logger) (*Service, error) {
	instanceID := uuid.NewString()

	mm, err := metrics.NewMetrics(log, cfg.Metrics)
	if err != nil && !types.IsError(err, types.ErrMetricsIsDisabled) {
		return nil, types.WrapError(err, "failed to build metrics")
	}

	store, err := database.NewStore(log, cfg.Database)
	if err != nil {
		return nil, types.WrapError(err, "failed to build store")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		startTimeout:    defaultStartTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		instanceID:      instanceID,
		config:          cfg,
		logger:          log,
		metrics:         mm,
		store:           store,
		tracker:         cache.NewKeyTracker[int, string](),
	}

	s.caches = NewCaches(cfg.Cache, log, mm)
	s.Vinyls = NewVinylService(log, store.Vinyls(), store.Users(), s.caches, s.tracker)
	s.Users = NewUserService(log, store.Users(), s.caches)
	s.UserVinyls = NewUserVinylService(log, store.UserVinyls(), s.caches)
	s.Facade = NewFacade(log, s.Vinyls, s.Users, s.UserVinyls)

	s.health = health.NewManager(log, types.ServiceInfo{
		Name:       cfg.Name,
		Version:    cfg.Version,
		InstanceID: instanceID,
	}, cfg.Health)
	s.health.RegisterChecker("database", s.checkDatabase)
	s.health.RegisterChecker("cache", s.checkCaches)

	if cfg.Server != nil && cfg.Server.Enabled {
		s.ops = server.NewOpsServer(log, cfg.Server, mm)
		s.ops.Use(middleware.Recovery(log, mm), middleware.Logging(log))
		if cfg.Server.Compression != nil && cfg.Server.Compression.Enabled {
			s.ops.Use(middleware.Compression(log, cfg.Server.Compression))
		}
		s.ops.GET("/health", s.health.Handler())
		s.ops.GET("/version", s.health.VersionHandler())
		s.ops.GET("/cache", server.JSONHandler(log, func() interface{} {
			return s.caches.Stats()
		}))
		if mm != nil {
			s.ops.GET("/metrics", mm.Handler())
		}
	}

	return s, nil
}

// Start brings the components up and blocks until the service stops. A
// service runs once: its caches are shut down on the way out, so Start after
// a finished run returns ErrServiceFinished.
func (s *Service) Start() error {
	select {
	case <-s.done:
		s.logger.Warn("Service already finished, build a new one to run again")
		return types.ErrServiceFinished
	default:
	}

	if !s.state.Transition(types.StateStopped, types.StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.state.Set(types.StateStopped)
				s.finish()
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service", zap.String("name", s.config.Name), zap.String("instance_id", s.instanceID))

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.state.Set(types.StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			s.logger.Error("Error during rollback", zap.Error(stopErr))
		}
		s.finish()
		return types.WrapError(err, "failed to start components")
	}

	s.state.Set(types.StateRunning)
	s.setupSignalHandling()

	s.logger.Info("Service started successfully")

	<-s.ctx.Done()

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.state.Set(types.StateStopped)
	s.finish()

	s.logger.Info("Service stopped gracefully")
	return nil
}

// Stop asks a running service to shut down. Wait on Done for completion.
func (s *Service) Stop() error {
	if !s.state.Transition(types.StateRunning, types.StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServerNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()
	return nil
}

func (s *Service) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.state.IsRunning()
}

func (s *Service) Caches() *Caches {
	return s.caches
}

func (s *Service) Health() *health.Manager {
	return s.health
}

// OpsAddr is the bound ops server address, empty when it is disabled.
func (s *Service) OpsAddr() string {
	if s.ops == nil {
		return ""
	}
	return s.ops.Addr()
}

func (s *Service) startComponents(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Start(); err != nil {
		return types.WrapError(err, "failed to start store")
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.metrics != nil {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := s.metrics.Start(); err != nil {
				s.logger.Error("Failed to start metrics manager", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		if err := s.health.Start(); err != nil {
			s.logger.Error("Failed to start health manager", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return types.NewErrorf("component startup timeout: %v", err)
	}

	if s.ops != nil {
		if err := s.ops.Start(); err != nil {
			return types.WrapError(err, "failed to start ops server")
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

// stopComponents runs in reverse start order. The caches go last so that
// in-flight requests drained by the ops server still hit them.
func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	s.logger.Info("Stopping service components...")

	if s.ops != nil && s.ops.IsRunning() {
		if err := s.ops.Stop(); err != nil {
			s.logger.Error("Failed to stop ops server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.health.IsRunning() {
		g.Go(func() error {
			return s.health.Stop()
		})
	}
	if s.metrics != nil && s.metrics.IsRunning() {
		g.Go(func() error {
			return s.metrics.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if s.store.IsRunning() {
		if err := s.store.Stop(); err != nil {
			s.logger.Error("Failed to stop store", zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.caches.Shutdown()

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.state.Transition(types.StateRunning, types.StateStopping) {
				s.cancel()
			}
		case <-s.ctx.Done():
			s.logger.Debug("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) checkDatabase(ctx context.Context) types.HealthCheck {
	if err := s.store.Ping(ctx); err != nil {
		return types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: err.Error(),
			Details: map[string]interface{}{"type": s.config.Database.Type},
		}
	}

	return types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"type": s.config.Database.Type},
	}
}

func (s *Service) checkCaches(context.Context) types.HealthCheck {
	details := make(map[string]interface{})
	for _, stats := range s.caches.Stats() {
		details[stats.Name] = stats.Entries
	}

	if !s.caches.Healthy() {
		return types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: "cache sweeper stopped",
			Details: details,
		}
	}

	return types.HealthCheck{Status: types.StatusHealthy, Details: details}
}
