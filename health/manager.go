package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

const defaultCheckTimeout = 5 * time.Second

type Manager struct {
	logger       types.Logger
	service      types.ServiceInfo
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	checkTimeout time.Duration
	build        BuildInfo
	state        types.StateHolder
	mu           sync.RWMutex
}

func NewManager(logger types.Logger, service types.ServiceInfo, config *types.HealthConfig) *Manager {
	timeout := defaultCheckTimeout
	if config != nil && config.CheckTimeout > 0 {
		timeout = config.CheckTimeout
	}

	return &Manager{
		logger:       logger,
		service:      service,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: timeout,
		build:        ReadBuildInfo(),
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Check runs every registered checker concurrently under the check timeout.
// A checker that panics or overruns is reported unhealthy.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var (
		g         errgroup.Group
		resultsMu sync.Mutex
		results   = make(map[string]types.HealthCheck, len(checkers))
	)

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	report := hm.buildReport(results)
	if report.Status != types.StatusHealthy {
		hm.logger.Warn("Health check degraded",
			zap.String("status", string(report.Status)),
			zap.Int("unhealthy", report.Summary.Unhealthy))
	}

	return report
}

func (hm *Manager) Start() error {
	if !hm.state.Transition(types.StateStopped, types.StateRunning) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.state.Transition(types.StateRunning, types.StateStopped) {
		hm.logger.Warn("Health manager is not running")
		return types.ErrServerNotRunning
	}

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.state.IsRunning()
}

// Handler serves the report as JSON: 200 when healthy, 503 otherwise.
func (hm *Manager) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !hm.IsRunning() {
			ctx.Error(types.ErrServerNotRunning.Error(), fasthttp.StatusServiceUnavailable)
			return
		}

		report := hm.Check(ctx)

		data, err := utils.Marshal(report)
		if err != nil {
			hm.logger.Error("Failed to encode health report", zap.Error(err))
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}

		status := fasthttp.StatusOK
		if report.Status != types.StatusHealthy {
			status = fasthttp.StatusServiceUnavailable
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(status)
		ctx.SetBody(data)
	}
}

func (hm *Manager) VersionHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data, err := utils.Marshal(types.VersionInfo{
			Name:      hm.service.Name,
			Version:   hm.service.Version,
			BuildInfo: hm.build.String(),
		})
		if err != nil {
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(data)
	}
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: types.ErrHealthCheckTimeout.Error(),
		}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{Total: len(results)}

	overall := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overall = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overall == types.StatusHealthy {
				overall = types.StatusUnknown
			}
		}
	}

	var uptime time.Duration
	if !hm.startTime.IsZero() {
		uptime = time.Since(hm.startTime)
	}

	return types.HealthReport{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    uptime,
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}
