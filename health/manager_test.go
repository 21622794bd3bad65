package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

func newTestManager(timeout time.Duration) *Manager {
	return NewManager(logger.NewNop(),
		types.ServiceInfo{Name: "vinyl-tracker", Version: "test", InstanceID: "abc"},
		&types.HealthConfig{CheckTimeout: timeout})
}

func healthy(context.Context) types.HealthCheck {
	return types.HealthCheck{Status: types.StatusHealthy}
}

func TestManager_AllHealthy(t *testing.T) {
	hm := newTestManager(time.Second)
	hm.RegisterChecker("store", healthy)
	hm.RegisterChecker("caches", healthy)

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Healthy)
	assert.Equal(t, "store", report.Checks["store"].Name)
	assert.Equal(t, "abc", report.Service.InstanceID)
}

func TestManager_PanicAndTimeoutAreUnhealthy(t *testing.T) {
	hm := newTestManager(50 * time.Millisecond)
	hm.RegisterChecker("ok", healthy)
	hm.RegisterChecker("panics", func(context.Context) types.HealthCheck { panic("boom") })
	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(time.Second)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Unhealthy)
	assert.Contains(t, report.Checks["panics"].Message, "boom")
	assert.Equal(t, types.ErrHealthCheckTimeout.Error(), report.Checks["slow"].Message)
}

func TestManager_UnknownDegradesStatus(t *testing.T) {
	hm := newTestManager(time.Second)
	hm.RegisterChecker("ok", healthy)
	hm.RegisterChecker("unknown", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	assert.Equal(t, types.StatusUnknown, hm.Check(context.Background()).Status)
}

func TestManager_Handler(t *testing.T) {
	hm := newTestManager(time.Second)
	hm.RegisterChecker("store", healthy)

	ctx := &fasthttp.RequestCtx{}
	hm.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	require.NoError(t, hm.Start())
	defer hm.Stop()

	ctx = &fasthttp.RequestCtx{}
	hm.Handler()(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusHealthy, report.Status)
}

func TestManager_VersionHandler(t *testing.T) {
	hm := newTestManager(time.Second)

	ctx := &fasthttp.RequestCtx{}
	hm.VersionHandler()(ctx)

	var info types.VersionInfo
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &info))
	assert.Equal(t, "test", info.Version)
	assert.NotEmpty(t, info.BuildInfo)
}

func TestBuildInfo_String(t *testing.T) {
	b := BuildInfo{
		Revision:  "0123456789abcdef",
		Modified:  true,
		BuildTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		GoVersion: "go1.24",
		Platform:  "linux/amd64",
	}
	assert.Equal(t, "0123456-dirty (2024-03-01, go1.24 linux/amd64)", b.String())
}
