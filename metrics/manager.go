package metrics

import (
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

// NewMetrics picks the backend named by config.Type. A disabled config yields
// ErrMetricsIsDisabled so callers can run without instrumentation.
func NewMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	var manager types.MetricsManager
	switch config.Type {
	case "", "memory":
		manager = NewMemoryMetrics(logger, config)
	case "prometheus":
		manager = NewPrometheusMetrics(logger, config)
	default:
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}

	logger.Info("Metrics manager initialized", zap.String("type", config.Type))
	return manager, nil
}
