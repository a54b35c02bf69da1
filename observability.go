package changefeed

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
)

// NewSlogLogger adapts a *slog.Logger to Logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewJSONLogger returns a Logger writing JSON lines to w at level
// ("debug", "info", "warn" or "error").
func NewJSONLogger(w io.Writer, level string) Logger {
	return logging.NewSlogJSON(w, level)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return logging.NewNop()
}

// NewPrometheusMetrics returns a MetricsCollector exporting to reg.
//
// Collectors are registered on first use, so creating a collector that is
// never passed to a Processor registers nothing.
//
// Parameters:
//   - reg: Prometheus registerer (prometheus.DefaultRegisterer when nil)
//   - namespace: Metric name prefix (default "changefeed")
//
// Returns:
//   - MetricsCollector: Collector for WithMetrics
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}

// NewNopMetrics returns a MetricsCollector that records nothing.
func NewNopMetrics() MetricsCollector {
	return metrics.NewNop()
}
