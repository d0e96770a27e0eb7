package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup initializes logging, metrics and tracing in one call and returns the
// tracer shutdown hook plus the handler to mount on /metrics.
func Setup(serviceName string) (func(context.Context) error, http.Handler) {
	InitLogger()
	InitMetrics()
	tracerShutdown := InitTracing(serviceName)
	return tracerShutdown, promhttp.Handler()
}
