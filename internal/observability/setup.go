package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/upi-crypto-offramp/internal/config"
	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup wires logs, metrics and traces and returns the tracer shutdown hook
// together with the /metrics handler.
func Setup(ctx context.Context, serviceName string, cfg *config.Config) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(cfg.Env)
	observability.InitMetrics()
	tracerShutdown, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return tracerShutdown, promhttp.Handler(), nil
}
