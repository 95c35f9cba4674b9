package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	verificationCounter prometheus.Counter
	tracerShutdown      func(context.Context) error
}

// Attach configures telemetry exporters and returns a provider handle.
func Attach(ctx context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	counter := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "optin",
		Name:      "verification_requests_total",
		Help:      "Total number of one-time code requests",
	})

	provider := &Provider{
		verificationCounter: counter,
	}

	if cfg.Telemetry.TracingEndpoint != "" {
		shutdown, err := initTracing(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		provider.tracerShutdown = shutdown
	}

	return provider, nil
}

// VerificationCounter exposes the code request metric.
func (p *Provider) VerificationCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.verificationCounter
}

// Shutdown flushes and stops any attached exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracerShutdown == nil {
		return nil
	}
	return p.tracerShutdown(ctx)
}
