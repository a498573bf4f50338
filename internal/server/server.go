package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/savedsearch/internal/metrics"
	"github.com/alfredjeanlab/savedsearch/internal/searches"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "savedsearch.v1.SavedSearches"

// Pinger reports whether the backing stores are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SearchServer serves the saved-search API over HTTP and the ops surface
// over gRPC.
type SearchServer struct {
	searches *searches.Service
	stores   Pinger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	health   *health.Server
}

// NewSearchServer returns a SearchServer. metrics may be nil.
func NewSearchServer(svc *searches.Service, stores Pinger, m *metrics.Metrics, logger *slog.Logger) *SearchServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchServer{
		searches: svc,
		stores:   stores,
		metrics:  m,
		logger:   logger,
		health:   health.NewServer(),
	}
}

// CheckHealth pings the stores once and updates the gRPC health status.
func (s *SearchServer) CheckHealth(ctx context.Context) error {
	err := s.stores.Ping(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return err
}

// RunHealthChecks calls CheckHealth every interval until ctx is done.
func (s *SearchServer) RunHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		err := s.CheckHealth(ctx)
		if err != nil && healthy {
			s.logger.Warn("store health check failed", "error", err)
		} else if err == nil && !healthy {
			s.logger.Info("store health check recovered")
		}
		healthy = err == nil

		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
