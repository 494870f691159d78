package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelLister is the slice of the inference client the backend service needs
type ModelLister interface {
	ListModels(ctx context.Context) (json.RawMessage, error)
	Health(ctx context.Context) error
}

// ModelsCache stores the model listing between calls. Get returns nil on a miss.
type ModelsCache interface {
	Get(ctx context.Context) (json.RawMessage, error)
	Set(ctx context.Context, listing json.RawMessage) error
}

// Pinger reports the health of a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of the health endpoint
type HealthStatus struct {
	Status         string `json:"status"`
	VLLMStatus     string `json:"vllm_status"`
	DatabaseStatus string `json:"database_status"`
	Timestamp      string `json:"timestamp"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// BackendService exposes the backend's model listing and health
type BackendService struct {
	backend ModelLister
	cache   ModelsCache
	db      Pinger
	now     func() time.Time
}

// NewBackendService creates a new backend service. cache may be nil.
func NewBackendService(backend ModelLister, cache ModelsCache, db Pinger) *BackendService {
	return &BackendService{
		backend: backend,
		cache:   cache,
		db:      db,
		now:     time.Now,
	}
}

// Models returns the backend model listing, served from cache when possible
func (s *BackendService) Models(ctx context.Context) (json.RawMessage, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("models cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	listing, err := s.backend.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, listing); err != nil {
			log.Warn().Err(err).Msg("models cache write failed")
		}
	}
	return listing, nil
}

// Health reports gateway status with best-effort backend and database probes.
// The gateway itself is always reported healthy when it can answer.
func (s *BackendService) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:         statusHealthy,
		VLLMStatus:     statusHealthy,
		DatabaseStatus: statusHealthy,
		Timestamp:      s.now().Format(time.RFC3339),
	}

	if err := s.backend.Health(ctx); err != nil {
		log.Debug().Err(err).Msg("backend health probe failed")
		status.VLLMStatus = statusUnhealthy
	}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("database ping failed")
			status.DatabaseStatus = statusUnhealthy
		}
	}
	return status
}
