package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/pkg/jobs"
)

// JobTypePurgeTokens identifies the scheduled refresh token purge job.
const JobTypePurgeTokens = "purge-refresh-tokens"

type tokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CleanupService removes refresh tokens that are expired or revoked. A jobs
// queue drives it on a fixed interval.
type CleanupService struct {
	tokens  tokenPurger
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCleanupService creates an instance of CleanupService.
func NewCleanupService(tokens tokenPurger, metrics *MetricsService, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupService{tokens: tokens, metrics: metrics, logger: logger}
}

// PurgeTokens deletes dead refresh tokens and reports how many went.
func (s *CleanupService) PurgeTokens(ctx context.Context) (int64, error) {
	purged, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged dead refresh tokens", zap.Int64("count", purged))
	}
	s.metrics.ObserveTokensPurged(purged)
	return purged, nil
}

// HandleJob dispatches queued maintenance jobs.
func (s *CleanupService) HandleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobTypePurgeTokens:
		_, err := s.PurgeTokens(ctx)
		return err
	default:
		s.logger.Warn("unknown maintenance job", zap.String("type", job.Type))
		return nil
	}
}
