package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/config"
	"github.com/dokzlo13/huebridge/internal/ledger"
)

// HistoryService prunes old fire history entries.
type HistoryService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewHistoryService creates a new HistoryService. A nil ledger disables it.
func NewHistoryService(cfg *config.Config, l *ledger.Ledger) *HistoryService {
	return &HistoryService{cfg: cfg, ledger: l}
}

// Start runs the cleanup loop until ctx is cancelled.
func (s *HistoryService) Start(ctx context.Context) {
	if s.ledger == nil {
		return
	}

	interval := s.cfg.History.CleanupInterval.Duration()
	retention := s.retention()
	log.Info().
		Dur("interval", interval).
		Dur("retention", retention).
		Msg("Starting fire history cleanup")

	s.cleanup(retention)
	go s.run(ctx, interval, retention)
}

func (s *HistoryService) retention() time.Duration {
	return time.Duration(s.cfg.History.RetentionDays) * 24 * time.Hour
}

func (s *HistoryService) run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(retention)
		}
	}
}

func (s *HistoryService) cleanup(retention time.Duration) {
	deleted, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}
