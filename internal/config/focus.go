package config

import (
	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// FocusService owns the user's focus configuration. Every save validates,
// persists, mirrors strictMode for the adapters, and pushes a recompute
// request (in-process callback when the scheduler is co-resident, the
// recomputeRequested flag for other contexts).
type FocusService struct {
	shared      *store.Shared
	logger      *zap.Logger
	onRecompute func(reason string)
}

// NewFocusService creates the configuration service.
func NewFocusService(shared *store.Shared, logger *zap.Logger) *FocusService {
	return &FocusService{shared: shared, logger: logger}
}

// OnChange registers the in-process recompute push. Settings mutations
// are pushed to the scheduler, never polled.
func (s *FocusService) OnChange(fn func(reason string)) {
	s.onRecompute = fn
}

// Current returns the persisted configuration (normalized, defaulted).
func (s *FocusService) Current() domain.FocusConfig {
	return s.shared.FocusConfig()
}

// Update validates and persists a new configuration, then triggers a
// recompute.
func (s *FocusService) Update(cfg domain.FocusConfig) (domain.FocusConfig, error) {
	normalized := cfg.Normalize()

	if err := s.shared.WriteFocusConfig(normalized); err != nil {
		return domain.FocusConfig{}, err
	}

	s.logger.Info("focus configuration updated",
		zap.Int("duration_min", normalized.DurationMinutes),
		zap.Int("buffer_min", normalized.BufferMinutes),
		zap.Bool("strict", normalized.StrictMode),
		zap.Int("prayers", len(normalized.SelectedPrayers)))

	if s.onRecompute != nil {
		s.onRecompute("config changed")
	} else if err := s.shared.SetRecomputeRequested(); err != nil {
		s.logger.Warn("failed to request recompute", zap.Error(err))
	}
	return normalized, nil
}
