// Package schedule maintains the rolling multi-day prayer-time cache.
// The calculation is cheap but network-dependent, while the scheduler
// must never block on network: the cache is two-tier (fresh, then stale,
// then error only when nothing exists at all).
package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// FetchDays is how many consecutive days are requested per refresh,
// starting today.
const FetchDays = 5

// Cache serves prayer times for a location, refreshing from the external
// calculator when the stored table is stale or the device has drifted.
type Cache struct {
	source domain.ScheduleSource
	shared *store.Shared
	logger *zap.Logger
	now    func() time.Time
}

// NewCache creates a schedule cache backed by the shared store.
func NewCache(source domain.ScheduleSource, shared *store.Shared, logger *zap.Logger) *Cache {
	return &Cache{
		source: source,
		shared: shared,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// usable reports whether the stored cache can serve the location right
// now: fetched on the current calendar day AND within drift tolerance.
func (c *Cache) usable(cached *domain.ScheduleCache, loc domain.Location) bool {
	if cached == nil || len(cached.Days) == 0 {
		return false
	}
	if !cached.SameDay(c.now()) {
		return false
	}
	return cached.Location.WithinTolerance(loc)
}

// Get returns up to FetchDays of schedules for the location, refreshing
// when needed. On refresh failure the stale cache is served if present;
// ErrNoSchedule is surfaced only when nothing exists at all.
func (c *Cache) Get(ctx context.Context, loc domain.Location) ([]domain.DaySchedule, error) {
	cached := c.shared.ScheduleCache()
	if c.usable(cached, loc) {
		return cached.Days, nil
	}

	fresh, err := c.Refresh(ctx, loc)
	if err == nil {
		return fresh.Days, nil
	}

	if cached != nil && len(cached.Days) > 0 {
		c.logger.Warn("schedule refresh failed, serving stale cache",
			zap.Time("fetched_at", cached.FetchedAt),
			zap.Error(err))
		return cached.Days, nil
	}
	return nil, domain.ErrNoSchedule
}

// Day returns the five prayer times for one calendar day, if covered.
func (c *Cache) Day(ctx context.Context, loc domain.Location, day time.Time) ([]domain.PrayerTime, error) {
	days, err := c.Get(ctx, loc)
	if err != nil {
		return nil, err
	}
	dy, dm, dd := day.Date()
	for _, d := range days {
		y, m, dn := d.Day.Date()
		if y == dy && m == dm && dn == dd {
			return d.Times, nil
		}
	}
	return nil, fmt.Errorf("day %s not covered by cache", day.Format("2006-01-02"))
}

// Refresh fetches FetchDays consecutive days starting today and replaces
// the stored cache wholesale. Tolerant of partial failure: if day k
// fails, days 0..k-1 are still used.
func (c *Cache) Refresh(ctx context.Context, loc domain.Location) (*domain.ScheduleCache, error) {
	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var days []domain.DaySchedule
	for i := 0; i < FetchDays; i++ {
		day := today.AddDate(0, 0, i)
		times, err := c.source.Compute(ctx, loc, day)
		if err != nil {
			c.logger.Warn("schedule fetch failed for day",
				zap.String("day", day.Format("2006-01-02")),
				zap.Int("days_fetched", len(days)),
				zap.Error(err))
			break
		}
		days = append(days, domain.DaySchedule{Day: day, Times: times})
	}

	if len(days) == 0 {
		return nil, fmt.Errorf("schedule fetch failed for all days: %w", domain.ErrNoSchedule)
	}

	fresh := &domain.ScheduleCache{
		FetchedAt: now,
		Location:  loc,
		Days:      days,
	}
	if err := c.shared.WriteScheduleCache(fresh); err != nil {
		// The fetched table is still good for this run.
		c.logger.Warn("failed to persist schedule cache", zap.Error(err))
	}

	c.logger.Info("schedule cache refreshed",
		zap.Int("days", len(days)),
		zap.Float64("lat", loc.Lat),
		zap.Float64("lon", loc.Lon))
	return fresh, nil
}

// WaitForSchedule polls until a usable schedule exists or the timeout
// elapses. Used once at cold start so today's windows can be armed before
// the user does anything; the caller proceeds regardless after timeout.
func (c *Cache) WaitForSchedule(ctx context.Context, loc domain.Location, timeout time.Duration) ([]domain.DaySchedule, error) {
	deadline := c.now().Add(timeout)
	for {
		days, err := c.Get(ctx, loc)
		if err == nil {
			return days, nil
		}
		if c.now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
