// Package service contains the business logic layer.
//
// This file implements the quota tracker: a read-through view over usage
// counters that reports consumption against a tier's limits.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CounterStore reads usage counters. Counts are written elsewhere; the only
// write this service performs is the set-once grace anchor.
type CounterStore interface {
	// GetCounter returns nil, nil when no counter exists for the period.
	GetCounter(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) (*domain.UsageCounter, error)

	// MarkLimitReached stores at as the limit-reached time if none is stored
	// and returns the stored value.
	MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error)
}

// QuotaService reports usage against limits.
//
// Reads are weakly consistent: counters are incremented by the execution
// service, so a count may trail the true value by up to one in-flight
// increment. A check that races the increment crossing the limit can
// therefore allow one extra operation.
type QuotaService interface {
	// GetUsage returns the raw usage for the current period. A missing
	// counter is zero usage.
	GetUsage(ctx context.Context, userID uuid.UUID, usageType domain.UsageType) (domain.Usage, error)

	// Evaluate returns the usage status for a limit. It never fails: a store
	// error yields Level unknown with zero usage.
	Evaluate(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, limit *int64, thresholds domain.Thresholds) domain.UsageStatus

	// MarkLimitReached records the grace anchor once per period.
	MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error)
}

// =============================================================================
// Implementation
// =============================================================================

// counterReadTimeout bounds a shared counter read. The read outlives the
// request that started it so coalesced callers are not cancelled with it.
const counterReadTimeout = 5 * time.Second

type quotaService struct {
	store  CounterStore
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store CounterStore, logger *slog.Logger) QuotaService {
	return &quotaService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// GetUsage returns the current period's usage. Concurrent reads of the same
// counter share one store round trip.
func (s *quotaService) GetUsage(ctx context.Context, userID uuid.UUID, usageType domain.UsageType) (domain.Usage, error) {
	const op = "quota.get_usage"

	period := domain.PeriodStartFor(s.now())
	key := fmt.Sprintf("%s:%s:%d", userID, usageType, period.Unix())

	ch := s.group.DoChan(key, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), counterReadTimeout)
		defer cancel()
		return s.store.GetCounter(readCtx, userID, usageType, period)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return domain.Usage{}, domain.Unavailable(ctx.Err(), op, "usage read abandoned")
	case res = <-ch:
	}
	if res.Err != nil {
		return domain.Usage{}, domain.Unavailable(res.Err, op, "usage counter unavailable")
	}

	c, _ := res.Val.(*domain.UsageCounter)
	if c == nil {
		return domain.Usage{PeriodStart: period}, nil
	}

	u := domain.Usage{
		Used:        c.Count,
		PeriodStart: c.PeriodStart,
	}
	if c.LimitReachedAt != nil {
		t := *c.LimitReachedAt
		u.LimitReachedAt = &t
	}
	return u, nil
}

// Evaluate computes remaining, percentage and level for a limit.
func (s *quotaService) Evaluate(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, limit *int64, thresholds domain.Thresholds) domain.UsageStatus {
	if !thresholds.Valid() {
		thresholds = domain.DefaultThresholds()
	}

	usage, err := s.GetUsage(ctx, userID, usageType)
	if err != nil {
		metrics.CounterStoreErrorsTotal.Inc()
		s.logger.Warn("Usage counter read failed",
			"user_id", userID,
			"usage_type", usageType,
			"error", err,
		)
		return domain.UsageStatus{
			UsageType:   usageType,
			Limit:       copyLimit(limit),
			Level:       domain.UsageLevelUnknown,
			PeriodStart: domain.PeriodStartFor(s.now()),
		}
	}

	return Status(usageType, usage, limit, thresholds)
}

// MarkLimitReached records the grace anchor.
func (s *quotaService) MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error) {
	const op = "quota.mark_limit_reached"

	anchor, err := s.store.MarkLimitReached(ctx, userID, usageType, periodStart, at)
	if err != nil {
		return time.Time{}, domain.Unavailable(err, op, "failed to record limit reached")
	}
	return anchor, nil
}

// Status derives a UsageStatus from raw usage.
//
// Remaining is clamped at zero and percentage at [0,100]. A zero limit is
// fully consumed. Unlimited yields nil Limit and Remaining and 0%.
func Status(usageType domain.UsageType, usage domain.Usage, limit *int64, thresholds domain.Thresholds) domain.UsageStatus {
	st := domain.UsageStatus{
		UsageType:      usageType,
		Used:           usage.Used,
		PeriodStart:    usage.PeriodStart,
		LimitReachedAt: usage.LimitReachedAt,
	}

	if limit == nil {
		st.Level = domain.UsageLevelOK
		return st
	}

	l := *limit
	st.Limit = &l
	st.Remaining = domain.Int64(max(l-usage.Used, 0))

	switch {
	case l <= 0:
		st.PercentageUsed = 100
	default:
		st.PercentageUsed = min(max(float64(usage.Used)/float64(l)*100, 0), 100)
	}
	st.Level = thresholds.Classify(st.PercentageUsed)
	return st
}

func copyLimit(limit *int64) *int64 {
	if limit == nil {
		return nil
	}
	l := *limit
	return &l
}
