package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/store"
)

type accessFixture struct {
	svc      *accessService
	counters *store.MemoryCounters
	audit    *store.MemoryAudit
	subs     *store.MemorySubscribers
	clock    *clock
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()

	f := &accessFixture{
		counters: store.NewMemoryCounters(),
		audit:    store.NewMemoryAudit(),
		subs:     store.NewMemorySubscribers(),
		clock:    newClock(time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC)),
	}

	quota := NewQuotaService(f.counters, testLogger()).(*quotaService)
	quota.now = f.clock.Now

	directory := NewSubscriberService(f.subs, testLogger())
	f.svc = NewAccessService(defaultCatalog(t), quota, directory, f.audit, AccessConfig{}, testLogger()).(*accessService)
	f.svc.now = f.clock.Now
	return f
}

func (f *accessFixture) use(userID uuid.UUID, n int64) {
	f.counters.Add(userID, domain.UsageTypeScan, domain.PeriodStartFor(f.clock.Now()), n)
}

func scanRequirement() domain.FeatureRequirement {
	return domain.FeatureRequirement{
		RequiredTier:    domain.TierFree,
		UsageType:       domain.UsageTypeScan,
		CheckUsageLimit: true,
	}
}

func intPtr(v int) *int { return &v }

// =============================================================================
// End-to-end scenarios
// =============================================================================

func TestAccess_FreeUserAtLimitDenied(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 10)

	d := f.svc.Check(context.Background(), user, scanRequirement())

	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonUsageLimit, d.Reason)
	require.NotNil(t, d.Details)
	require.NotNil(t, d.Details.Usage)
	assert.Equal(t, int64(10), d.Details.Usage.Used)
	assert.Equal(t, int64(0), *d.Details.Usage.Remaining)
	assert.Equal(t, domain.UsageLevelCritical, d.Details.Usage.Level)
}

func TestAccess_GracePeriod(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 10)

	req := scanRequirement()
	req.GracePeriodDays = intPtr(3)

	d := f.svc.Check(context.Background(), user, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonGracePeriod, d.Reason)
	require.NotNil(t, d.Details.GraceEndsAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 3), *d.Details.GraceEndsAt)

	// The anchor is stamped once; later checks measure from it.
	f.clock.Advance(48 * time.Hour)
	d = f.svc.Check(context.Background(), user, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonGracePeriod, d.Reason)

	f.clock.Advance(25 * time.Hour)
	d = f.svc.Check(context.Background(), user, req)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonUsageLimit, d.Reason)
}

func TestAccess_GracePeriodUsesStoredAnchor(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 12)

	period := domain.PeriodStartFor(f.clock.Now())
	_, err := f.counters.MarkLimitReached(context.Background(), user.UserID, domain.UsageTypeScan, period, f.clock.Now().Add(-4*24*time.Hour))
	require.NoError(t, err)

	req := scanRequirement()
	req.GracePeriodDays = intPtr(3)

	d := f.svc.Check(context.Background(), user, req)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonUsageLimit, d.Reason)
}

func TestAccess_EnterpriseUnlimited(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierEnterprise}
	f.use(user.UserID, 1_000_000)

	d := f.svc.Check(context.Background(), user, scanRequirement())

	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonNone, d.Reason)
	require.NotNil(t, d.Details.Usage)
	assert.Nil(t, d.Details.Usage.Limit)
	assert.Nil(t, d.Details.Usage.Remaining)
	assert.Zero(t, d.Details.Usage.PercentageUsed)
}

func TestAccess_Unauthenticated(t *testing.T) {
	f := newAccessFixture(t)

	for _, subj := range []domain.Subject{
		{},
		{UserID: uuid.New()},
		{UserID: uuid.New(), Tier: "gold"},
		{Tier: domain.TierTeam},
	} {
		d := f.svc.Check(context.Background(), subj, scanRequirement())
		assert.False(t, d.Allowed)
		assert.Equal(t, domain.ReasonTier, d.Reason)
		require.NotNil(t, d.Details)
		assert.True(t, d.Details.RequiredAuth)
	}
}

// =============================================================================
// Decision steps
// =============================================================================

func TestAccess_TierDenied(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierUser}

	d := f.svc.Check(context.Background(), user, domain.FeatureRequirement{RequiredTier: domain.TierTeam})
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonTier, d.Reason)
	assert.Equal(t, domain.TierUser, d.Details.CurrentTier)
	assert.Equal(t, domain.TierTeam, d.Details.RequiredTier)
	assert.False(t, d.Details.RequiredAuth)
}

func TestAccess_FeatureFlagDenied(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}

	d := f.svc.Check(context.Background(), user, domain.FeatureRequirement{RequiredTier: domain.TierFree, Feature: "team_sharing"})
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonTier, d.Reason)
	assert.Equal(t, domain.TierTeam, d.Details.RequiredTier)
	assert.Equal(t, domain.Feature("team_sharing"), d.Details.Feature)

	d = f.svc.Check(context.Background(), domain.Subject{UserID: uuid.New(), Tier: domain.TierTeam},
		domain.FeatureRequirement{RequiredTier: domain.TierFree, Feature: "team_sharing"})
	assert.True(t, d.Allowed)
}

func TestAccess_NoUsageCheck(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 50)

	d := f.svc.Check(context.Background(), user, domain.FeatureRequirement{RequiredTier: domain.TierFree})
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonNone, d.Reason)
	assert.Nil(t, d.Details)
}

func TestAccess_WarningStillAllowed(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 9)

	d := f.svc.Check(context.Background(), user, scanRequirement())
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonNone, d.Reason)
	assert.Equal(t, domain.UsageLevelCritical, d.UsageLevel(), "critical below the limit does not deny")
	assert.Equal(t, int64(1), *d.Details.Usage.Remaining)
}

func TestAccess_PerRequirementThresholds(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 3)

	req := scanRequirement()
	req.Thresholds = &domain.Thresholds{Warning: 25, Critical: 50}

	d := f.svc.Check(context.Background(), user, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.UsageLevelWarning, d.UsageLevel())
}

func TestAccess_ZeroThresholdsUseDefaults(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 3)

	req := scanRequirement()
	req.Thresholds = &domain.Thresholds{}

	d := f.svc.Check(context.Background(), user, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.UsageLevelOK, d.UsageLevel())
}

func TestAccess_SoftLimit(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}
	f.use(user.UserID, 11)

	req := scanRequirement()
	req.SoftLimit = true

	d := f.svc.Check(context.Background(), user, req)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonUsageLimit, d.Reason)
	assert.Equal(t, int64(11), d.Details.Usage.Used)
}

func TestAccess_UsageTypeNotGranted(t *testing.T) {
	f := newAccessFixture(t)
	user := domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}

	d := f.svc.Check(context.Background(), user, domain.FeatureRequirement{
		RequiredTier: domain.TierFree, UsageType: domain.UsageTypeLogCapture, CheckUsageLimit: true,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonUsageLimit, d.Reason)
	assert.Equal(t, int64(0), *d.Details.Usage.Limit)
}

// =============================================================================
// Fail-open
// =============================================================================

type faultyPolicy struct {
	TierPolicy
	failCompare bool
	panicLimit  bool
	panicFlag   bool
}

func (p faultyPolicy) CompareTiers(a, b domain.Tier) (int, error) {
	if p.failCompare {
		return 0, errors.New("tier table unreadable")
	}
	return p.TierPolicy.CompareTiers(a, b)
}

func (p faultyPolicy) HasFeature(tier domain.Tier, f domain.Feature) bool {
	if p.panicFlag {
		panic("flag table corrupted")
	}
	return p.TierPolicy.HasFeature(tier, f)
}

func (p faultyPolicy) LimitFor(tier domain.Tier, u domain.UsageType) *int64 {
	if p.panicLimit {
		panic("limit table corrupted")
	}
	return p.TierPolicy.LimitFor(tier, u)
}

type faultyUsage struct {
	UsageEvaluator
	panicEvaluate bool
	failMark      bool
}

func (u faultyUsage) Evaluate(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, limit *int64, th domain.Thresholds) domain.UsageStatus {
	if u.panicEvaluate {
		panic("evaluator exploded")
	}
	return u.UsageEvaluator.Evaluate(ctx, userID, usageType, limit, th)
}

func (u faultyUsage) MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, period, at time.Time) (time.Time, error) {
	if u.failMark {
		return time.Time{}, errors.New("anchor write failed")
	}
	return u.UsageEvaluator.MarkLimitReached(ctx, userID, usageType, period, at)
}

func TestAccess_FailOpen(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name   string
		policy func(TierPolicy) TierPolicy
		usage  func(UsageEvaluator) UsageEvaluator
		req    func(domain.FeatureRequirement) domain.FeatureRequirement
	}{
		{
			name:   "tier comparison fails",
			policy: func(p TierPolicy) TierPolicy { return faultyPolicy{TierPolicy: p, failCompare: true} },
		},
		{
			name:   "feature lookup panics",
			policy: func(p TierPolicy) TierPolicy { return faultyPolicy{TierPolicy: p, panicFlag: true} },
			req: func(r domain.FeatureRequirement) domain.FeatureRequirement {
				r.Feature = "screenshots"
				return r
			},
		},
		{
			name: "feature unknown to catalog",
			req: func(r domain.FeatureRequirement) domain.FeatureRequirement {
				r.Feature = "teleport"
				return r
			},
		},
		{
			name: "usage type missing",
			req: func(r domain.FeatureRequirement) domain.FeatureRequirement {
				r.UsageType = ""
				return r
			},
		},
		{
			name:   "limit lookup panics",
			policy: func(p TierPolicy) TierPolicy { return faultyPolicy{TierPolicy: p, panicLimit: true} },
		},
		{
			name:  "evaluation panics",
			usage: func(u UsageEvaluator) UsageEvaluator { return faultyUsage{UsageEvaluator: u, panicEvaluate: true} },
		},
		{
			name:  "counter store down",
			usage: func(UsageEvaluator) UsageEvaluator { return NewQuotaService(failingCounters{}, testLogger()) },
		},
		{
			name:  "grace anchor write fails",
			usage: func(u UsageEvaluator) UsageEvaluator { return faultyUsage{UsageEvaluator: u, failMark: true} },
			req: func(r domain.FeatureRequirement) domain.FeatureRequirement {
				r.GracePeriodDays = intPtr(3)
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAccessFixture(t)
			f.use(userID, 10)

			if tt.policy != nil {
				f.svc.tiers = tt.policy(f.svc.tiers)
			}
			if tt.usage != nil {
				f.svc.usage = tt.usage(f.svc.usage)
			}
			req := scanRequirement()
			if tt.req != nil {
				req = tt.req(req)
			}

			d := f.svc.Check(context.Background(), domain.Subject{UserID: userID, Tier: domain.TierFree}, req)

			assert.True(t, d.Allowed)
			assert.Equal(t, domain.ReasonFallback, d.Reason)
			require.NotNil(t, d.Details)
			assert.True(t, d.Details.FallbackAccess)

			entries, err := f.audit.Recent(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, entries, 1, "fallback decisions are audited")
			assert.Equal(t, userID, entries[0].UserID)
			assert.NotEmpty(t, entries[0].Cause)
		})
	}
}

func TestAccess_FailOpenCarriesUnknownUsage(t *testing.T) {
	f := newAccessFixture(t)
	f.svc.usage = NewQuotaService(failingCounters{}, testLogger())

	d := f.svc.Check(context.Background(), domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}, scanRequirement())
	require.NotNil(t, d.Details.Usage)
	assert.Equal(t, domain.UsageLevelUnknown, d.Details.Usage.Level)
}

type panickingAudit struct{}

func (panickingAudit) Record(context.Context, domain.AuditEntry) error { panic("audit sink gone") }

func TestAccess_FailOpenSurvivesAuditFault(t *testing.T) {
	f := newAccessFixture(t)
	f.svc.audit = panickingAudit{}
	f.svc.tiers = faultyPolicy{TierPolicy: f.svc.tiers, failCompare: true}

	d := f.svc.Check(context.Background(), domain.Subject{UserID: uuid.New(), Tier: domain.TierFree}, scanRequirement())
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonFallback, d.Reason)
}

// =============================================================================
// Subject resolution
// =============================================================================

type brokenDirectory struct{}

func (brokenDirectory) Lookup(context.Context, uuid.UUID) (*domain.Subscriber, error) {
	return nil, errors.New("identity provider timeout")
}

func TestAccess_CheckUser(t *testing.T) {
	f := newAccessFixture(t)
	known := uuid.New()
	_, err := f.subs.UpsertTier(context.Background(), domain.TierChange{UserID: known, Tier: domain.TierTeam})
	require.NoError(t, err)

	d := f.svc.CheckUser(context.Background(), known, domain.FeatureRequirement{RequiredTier: domain.TierTeam})
	assert.True(t, d.Allowed)

	d = f.svc.CheckUser(context.Background(), uuid.New(), domain.FeatureRequirement{RequiredTier: domain.TierFree})
	assert.False(t, d.Allowed)
	assert.True(t, d.Details.RequiredAuth)

	f.svc.subjects = brokenDirectory{}
	d = f.svc.CheckUser(context.Background(), known, domain.FeatureRequirement{RequiredTier: domain.TierFree})
	assert.False(t, d.Allowed)
	assert.True(t, d.Details.RequiredAuth)
}
