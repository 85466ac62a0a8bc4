package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitegate/internal/catalog"
	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/service"
	"github.com/DukeRupert/sitegate/internal/store"
)

// apiFixture wires the JSON API over in-memory stores.
type apiFixture struct {
	mux         *http.ServeMux
	counters    *store.MemoryCounters
	subscribers *store.MemorySubscribers
	audit       *store.MemoryAudit
	free        uuid.UUID
	team        uuid.UUID
}

func passThrough(next http.Handler) http.Handler { return next }

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	f := &apiFixture{
		mux:      http.NewServeMux(),
		counters: store.NewMemoryCounters(),
		audit:    store.NewMemoryAudit(),
		free:     uuid.New(),
		team:     uuid.New(),
	}
	f.subscribers = store.NewMemorySubscribers(
		domain.Subscriber{UserID: f.free, Tier: domain.TierFree, StripeCustomerID: "cus_free"},
		domain.Subscriber{UserID: f.team, Tier: domain.TierTeam},
	)

	logger := discardLogger()
	subs := service.NewSubscriberService(f.subscribers, logger)
	quota := service.NewQuotaService(f.counters, logger)
	access := service.NewAccessService(cat, quota, subs, f.audit, service.AccessConfig{}, logger)
	prompts := service.NewPromptService(store.NewMemoryInteractions(), cat, service.DefaultPromptConfig(), logger)

	NewAccessHandler(access, logger).RegisterRoutes(f.mux, passThrough)
	NewPromptHandler(prompts, subs, logger).RegisterRoutes(f.mux, passThrough)
	NewUsageHandler(cat, quota, subs, domain.DefaultThresholds(), logger).RegisterRoutes(f.mux, passThrough)
	NewAuditHandler(f.audit, logger).RegisterRoutes(f.mux, passThrough)
	return f
}

func (f *apiFixture) use(userID uuid.UUID, usageType domain.UsageType, n int64) {
	f.counters.Add(userID, usageType, domain.PeriodStartFor(time.Now()), n)
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// =============================================================================
// POST /v1/access-check
// =============================================================================

func TestAccessCheck(t *testing.T) {
	f := newAPIFixture(t)
	f.use(f.free, domain.UsageTypeScan, 10)

	tests := []struct {
		name        string
		body        map[string]any
		wantAllowed bool
		wantReason  domain.Reason
	}{
		{
			name:        "free user at scan limit",
			body:        map[string]any{"userId": f.free.String(), "requiredTier": "free", "usageType": "scan", "checkUsageLimit": true},
			wantAllowed: false,
			wantReason:  domain.ReasonUsageLimit,
		},
		{
			name:        "free user below lighthouse limit",
			body:        map[string]any{"userId": f.free.String(), "requiredTier": "free", "usageType": "lighthouse", "checkUsageLimit": true},
			wantAllowed: true,
		},
		{
			name:        "free user asking for team feature",
			body:        map[string]any{"userId": f.free.String(), "requiredTier": "team"},
			wantAllowed: false,
			wantReason:  domain.ReasonTier,
		},
		{
			name:        "team user",
			body:        map[string]any{"userId": f.team.String(), "requiredTier": "team", "feature": "team_sharing"},
			wantAllowed: true,
		},
		{
			name:        "caller supplied tier",
			body:        map[string]any{"userId": uuid.NewString(), "tier": "enterprise", "requiredTier": "team", "usageType": "scan", "checkUsageLimit": true},
			wantAllowed: true,
		},
		{
			name:        "soft limit",
			body:        map[string]any{"userId": f.free.String(), "requiredTier": "free", "usageType": "scan", "checkUsageLimit": true, "softLimit": true},
			wantAllowed: true,
			wantReason:  domain.ReasonUsageLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/v1/access-check", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			d := decode[domain.AccessDecision](t, rec)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestAccessCheck_Unauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []map[string]any{
		{"requiredTier": "free"},
		{"userId": uuid.NewString(), "requiredTier": "free"},
	} {
		rec := f.do(t, "POST", "/v1/access-check", body)
		require.Equal(t, http.StatusOK, rec.Code)

		d := decode[domain.AccessDecision](t, rec)
		assert.False(t, d.Allowed)
		require.NotNil(t, d.Details)
		assert.True(t, d.Details.RequiredAuth)
	}
}

func TestAccessCheck_FallbackIsAudited(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/v1/access-check", map[string]any{
		"userId": f.free.String(), "requiredTier": "free", "checkUsageLimit": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	d := decode[domain.AccessDecision](t, rec)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ReasonFallback, d.Reason)

	rec = f.do(t, "GET", "/v1/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntryResponse](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, f.free, *entries[0].UserID)
	assert.NotEmpty(t, entries[0].Cause)
}

func TestAccessCheck_BadRequests(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"userId":`},
		{"unknown field", map[string]any{"requiredTier": "free", "checkUsage": true}},
		{"bad user id", map[string]any{"userId": "nope", "requiredTier": "free"}},
		{"missing required tier", map[string]any{"userId": uuid.NewString()}},
		{"unknown required tier", map[string]any{"userId": uuid.NewString(), "requiredTier": "platinum"}},
		{"unknown asserted tier", map[string]any{"userId": uuid.NewString(), "tier": "gold", "requiredTier": "free"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/v1/access-check", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[JSONError](t, rec)
			assert.Equal(t, domain.EINVALID, body.Error.Code)
		})
	}
}

// =============================================================================
// Prompts
// =============================================================================

func TestPrompts_EvaluateResolveLatest(t *testing.T) {
	f := newAPIFixture(t)
	f.use(f.free, domain.UsageTypeScan, 10)

	rec := f.do(t, "POST", "/v1/access-check", map[string]any{
		"userId": f.free.String(), "requiredTier": "free", "usageType": "scan", "checkUsageLimit": true,
	})
	decision := decode[domain.AccessDecision](t, rec)

	rec = f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "decision": decision})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[domain.PromptResult](t, rec)
	require.True(t, result.Show)
	require.NotNil(t, result.Prompt)
	assert.Equal(t, domain.TierUser, result.Prompt.TargetTier)

	// A second surface asking at the same time is suppressed.
	rec = f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "decision": decision})
	again := decode[domain.PromptResult](t, rec)
	assert.False(t, again.Show)
	assert.Equal(t, domain.SuppressAlreadyShown, again.SuppressReason)

	path := "/v1/prompts/" + result.Interaction.ID.String() + "/resolve"
	rec = f.do(t, "POST", path, map[string]any{"outcome": "snoozed", "snoozeSeconds": 3600})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[domain.PromptInteraction](t, rec)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, domain.OutcomeSnoozed, *resolved.Outcome)
	require.NotNil(t, resolved.SnoozeUntil)

	rec = f.do(t, "GET", "/v1/users/"+f.free.String()+"/prompts/usage_limit/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[domain.PromptInteraction](t, rec)
	assert.Equal(t, result.Interaction.ID, latest.ID)

	rec = f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "decision": decision})
	snoozed := decode[domain.PromptResult](t, rec)
	assert.Equal(t, domain.SuppressSnoozed, snoozed.SuppressReason)
}

func TestPrompts_Errors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/v1/prompts/"+uuid.NewString()+"/resolve", map[string]any{"outcome": "clicked"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/v1/prompts/not-a-uuid/resolve", map[string]any{"outcome": "clicked"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/v1/prompts/"+uuid.NewString()+"/resolve", map[string]any{"outcome": "clicked", "snoozeSeconds": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": "x", "decision": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "trigger": "birthday", "decision": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/v1/users/"+f.free.String()+"/prompts/usage_limit/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/v1/users/"+f.free.String()+"/prompts/birthday/latest", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrompts_ResolveRejectsUnknownOutcome(t *testing.T) {
	f := newAPIFixture(t)
	f.use(f.free, domain.UsageTypeScan, 10)

	decision := domain.AccessDecision{
		Reason:  domain.ReasonUsageLimit,
		Details: &domain.AccessDetails{CurrentTier: domain.TierFree},
	}
	rec := f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "decision": decision})
	result := decode[domain.PromptResult](t, rec)
	require.True(t, result.Show)

	rec = f.do(t, "POST", "/v1/prompts/"+result.Interaction.ID.String()+"/resolve", map[string]any{"outcome": "ignored"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrompts_ResolveRejectsOversizedSnooze(t *testing.T) {
	f := newAPIFixture(t)
	f.use(f.free, domain.UsageTypeScan, 10)

	decision := domain.AccessDecision{
		Reason:  domain.ReasonUsageLimit,
		Details: &domain.AccessDetails{CurrentTier: domain.TierFree},
	}
	rec := f.do(t, "POST", "/v1/prompts/evaluate", map[string]any{"userId": f.free.String(), "decision": decision})
	result := decode[domain.PromptResult](t, rec)
	require.True(t, result.Show)
	path := "/v1/prompts/" + result.Interaction.ID.String() + "/resolve"

	// Large enough to overflow time.Duration once converted to nanoseconds.
	rec = f.do(t, "POST", path, map[string]any{"outcome": "snoozed", "snoozeSeconds": int64(1) << 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[JSONError](t, rec)
	assert.Equal(t, domain.EINVALID, body.Error.Code)

	rec = f.do(t, "POST", path, map[string]any{"outcome": "snoozed", "snoozeSeconds": maxSnoozeSeconds})
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.PromptInteraction](t, rec)
	require.NotNil(t, p.SnoozeUntil)
	assert.True(t, p.SnoozeUntil.After(time.Now().Add(365*24*time.Hour)))
}

// =============================================================================
// Usage and entitlements
// =============================================================================

func TestUsage(t *testing.T) {
	f := newAPIFixture(t)
	f.use(f.free, domain.UsageTypeScan, 8)

	rec := f.do(t, "GET", "/v1/users/"+f.free.String()+"/usage/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[domain.UsageStatus](t, rec)
	assert.Equal(t, int64(8), status.Used)
	require.NotNil(t, status.Limit)
	assert.Equal(t, int64(10), *status.Limit)
	assert.Equal(t, int64(2), *status.Remaining)
	assert.Equal(t, domain.UsageLevelWarning, status.Level)

	rec = f.do(t, "GET", "/v1/users/"+f.free.String()+"/usage/teleports", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/v1/users/"+uuid.NewString()+"/usage/scan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitlements(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "GET", "/v1/users/"+f.team.String()+"/entitlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ent := decode[EntitlementsResponse](t, rec)
	assert.Equal(t, domain.TierTeam, ent.Tier)
	assert.Contains(t, ent.Features, domain.Feature("team_sharing"))
	assert.NotContains(t, ent.Features, domain.Feature("sso"))
	require.NotNil(t, ent.Limits[domain.UsageTypeScan])
	assert.Equal(t, int64(500), *ent.Limits[domain.UsageTypeScan])
	assert.NotEmpty(t, ent.Usage)
}

func TestTiers(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "GET", "/v1/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[TiersResponse](t, rec)
	require.Len(t, resp.Tiers, 5)
	assert.Equal(t, domain.TierFree, resp.Tiers[0].Tier)
	assert.Equal(t, domain.TierAdmin, resp.Tiers[4].Tier)
	assert.Nil(t, resp.Tiers[3].Limits[domain.UsageTypeScan], "enterprise scans are unlimited")
	assert.Contains(t, resp.UsageTypes, domain.UsageTypeScan)
}

func TestAudit_BadLimit(t *testing.T) {
	f := newAPIFixture(t)

	for _, q := range []string{"0", "-3", "abc"} {
		rec := f.do(t, "GET", "/v1/audit?limit="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
