package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// =============================================================================
// Usage Counters
// =============================================================================

type counterKey struct {
	userID      uuid.UUID
	usageType   domain.UsageType
	periodStart time.Time
}

// MemoryCounters is an in-process counter store.
type MemoryCounters struct {
	mu       sync.RWMutex
	counters map[counterKey]*domain.UsageCounter
}

// NewMemoryCounters creates an empty counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counters: make(map[counterKey]*domain.UsageCounter)}
}

// GetCounter returns a copy of the counter, or nil if none exists for the period.
func (m *MemoryCounters) GetCounter(_ context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) (*domain.UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counters[counterKey{userID, usageType, periodStart.UTC()}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// MarkLimitReached stamps the anchor once and returns the stored value.
func (m *MemoryCounters) MarkLimitReached(_ context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counter(userID, usageType, periodStart)
	if c.LimitReachedAt == nil {
		t := at
		c.LimitReachedAt = &t
	}
	return *c.LimitReachedAt, nil
}

// Add increments the counter. It stands in for the execution service in
// development and tests.
func (m *MemoryCounters) Add(userID uuid.UUID, usageType domain.UsageType, periodStart time.Time, n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counter(userID, usageType, periodStart)
	c.Count += n
	return c.Count
}

func (m *MemoryCounters) counter(userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) *domain.UsageCounter {
	k := counterKey{userID, usageType, periodStart.UTC()}
	c, ok := m.counters[k]
	if !ok {
		c = &domain.UsageCounter{UserID: userID, UsageType: usageType, PeriodStart: k.periodStart}
		m.counters[k] = c
	}
	return c
}

// =============================================================================
// Prompt Interactions
// =============================================================================

type chainKey struct {
	userID  uuid.UUID
	trigger domain.TriggerType
}

// MemoryInteractions is an in-process prompt interaction store.
type MemoryInteractions struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*domain.PromptInteraction
	latest map[chainKey]uuid.UUID
}

// NewMemoryInteractions creates an empty interaction store.
func NewMemoryInteractions() *MemoryInteractions {
	return &MemoryInteractions{
		byID:   make(map[uuid.UUID]*domain.PromptInteraction),
		latest: make(map[chainKey]uuid.UUID),
	}
}

// Latest returns the newest interaction for (user, trigger), or nil.
func (m *MemoryInteractions) Latest(_ context.Context, userID uuid.UUID, trigger domain.TriggerType) (*domain.PromptInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.latest[chainKey{userID, trigger}]
	if !ok {
		return nil, nil
	}
	cp := *m.byID[id]
	return &cp, nil
}

// CreateIfLatest stores p only if p.Supersedes is still the latest id for
// its (user, trigger). It reports false when another writer got there first.
func (m *MemoryInteractions) CreateIfLatest(_ context.Context, p *domain.PromptInteraction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := chainKey{p.UserID, p.TriggerType}
	if m.latest[k] != p.Supersedes {
		return false, nil
	}
	cp := *p
	m.byID[p.ID] = &cp
	m.latest[k] = p.ID
	return true, nil
}

// Get returns an interaction by id.
func (m *MemoryInteractions) Get(_ context.Context, id uuid.UUID) (*domain.PromptInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrInteractionNotFound
	}
	cp := *p
	return &cp, nil
}

// Resolve records the outcome if none is stored and returns the stored record.
func (m *MemoryInteractions) Resolve(_ context.Context, id uuid.UUID, outcome domain.Outcome, resolvedAt time.Time, snoozeUntil *time.Time) (*domain.PromptInteraction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, false, domain.ErrInteractionNotFound
	}
	applied := p.Outcome == nil
	if applied {
		o := outcome
		at := resolvedAt
		p.Outcome = &o
		p.ResolvedAt = &at
		if snoozeUntil != nil {
			s := *snoozeUntil
			p.SnoozeUntil = &s
		}
	}
	cp := *p
	return &cp, applied, nil
}

// PruneSuperseded deletes interactions shown before the cutoff that are not
// the latest for their (user, trigger).
func (m *MemoryInteractions) PruneSuperseded(_ context.Context, shownBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	heads := make(map[uuid.UUID]struct{}, len(m.latest))
	for _, id := range m.latest {
		heads[id] = struct{}{}
	}

	var n int64
	for id, p := range m.byID {
		if _, head := heads[id]; head {
			continue
		}
		if p.ShownAt.Before(shownBefore) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Subscribers
// =============================================================================

// MemorySubscribers is an in-process subscriber directory.
type MemorySubscribers struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]domain.Subscriber
	now  func() time.Time
}

// NewMemorySubscribers creates a directory seeded with subs.
func NewMemorySubscribers(subs ...domain.Subscriber) *MemorySubscribers {
	m := &MemorySubscribers{subs: make(map[uuid.UUID]domain.Subscriber), now: time.Now}
	for _, s := range subs {
		m.subs[s.UserID] = s
	}
	return m
}

// GetSubscriber returns the subscriber or domain.ErrSubscriberNotFound.
func (m *MemorySubscribers) GetSubscriber(_ context.Context, userID uuid.UUID) (*domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[userID]
	if !ok {
		return nil, domain.ErrSubscriberNotFound
	}
	return &s, nil
}

// GetSubscriberByCustomer finds a subscriber by billing customer id.
func (m *MemorySubscribers) GetSubscriberByCustomer(_ context.Context, customerID string) (*domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subs {
		if customerID != "" && s.StripeCustomerID == customerID {
			return &s, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

// UpsertTier applies a tier change, creating the subscriber if needed.
func (m *MemorySubscribers) UpsertTier(_ context.Context, change domain.TierChange) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.subs[change.UserID]
	s.UserID = change.UserID
	s.Tier = change.Tier
	if change.StripeCustomerID != "" {
		s.StripeCustomerID = change.StripeCustomerID
	}
	s.UpdatedAt = m.now()
	m.subs[change.UserID] = s
	return &s, nil
}

// =============================================================================
// Audit
// =============================================================================

// MemoryAudit keeps audit entries in process.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewMemoryAudit creates an empty audit log.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

// Record appends an entry.
func (m *MemoryAudit) Record(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryAudit) Recent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.AuditEntry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
