// Package store provides the persistence backends behind the quota tracker,
// prompt orchestrator and subscriber directory.
//
// Implementations:
//   - Memory*: in-process maps guarded by a mutex, for development and tests
//   - Postgres*: database/sql over the repository queries
//   - RedisCounters: usage counters kept in Redis hashes by the execution service
//
// Counter stores wrap every backend failure in domain.ErrCounterStoreUnavailable
// so the quota tracker can degrade to an unknown usage level.
package store

import (
	"fmt"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// =============================================================================
// Backend Constants
// =============================================================================

const (
	// BackendMemory keeps everything in process.
	BackendMemory = "memory"

	// BackendPostgres uses the migrated Postgres schema.
	BackendPostgres = "postgres"

	// BackendRedis reads usage counters from Redis.
	BackendRedis = "redis"
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrCounterStoreUnavailable, err)
}
