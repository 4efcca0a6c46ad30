package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StoryRepository defines persistence for stories, including the
// optimistic-concurrency lifecycle transition write.
type StoryRepository interface {
	Create(ctx context.Context, story *Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*Story, error)
	// UpdateBeat replaces one beat of the story. The caller supplies the
	// version it read; the write is rejected with ErrConflict if another
	// writer got there first. Returns the new version.
	UpdateBeat(ctx context.Context, id uuid.UUID, expectedVersion int64, beat Beat) (int64, error)
	TransitionStore
}

// TransitionStore performs the single-row optimistic state write plus the
// audit append for a lifecycle transition. Implementations must reject the
// write with ErrConflict unless both the version and the from-state match.
type TransitionStore interface {
	Transition(ctx context.Context, id uuid.UUID, expectedVersion int64, from, to StoryState, actor string) (int64, error)
}

// SlotStore is the asset cache: one row per (story, slot) holding the last
// committed fingerprint, artifact reference and generation lock. Every
// mutation is a single-row compare-and-swap; a false return means another
// writer changed the row first and the caller must re-read.
type SlotStore interface {
	Get(ctx context.Context, storyID uuid.UUID, slot string) (*SlotRecord, error)
	List(ctx context.Context, storyID uuid.UUID) ([]SlotRecord, error)
	// Ensure creates the slot row lazily with status queued. Creating an
	// already-existing row is a no-op.
	Ensure(ctx context.Context, storyID uuid.UUID, slot string) error
	// Acquire CAS-locks the slot for generation: from queued, ready,
	// failed, cancelled, or an expired processing lock, to processing
	// with the given token and a fresh expiry.
	Acquire(ctx context.Context, storyID uuid.UUID, slot, token string, ttl time.Duration) (bool, error)
	// Commit CAS-finishes a generation: processing with the matching
	// token to ready with the new fingerprint and artifact reference.
	Commit(ctx context.Context, storyID uuid.UUID, slot, token, fingerprint, artifactRef string) (bool, error)
	// Fail CAS-marks a generation attempt failed, releasing the lock.
	Fail(ctx context.Context, storyID uuid.UUID, slot, token string) (bool, error)
	// Cancel CAS-marks an in-flight slot cancelled. The worker holding
	// the lock observes the lost CAS on Commit/Fail and discards its
	// result.
	Cancel(ctx context.Context, storyID uuid.UUID, slot string) (bool, error)
}

// QuotaStore tracks reservations against per-account allowances. Reserve
// must check the balance and write the hold in one conditional update so
// concurrent reservations cannot over-commit. Consume and Refund settle a
// reservation exactly once; repeated settles are no-ops.
type QuotaStore interface {
	Reserve(ctx context.Context, accountID, quotaType string, amount int, requestID string) (uuid.UUID, error)
	// Consume settles the reservation, charging used units and releasing
	// the remainder of the hold.
	Consume(ctx context.Context, reservationID uuid.UUID, used int) error
	Refund(ctx context.Context, reservationID uuid.UUID) error
}

// IdempotencyOutcome is the result of IdempotencyLedger.Begin.
type IdempotencyOutcome int

const (
	// IdempotencyStarted means this caller owns the execution.
	IdempotencyStarted IdempotencyOutcome = iota
	// IdempotencyInFlight means another caller is executing the same
	// request; poll Begin until it completes.
	IdempotencyInFlight
	// IdempotencyReplayed means the stored result must be returned
	// verbatim without re-executing side effects.
	IdempotencyReplayed
)

// IdempotencyLedger maps (endpoint, caller key) to a stored response.
// Records expire after a TTL, after which the key may be reused.
type IdempotencyLedger interface {
	Begin(ctx context.Context, endpoint, key string, ttl time.Duration) (IdempotencyOutcome, json.RawMessage, error)
	Complete(ctx context.Context, endpoint, key string, result json.RawMessage) error
	// Abandon releases an in-flight record after a failure that produced
	// no side effects, so the caller's retry re-executes instead of
	// blocking until the TTL.
	Abandon(ctx context.Context, endpoint, key string) error
}
