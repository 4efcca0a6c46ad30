// Package lifecycle validates and records coarse resource state changes
// against static per-kind transition tables. Every approved transition
// is an optimistic-concurrency write: the resource version must match
// what the caller last read, and it increments on success.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyforge/internal/domain"
)

// Machine gates transitions through the static tables before delegating
// the version-checked write (and audit row) to the store.
type Machine struct {
	store  domain.TransitionStore
	logger zerolog.Logger
}

func NewMachine(store domain.TransitionStore, logger zerolog.Logger) *Machine {
	return &Machine{store: store, logger: logger}
}

// Transition validates the (from, to) pair against the kind's table and,
// if legal, performs the optimistic write. Returns the new version, or
// ErrConflict when the pair is unlisted or the version check fails. A
// rejected transition leaves the resource untouched.
func (m *Machine) Transition(ctx context.Context, kind Kind, id uuid.UUID, expectedVersion int64, from, to domain.StoryState, actor string) (int64, error) {
	if !Allowed(kind, from, to) {
		return 0, fmt.Errorf("%w: %s transition %s -> %s is not permitted", domain.ErrConflict, kind, from, to)
	}
	version, err := m.store.Transition(ctx, id, expectedVersion, from, to, actor)
	if err != nil {
		return 0, err
	}
	m.logger.Info().
		Str("resource_id", id.String()).
		Str("kind", string(kind)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Int64("version", version).
		Msg("lifecycle: transition recorded")
	return version, nil
}
