package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
)

// SlotStorePG implements domain.SlotStore. Every mutation is one
// conditional UPDATE; the rows-affected count is the CAS outcome, so the
// store works unchanged across any number of stateless workers.
type SlotStorePG struct {
	sql infra.SQLExecutor
}

func NewSlotStore(sql infra.SQLExecutor) *SlotStorePG {
	return &SlotStorePG{sql: sql}
}

func (s *SlotStorePG) Get(ctx context.Context, storyID uuid.UUID, slot string) (*domain.SlotRecord, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectSlot, storyID, slot)
	rec, err := scanSlot(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SlotStorePG) List(ctx context.Context, storyID uuid.UUID) ([]domain.SlotRecord, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectSlots, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SlotRecord
	for rows.Next() {
		rec, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SlotStorePG) Ensure(ctx context.Context, storyID uuid.UUID, slot string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureSlot, storyID, slot)
	return err
}

func (s *SlotStorePG) Acquire(ctx context.Context, storyID uuid.UUID, slot, token string, ttl time.Duration) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QAcquireSlotLock, storyID, slot, token, int(ttl.Seconds()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SlotStorePG) Commit(ctx context.Context, storyID uuid.UUID, slot, token, fingerprint, artifactRef string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QCommitSlot, storyID, slot, token, fingerprint, artifactRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SlotStorePG) Fail(ctx context.Context, storyID uuid.UUID, slot, token string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QFailSlot, storyID, slot, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SlotStorePG) Cancel(ctx context.Context, storyID uuid.UUID, slot string) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QCancelSlot, storyID, slot)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type slotScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row slotScanner) (*domain.SlotRecord, error) {
	var rec domain.SlotRecord
	if err := row.Scan(
		&rec.StoryID,
		&rec.Slot,
		&rec.Fingerprint,
		&rec.ArtifactRef,
		&rec.Status,
		&rec.LockToken,
		&rec.LockExpiresAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
