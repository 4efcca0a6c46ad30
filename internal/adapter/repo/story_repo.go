package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
)

// StoryRepositoryPG implements domain.StoryRepository over PostgreSQL.
type StoryRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewStoryRepository(sql infra.SQLExecutor) *StoryRepositoryPG {
	return &StoryRepositoryPG{sql: sql}
}

// Create inserts a new story in draft state at version 1 and fills the
// generated fields back into the struct.
func (r *StoryRepositoryPG) Create(ctx context.Context, story *domain.Story) error {
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	beats, err := json.Marshal(story.Beats)
	if err != nil {
		return fmt.Errorf("encode beats: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertStory,
		story.ID,
		story.AccountID,
		story.Title,
		story.Summary,
		story.Voice,
		story.StyleVersion,
		story.TemplateVersion,
		beats,
	)
	if err != nil {
		return err
	}
	story.State = domain.StoryStateDraft
	story.Version = 1
	story.CreatedAt = time.Now()
	story.UpdatedAt = story.CreatedAt
	return nil
}

// GetByID fetches a story by its identifier.
func (r *StoryRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectStory, id)
	var story domain.Story
	var beats []byte
	if err := row.Scan(
		&story.ID,
		&story.AccountID,
		&story.Title,
		&story.Summary,
		&story.Voice,
		&story.StyleVersion,
		&story.TemplateVersion,
		&story.State,
		&story.Version,
		&beats,
		&story.CreatedAt,
		&story.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(beats, &story.Beats); err != nil {
		return nil, fmt.Errorf("decode beats: %w", err)
	}
	return &story, nil
}

// UpdateBeat replaces one beat under optimistic concurrency. The beats
// column is rewritten whole; the version check makes the read-modify-write
// safe against concurrent writers.
func (r *StoryRepositoryPG) UpdateBeat(ctx context.Context, id uuid.UUID, expectedVersion int64, beat domain.Beat) (int64, error) {
	story, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	replaced := false
	for i := range story.Beats {
		if story.Beats[i].Index == beat.Index {
			story.Beats[i] = beat
			replaced = true
			break
		}
	}
	if !replaced {
		return 0, fmt.Errorf("%w: beat %d", domain.ErrNotFound, beat.Index)
	}
	beats, err := json.Marshal(story.Beats)
	if err != nil {
		return 0, fmt.Errorf("encode beats: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateStoryBeats, id, expectedVersion, beats)
	var version int64
	if err := row.Scan(&version); err != nil {
		if infra.IsNoRows(err) {
			return 0, fmt.Errorf("%w: story %s version %d is stale", domain.ErrConflict, id, expectedVersion)
		}
		return 0, err
	}
	return version, nil
}

// Transition performs the single-row optimistic state write and appends
// the audit row in the same statement.
func (r *StoryRepositoryPG) Transition(ctx context.Context, id uuid.UUID, expectedVersion int64, from, to domain.StoryState, actor string) (int64, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QTransitionStory, id, expectedVersion, from, to, actor)
	var version int64
	if err := row.Scan(&version); err != nil {
		if infra.IsNoRows(err) {
			return 0, fmt.Errorf("%w: story %s no longer at %s version %d", domain.ErrConflict, id, from, expectedVersion)
		}
		return 0, err
	}
	return version, nil
}

// ClaimStalled picks one story stuck in generating with an expired slot
// lock, for the reaper worker. Returns ErrNotFound when nothing stalled.
func (r *StoryRepositoryPG) ClaimStalled(ctx context.Context) (uuid.UUID, string, int64, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimStalledStory)
	var id uuid.UUID
	var accountID string
	var version int64
	if err := row.Scan(&id, &accountID, &version); err != nil {
		if infra.IsNoRows(err) {
			return uuid.Nil, "", 0, domain.ErrNotFound
		}
		return uuid.Nil, "", 0, err
	}
	return id, accountID, version, nil
}
