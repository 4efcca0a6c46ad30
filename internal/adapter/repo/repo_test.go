package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storyforge/internal/domain"
	"storyforge/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubSQL struct {
	exec     func(query string, args ...any) (pgconn.CommandTag, error)
	queryRow func(query string, args ...any) pgx.Row
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if s.exec == nil {
		return pgconn.CommandTag{}, errors.New("unexpected exec")
	}
	return s.exec(query, args...)
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	if s.queryRow == nil {
		return stubRow{}
	}
	return s.queryRow(query, args...)
}

func (s *stubSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func TestSlotAcquireReportsCASOutcome(t *testing.T) {
	affected := "UPDATE 1"
	sql := &stubSQL{exec: func(query string, args ...any) (pgconn.CommandTag, error) {
		if query != sqlinline.QAcquireSlotLock {
			t.Fatalf("unexpected query: %.40s", query)
		}
		return pgconn.NewCommandTag(affected), nil
	}}
	store := NewSlotStore(sql)

	ok, err := store.Acquire(context.Background(), uuid.New(), "cover", "token", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire on UPDATE 1 = %v, %v; want true, nil", ok, err)
	}

	affected = "UPDATE 0"
	ok, err = store.Acquire(context.Background(), uuid.New(), "cover", "token", time.Minute)
	if err != nil || ok {
		t.Fatalf("acquire on UPDATE 0 = %v, %v; want false, nil", ok, err)
	}
}

func TestSlotCommitLostLockIsNotAnError(t *testing.T) {
	sql := &stubSQL{exec: func(string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}}
	store := NewSlotStore(sql)

	ok, err := store.Commit(context.Background(), uuid.New(), "cover", "stale-token", "fp", "ref")
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if ok {
		t.Fatal("commit with a stale token must report a lost CAS")
	}
}

func TestSlotGetNotFound(t *testing.T) {
	store := NewSlotStore(&stubSQL{})
	_, err := store.Get(context.Background(), uuid.New(), "cover")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuotaReserveExceeded(t *testing.T) {
	store := NewQuotaStore(&stubSQL{queryRow: func(string, ...any) pgx.Row {
		return stubRow{}
	}})
	_, err := store.Reserve(context.Background(), "acct-1", "generation", 5, "req-1")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded on empty result, got %v", err)
	}
}

func TestQuotaReserveRejectsNonPositiveAmount(t *testing.T) {
	store := NewQuotaStore(&stubSQL{})
	_, err := store.Reserve(context.Background(), "acct-1", "generation", 0, "req-1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIdempotencyBeginOutcomes(t *testing.T) {
	t.Run("insert wins", func(t *testing.T) {
		ledger := NewIdempotencyLedger(&stubSQL{queryRow: func(query string, _ ...any) pgx.Row {
			if query != sqlinline.QBeginIdempotency {
				t.Fatalf("unexpected query: %.40s", query)
			}
			return stubRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "inflight"
				return nil
			}}
		}})
		outcome, _, err := ledger.Begin(context.Background(), "stories.finalize", "key", time.Hour)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if outcome != domain.IdempotencyStarted {
			t.Fatalf("outcome = %v, want started", outcome)
		}
	})

	t.Run("completed record replays", func(t *testing.T) {
		stored := []byte(`{"state":"ready"}`)
		ledger := NewIdempotencyLedger(&stubSQL{queryRow: func(query string, _ ...any) pgx.Row {
			if query == sqlinline.QBeginIdempotency {
				return stubRow{}
			}
			return stubRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "completed"
				*dest[1].(*[]byte) = stored
				return nil
			}}
		}})
		outcome, result, err := ledger.Begin(context.Background(), "stories.finalize", "key", time.Hour)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if outcome != domain.IdempotencyReplayed {
			t.Fatalf("outcome = %v, want replayed", outcome)
		}
		if !json.Valid(result) || string(result) != string(stored) {
			t.Fatalf("result = %s, want stored payload", result)
		}
	})

	t.Run("live inflight record joins", func(t *testing.T) {
		ledger := NewIdempotencyLedger(&stubSQL{queryRow: func(query string, _ ...any) pgx.Row {
			if query == sqlinline.QBeginIdempotency {
				return stubRow{}
			}
			return stubRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "inflight"
				return nil
			}}
		}})
		outcome, _, err := ledger.Begin(context.Background(), "stories.finalize", "key", time.Hour)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if outcome != domain.IdempotencyInFlight {
			t.Fatalf("outcome = %v, want in flight", outcome)
		}
	})

	t.Run("record expired between statements", func(t *testing.T) {
		ledger := NewIdempotencyLedger(&stubSQL{queryRow: func(string, ...any) pgx.Row {
			return stubRow{}
		}})
		outcome, _, err := ledger.Begin(context.Background(), "stories.finalize", "key", time.Hour)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if outcome != domain.IdempotencyInFlight {
			t.Fatalf("outcome = %v, want in flight", outcome)
		}
	})
}

func TestStoryTransitionStaleVersionIsConflict(t *testing.T) {
	repo := NewStoryRepository(&stubSQL{queryRow: func(query string, _ ...any) pgx.Row {
		if query != sqlinline.QTransitionStory {
			t.Fatalf("unexpected query: %.40s", query)
		}
		return stubRow{}
	}})
	_, err := repo.Transition(context.Background(), uuid.New(), 3, domain.StoryStateDraft, domain.StoryStateGenerating, "api")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on empty result, got %v", err)
	}
}
