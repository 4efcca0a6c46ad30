package repo

import (
	"context"
	"encoding/json"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
)

// IdempotencyLedgerPG implements domain.IdempotencyLedger. Begin is an
// insert-or-reclaim-expired in one statement; losing the insert means a
// live record exists and the stored state decides replay versus join.
type IdempotencyLedgerPG struct {
	sql infra.SQLExecutor
}

func NewIdempotencyLedger(sql infra.SQLExecutor) *IdempotencyLedgerPG {
	return &IdempotencyLedgerPG{sql: sql}
}

func (l *IdempotencyLedgerPG) Begin(ctx context.Context, endpoint, key string, ttl time.Duration) (domain.IdempotencyOutcome, json.RawMessage, error) {
	row := l.sql.QueryRow(ctx, sqlinline.QBeginIdempotency, endpoint, key, int(ttl.Seconds()))
	var state string
	err := row.Scan(&state)
	if err == nil {
		return domain.IdempotencyStarted, nil, nil
	}
	if !infra.IsNoRows(err) {
		return 0, nil, err
	}

	// Live record: replay a completed result, otherwise report in-flight.
	row = l.sql.QueryRow(ctx, sqlinline.QSelectIdempotency, endpoint, key)
	var result []byte
	if err := row.Scan(&state, &result); err != nil {
		if infra.IsNoRows(err) {
			// Record expired between the two statements; next Begin wins.
			return domain.IdempotencyInFlight, nil, nil
		}
		return 0, nil, err
	}
	if state == "completed" {
		return domain.IdempotencyReplayed, json.RawMessage(result), nil
	}
	return domain.IdempotencyInFlight, nil, nil
}

func (l *IdempotencyLedgerPG) Abandon(ctx context.Context, endpoint, key string) error {
	_, err := l.sql.Exec(ctx, sqlinline.QAbandonIdempotency, endpoint, key)
	return err
}

func (l *IdempotencyLedgerPG) Complete(ctx context.Context, endpoint, key string, result json.RawMessage) error {
	_, err := l.sql.Exec(ctx, sqlinline.QCompleteIdempotency, endpoint, key, []byte(result))
	return err
}
