package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
)

// QuotaStorePG implements domain.QuotaStore. The reserve balance check
// and the hold write ride the same conditional UPDATE, which is what
// keeps concurrent reservations from over-committing an account.
type QuotaStorePG struct {
	sql infra.SQLExecutor
}

func NewQuotaStore(sql infra.SQLExecutor) *QuotaStorePG {
	return &QuotaStorePG{sql: sql}
}

func (s *QuotaStorePG) Reserve(ctx context.Context, accountID, quotaType string, amount int, requestID string) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: reservation amount must be positive", domain.ErrValidation)
	}
	reservationID := uuid.New()
	row := s.sql.QueryRow(ctx, sqlinline.QReserveQuota, accountID, quotaType, amount, reservationID, requestID)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return uuid.Nil, fmt.Errorf("%w: %s/%s short by %d", domain.ErrQuotaExceeded, accountID, quotaType, amount)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (s *QuotaStorePG) Consume(ctx context.Context, reservationID uuid.UUID, used int) error {
	_, err := s.sql.Exec(ctx, sqlinline.QConsumeReservation, reservationID, used)
	return err
}

func (s *QuotaStorePG) Refund(ctx context.Context, reservationID uuid.UUID) error {
	_, err := s.sql.Exec(ctx, sqlinline.QRefundReservation, reservationID)
	return err
}
