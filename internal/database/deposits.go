package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateDeposit stores a new pending deposit with its opening audit event.
// A transaction hash may only be claimed once per coin.
func (s *Service) CreateDeposit(ctx context.Context, d *models.Deposit) error {
	if d.Id == "" {
		d.Id = uuid.New().String()
	}
	now := s.now()
	d.Status = models.DepositPending
	d.Version = 1
	d.CreatedAt = now
	d.UpdatedAt = now

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if d.TxHash != "" {
			var existingId string
			err := tx.QueryRowContext(ctx, queryCheckDuplicateDepositHash, d.Symbol, d.TxHash).Scan(&existingId)
			if err == nil {
				return fmt.Errorf("%w: tx hash %s already submitted in deposit %s",
					store.ErrDuplicateTransaction, d.TxHash, existingId)
			} else if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check tx hash: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, queryInsertDeposit,
			d.Id, d.UserId, d.PaymentMethodId, d.Symbol, d.Network, d.ExpectedAmount.String(),
			string(d.ProofType), nullString(d.TxHash), nullString(d.ProofImage),
			string(d.Status), d.Confirmations, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert deposit: %w", err)
		}

		return insertDepositEvents(ctx, tx, []models.DepositEvent{{
			DepositId: d.Id,
			Status:    d.Status,
			Note:      "submitted",
			CreatedAt: now,
		}})
	})
	if err != nil {
		return err
	}

	zap.L().Info("Deposit created",
		zap.String("deposit_id", d.Id),
		zap.String("user_id", d.UserId),
		zap.String("symbol", d.Symbol),
		zap.String("expected_amount", d.ExpectedAmount.String()))
	return nil
}

func (s *Service) GetDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	d, err := scanDeposit(s.db.QueryRowContext(ctx, queryGetDeposit, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: deposit %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return &d, nil
}

func (s *Service) ListDeposits(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, queryListDeposits, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (s *Service) ListDepositEvents(ctx context.Context, depositId string) ([]models.DepositEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListDepositEvents, depositId)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit events: %w", err)
	}
	defer rows.Close()

	var events []models.DepositEvent
	for rows.Next() {
		var e models.DepositEvent
		var status string
		if err := rows.Scan(&e.Id, &e.DepositId, &status, &e.Confirmations, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deposit event: %w", err)
		}
		e.Status = models.DepositStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// TransitionDeposit writes the in-memory deposit back if, and only if, the
// stored row is still at ExpectedVersion and FromStatus. The optional credit
// and the audit events commit or roll back with it.
func (s *Service) TransitionDeposit(ctx context.Context, t store.DepositTransition) error {
	d := t.Deposit
	now := s.now()

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, queryTransitionDeposit,
			string(d.Status), d.Confirmations, nullDecimal(d.ActualAmount), nullDecimal(d.CreditedAmount),
			nullString(d.VerificationError), nullTime(d.VerifiedAt), now,
			d.Id, t.ExpectedVersion, string(t.FromStatus))
		if err != nil {
			return fmt.Errorf("failed to update deposit: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: deposit %s is no longer %s at version %d",
				store.ErrConflict, d.Id, t.FromStatus, t.ExpectedVersion)
		}

		if t.Credit != nil {
			if _, err := s.subledger.applyBalanceChange(ctx, tx, *t.Credit); err != nil {
				return err
			}
		}

		return insertDepositEvents(ctx, tx, t.Events)
	})
	if err != nil {
		return err
	}

	d.Version = t.ExpectedVersion + 1
	d.UpdatedAt = now

	zap.L().Info("Deposit transitioned",
		zap.String("deposit_id", d.Id),
		zap.String("from", string(t.FromStatus)),
		zap.String("to", string(d.Status)),
		zap.Int("confirmations", d.Confirmations),
		zap.Bool("credited", t.Credit != nil))
	return nil
}

func insertDepositEvents(ctx context.Context, tx *sql.Tx, events []models.DepositEvent) error {
	for _, e := range events {
		if e.Id == "" {
			e.Id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, queryInsertDepositEvent,
			e.Id, e.DepositId, string(e.Status), e.Confirmations, e.Note, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert deposit event: %w", err)
		}
	}
	return nil
}

func scanDeposit(row rowScanner) (models.Deposit, error) {
	var d models.Deposit
	var expectedStr, proofType, status string
	var actual, credited sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(&d.Id, &d.UserId, &d.PaymentMethodId, &d.Symbol, &d.Network, &expectedStr,
		&actual, &credited, &proofType, &d.TxHash, &d.ProofImage, &status, &d.Confirmations,
		&d.VerificationError, &verifiedAt, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err != nil {
		return d, err
	}

	if d.ExpectedAmount, err = parseDecimal("expected_amount", expectedStr); err != nil {
		return d, err
	}
	if d.ActualAmount, err = parseNullDecimal("actual_amount", actual); err != nil {
		return d, err
	}
	if d.CreditedAmount, err = parseNullDecimal("credited_amount", credited); err != nil {
		return d, err
	}
	d.ProofType = models.ProofType(proofType)
	d.Status = models.DepositStatus(status)
	d.VerifiedAt = timePtr(verifiedAt)
	return d, nil
}
