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

// CreateWithdrawal inserts a pending withdrawal and moves the gross amount
// from available to locked in the same transaction.
func (s *Service) CreateWithdrawal(ctx context.Context, w *models.Withdrawal, lock store.BalanceChange) error {
	if w.Id == "" {
		w.Id = uuid.New().String()
	}
	now := s.now()
	w.Status = models.WithdrawalPending
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now
	if lock.Reference == "" {
		lock.Reference = w.Id
	}

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, queryInsertWithdrawal,
			w.Id, w.UserId, w.Asset, w.GrossAmount.String(), w.Fee.String(), w.NetAmount.String(),
			string(w.DestinationType), w.Destination, string(w.Status), w.CreatedAt, w.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert withdrawal: %w", err)
		}

		_, err = s.subledger.applyBalanceChange(ctx, tx, lock)
		return err
	})
	if err != nil {
		return err
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("asset", w.Asset),
		zap.String("gross", w.GrossAmount.String()),
		zap.String("fee", w.Fee.String()))
	return nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx, queryGetWithdrawal, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.Withdrawal, error) {
	return s.queryWithdrawals(ctx, queryListWithdrawals, userId, limit, offset)
}

func (s *Service) ListPendingWithdrawals(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	return s.queryWithdrawals(ctx, queryListPendingWithdrawals, limit)
}

func (s *Service) queryWithdrawals(ctx context.Context, query string, args ...interface{}) ([]models.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// TransitionWithdrawal finalizes a pending withdrawal and applies its ledger
// changes atomically.
func (s *Service) TransitionWithdrawal(ctx context.Context, t store.WithdrawalTransition) error {
	w := t.Withdrawal
	now := s.now()

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, queryTransitionWithdrawal,
			string(w.Status), nullString(w.TxHash), nullTime(w.ProcessedAt), now,
			w.Id, t.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: withdrawal %s is no longer pending at version %d",
				store.ErrConflict, w.Id, t.ExpectedVersion)
		}

		for _, change := range t.Changes {
			if _, err := s.subledger.applyBalanceChange(ctx, tx, change); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.Version = t.ExpectedVersion + 1
	w.UpdatedAt = now

	zap.L().Info("Withdrawal transitioned",
		zap.String("withdrawal_id", w.Id),
		zap.String("status", string(w.Status)))
	return nil
}

func scanWithdrawal(row rowScanner) (models.Withdrawal, error) {
	var w models.Withdrawal
	var grossStr, feeStr, netStr, destType, status string
	var processedAt sql.NullTime

	err := row.Scan(&w.Id, &w.UserId, &w.Asset, &grossStr, &feeStr, &netStr, &destType, &w.Destination,
		&w.TxHash, &status, &processedAt, &w.CreatedAt, &w.UpdatedAt, &w.Version)
	if err != nil {
		return w, err
	}

	if w.GrossAmount, err = parseDecimal("gross_amount", grossStr); err != nil {
		return w, err
	}
	if w.Fee, err = parseDecimal("fee", feeStr); err != nil {
		return w, err
	}
	if w.NetAmount, err = parseDecimal("net_amount", netStr); err != nil {
		return w, err
	}
	w.DestinationType = models.DestinationType(destType)
	w.Status = models.WithdrawalStatus(status)
	w.ProcessedAt = timePtr(processedAt)
	return w, nil
}
