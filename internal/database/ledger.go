package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type journalLine struct {
	accountType  string
	accountId    string
	debitAmount  decimal.Decimal
	creditAmount decimal.Decimal
}

// applyBalanceChange atomically updates one account and records the entry.
// It must run inside tx; callers commit or roll back the whole unit.
func (s *SubledgerService) applyBalanceChange(ctx context.Context, tx *sql.Tx, change store.BalanceChange) (*models.LedgerEntry, error) {
	if change.UserId == "" || change.Asset == "" {
		return nil, fmt.Errorf("%w: user_id and asset are required", store.ErrValidation)
	}
	if change.AvailableDelta.IsZero() && change.LockedDelta.IsZero() {
		return nil, fmt.Errorf("%w: balance change has no effect", store.ErrValidation)
	}

	zap.L().Info("Applying balance change",
		zap.String("user_id", change.UserId),
		zap.String("asset", change.Asset),
		zap.String("type", string(change.Kind)),
		zap.String("available_delta", change.AvailableDelta.String()),
		zap.String("locked_delta", change.LockedDelta.String()),
		zap.String("reference", change.Reference))

	// Check for duplicate reference
	if change.Reference != "" {
		var existingId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateEntry,
			string(change.Kind), change.Reference, change.UserId, change.Asset).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate ledger reference detected, skipping",
				zap.String("reference", change.Reference),
				zap.String("existing_entry_id", existingId))
			return nil, fmt.Errorf("%w: %s %s already applied", store.ErrDuplicateTransaction, change.Kind, change.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate entry: %w", err)
		}
	}

	now := s.now()

	current, err := scanAccountBalance(tx.QueryRowContext(ctx, queryGetAccountBalance, change.UserId, change.Asset))
	if errors.Is(err, sql.ErrNoRows) {
		current = models.AccountBalance{
			Id:        uuid.New().String(),
			UserId:    change.UserId,
			Asset:     change.Asset,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			Version:   1,
		}
		if _, err := tx.ExecContext(ctx, queryInsertAccountBalance, current.Id, change.UserId, change.Asset, now); err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	newAvailable := current.Available.Add(change.AvailableDelta)
	newLocked := current.Locked.Add(change.LockedDelta)
	if newAvailable.IsNegative() {
		return nil, fmt.Errorf("%w: available %s %s, need %s", store.ErrInsufficientBalance,
			current.Available.String(), change.Asset, change.AvailableDelta.Neg().String())
	}
	if newLocked.IsNegative() {
		return nil, fmt.Errorf("%w: locked %s %s, need %s", store.ErrInsufficientBalance,
			current.Locked.String(), change.Asset, change.LockedDelta.Neg().String())
	}

	entry := &models.LedgerEntry{
		Id:              uuid.New().String(),
		UserId:          change.UserId,
		Asset:           change.Asset,
		EntryType:       change.Kind,
		AvailableDelta:  change.AvailableDelta,
		LockedDelta:     change.LockedDelta,
		AvailableBefore: current.Available,
		AvailableAfter:  newAvailable,
		LockedBefore:    current.Locked,
		LockedAfter:     newLocked,
		Reference:       change.Reference,
		CreatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.UserId, entry.Asset, string(entry.EntryType),
		entry.AvailableDelta.String(), entry.LockedDelta.String(),
		entry.AvailableBefore.String(), entry.AvailableAfter.String(),
		entry.LockedBefore.String(), entry.LockedAfter.String(),
		entry.Reference, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		newAvailable.String(), newLocked.String(), entry.Id, now,
		change.UserId, change.Asset, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	zap.L().Info("Balance change applied",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", change.UserId),
		zap.String("asset", change.Asset),
		zap.String("available", newAvailable.String()),
		zap.String("locked", newLocked.String()))

	return entry, nil
}

// addJournalEntries creates double-entry bookkeeping lines. Bucket movements
// debit (increase) or credit (decrease) the user's sub-accounts; any change in
// the user's total is balanced against the platform liability account.
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	owner := fmt.Sprintf("%s_%s", entry.UserId, entry.Asset)

	var lines []journalLine
	lines = append(lines, bucketLine("user_available", owner, entry.AvailableDelta)...)
	lines = append(lines, bucketLine("user_locked", owner, entry.LockedDelta)...)

	total := entry.AvailableDelta.Add(entry.LockedDelta)
	if total.IsPositive() {
		// We owe the user more
		lines = append(lines, journalLine{"system_liability", "user_funds_" + entry.Asset, decimal.Zero, total})
	} else if total.IsNegative() {
		lines = append(lines, journalLine{"system_liability", "user_funds_" + entry.Asset, total.Neg(), decimal.Zero})
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), entry.Id, line.accountType, line.accountId,
			line.debitAmount.String(), line.creditAmount.String(), entry.CreatedAt)
		if err != nil {
			return err
		}
	}

	return nil
}

func bucketLine(accountType, accountId string, delta decimal.Decimal) []journalLine {
	switch {
	case delta.IsPositive():
		return []journalLine{{accountType, accountId, delta, decimal.Zero}}
	case delta.IsNegative():
		return []journalLine{{accountType, accountId, decimal.Zero, delta.Neg()}}
	}
	return nil
}

func scanAccountBalance(row rowScanner) (models.AccountBalance, error) {
	var b models.AccountBalance
	var availableStr, lockedStr string
	if err := row.Scan(&b.Id, &b.UserId, &b.Asset, &availableStr, &lockedStr,
		&b.LastEntryId, &b.Version, &b.UpdatedAt); err != nil {
		return models.AccountBalance{}, err
	}

	var err error
	if b.Available, err = parseDecimal("available", availableStr); err != nil {
		return models.AccountBalance{}, err
	}
	if b.Locked, err = parseDecimal("locked", lockedStr); err != nil {
		return models.AccountBalance{}, err
	}
	return b, nil
}
