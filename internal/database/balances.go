package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalance returns current buckets for user/asset (O(1) lookup)
func (s *SubledgerService) GetBalance(ctx context.Context, userId, asset string) (models.AccountBalance, error) {
	zap.L().Debug("Getting balance", zap.String("user_id", userId), zap.String("asset", asset))

	balance, err := scanAccountBalance(s.db.QueryRowContext(ctx, queryGetAccountBalance, userId, asset))
	if errors.Is(err, sql.ErrNoRows) {
		// No balance record means zero balance
		return models.AccountBalance{
			UserId:    userId,
			Asset:     asset,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
		}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("asset", asset), zap.Error(err))
		return models.AccountBalance{}, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// GetAllBalances returns every account a user holds
func (s *SubledgerService) GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all balances", zap.String("user_id", userId))

	rows, err := s.db.QueryContext(ctx, queryGetAllUserBalances, userId)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		balance, err := scanAccountBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if balance.Total().IsZero() {
			continue
		}
		balances = append(balances, balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved all balances", zap.String("user_id", userId), zap.Int("count", len(balances)))
	return balances, nil
}

// GetLedgerHistory returns paginated ledger entries, newest first
func (s *SubledgerService) GetLedgerHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.LedgerEntry, error) {
	zap.L().Debug("Getting ledger history",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetLedgerHistory, userId, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var entryType string
		var amounts [6]string
		err := rows.Scan(&e.Id, &e.UserId, &e.Asset, &entryType,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
			&e.Reference, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EntryType = models.LedgerEntryType(entryType)

		targets := []*decimal.Decimal{&e.AvailableDelta, &e.LockedDelta, &e.AvailableBefore,
			&e.AvailableAfter, &e.LockedBefore, &e.LockedAfter}
		for i, target := range targets {
			if *target, err = parseDecimal("ledger amount", amounts[i]); err != nil {
				return nil, err
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during ledger row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}

// ReconcileBalance verifies that both buckets match the sum of all entries
func (s *SubledgerService) ReconcileBalance(ctx context.Context, userId, asset string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId), zap.String("asset", asset))

	current, err := s.GetBalance(ctx, userId, asset)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryGetLedgerDeltas, userId, asset)
	if err != nil {
		return fmt.Errorf("failed to load ledger deltas: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	// Summed in Go: SQLite SUM over TEXT would go through floating point.
	available, locked := decimal.Zero, decimal.Zero
	for rows.Next() {
		var availableStr, lockedStr string
		if err := rows.Scan(&availableStr, &lockedStr); err != nil {
			return fmt.Errorf("failed to scan ledger delta: %w", err)
		}
		a, err := parseDecimal("available_delta", availableStr)
		if err != nil {
			return err
		}
		l, err := parseDecimal("locked_delta", lockedStr)
		if err != nil {
			return err
		}
		available = available.Add(a)
		locked = locked.Add(l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating ledger deltas: %w", err)
	}

	if !current.Available.Equal(available) || !current.Locked.Equal(locked) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("current_available", current.Available.String()),
			zap.String("calculated_available", available.String()),
			zap.String("current_locked", current.Locked.String()),
			zap.String("calculated_locked", locked.String()))
		return fmt.Errorf("balance mismatch: available current=%s calculated=%s, locked current=%s calculated=%s",
			current.Available.String(), available.String(), current.Locked.String(), locked.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("available", current.Available.String()),
		zap.String("locked", current.Locked.String()))
	return nil
}
