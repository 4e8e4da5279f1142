/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrow-engine-go/internal/metrics"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// GetUserBalance returns the available and locked buckets for a user and asset
func (s *LedgerService) GetUserBalance(ctx context.Context, userId, asset string) (models.AccountBalance, error) {
	if userId == "" || asset == "" {
		return models.AccountBalance{}, fmt.Errorf("%w: user_id and asset are required", store.ErrValidation)
	}

	balance, err := s.db.GetBalance(ctx, userId, strings.ToUpper(asset))
	if err != nil {
		zap.L().Error("Failed to get user balance",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.Error(err))
		return models.AccountBalance{}, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	return balance, nil
}

// GetUserBalances returns every balance the user holds
func (s *LedgerService) GetUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}

	balances, err := s.db.GetAllBalances(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balances: %w", err)
	}
	if balances == nil {
		balances = []models.AccountBalance{}
	}
	return balances, nil
}

// GetLedgerHistory returns paginated ledger entries for a user and asset
func (s *LedgerService) GetLedgerHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.LedgerEntry, error) {
	if userId == "" || asset == "" {
		return nil, fmt.Errorf("%w: user_id and asset are required", store.ErrValidation)
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.db.GetLedgerHistory(ctx, userId, strings.ToUpper(asset), limit, offset)
	if err != nil {
		zap.L().Error("Failed to get ledger history",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve ledger history: %w", err)
	}
	return entries, nil
}

// AdminAdjust credits (or, with a negative delta, debits) a user's available
// balance. Replaying a reference returns the current balance unchanged.
func (s *LedgerService) AdminAdjust(ctx context.Context, actor models.Actor, userId, asset string, delta decimal.Decimal, reference string) (b models.AccountBalance, err error) {
	start := time.Now()
	defer func() { metrics.Observe("ledger.adjust", start, store.Kind(err)) }()

	if !actor.IsAdmin() {
		return models.AccountBalance{}, fmt.Errorf("%w: adjustments require admin", store.ErrUnauthorized)
	}
	if userId == "" || asset == "" || reference == "" || delta.IsZero() {
		return models.AccountBalance{}, fmt.Errorf("%w: user, asset, non-zero amount and reference are required", store.ErrValidation)
	}
	asset = strings.ToUpper(asset)

	zap.L().Info("Applying balance adjustment",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("amount", delta.String()),
		zap.String("reference", reference),
		zap.String("admin_id", actor.UserId))

	_, err = s.db.ApplyBalanceChange(ctx, store.BalanceChange{
		UserId:         userId,
		Asset:          asset,
		Kind:           models.EntryAdjustment,
		AvailableDelta: delta,
		Reference:      reference,
	})
	switch {
	case errors.Is(err, store.ErrDuplicateTransaction):
		zap.L().Info("Duplicate adjustment detected",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("reference", reference))
	case err != nil:
		zap.L().Error("Adjustment failed",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("amount", delta.String()),
			zap.Error(err))
		return models.AccountBalance{}, err
	default:
		metrics.LedgerChange(string(models.EntryAdjustment))
	}

	b, err = s.db.GetBalance(ctx, userId, asset)
	return b, err
}

// Reconcile checks every balance of a user against its ledger entries and
// reports all discrepancies together.
func (s *LedgerService) Reconcile(ctx context.Context, userId string) error {
	balances, err := s.GetUserBalances(ctx, userId)
	if err != nil {
		return err
	}
	var errs error
	for _, b := range balances {
		if err := s.db.ReconcileBalance(ctx, userId, b.Asset); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.Asset, err))
		}
	}
	return errs
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.Ledger.GetUserBalances(r.Context(), actorFrom(r).UserId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, balances)
}
