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

package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-engine-go/internal/metrics"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the persistence the withdrawal pipeline needs.
type Store interface {
	store.WithdrawalStore
	GetCryptocurrency(ctx context.Context, symbol string) (*models.Cryptocurrency, error)
	GetWithdrawalFee(ctx context.Context, asset string) (models.WithdrawalFee, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

type Request struct {
	UserId          string
	Asset           string
	Amount          decimal.Decimal
	DestinationType models.DestinationType
	Destination     string
}

func NewService(s Store) *Service {
	return &Service{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Request locks the gross amount and opens a pending withdrawal.
func (s *Service) Request(ctx context.Context, req Request) (w *models.Withdrawal, err error) {
	start := time.Now()
	defer func() { metrics.Observe("withdrawal.request", start, store.Kind(err)) }()

	req.Asset = strings.ToUpper(strings.TrimSpace(req.Asset))
	if req.UserId == "" || req.Asset == "" {
		return nil, fmt.Errorf("%w: user and asset are required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	if req.DestinationType == "" {
		req.DestinationType = models.DestinationWallet
	}
	if req.DestinationType != models.DestinationWallet && req.DestinationType != models.DestinationMethod {
		return nil, fmt.Errorf("%w: unknown destination_type %q", store.ErrValidation, req.DestinationType)
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: destination is required", store.ErrValidation)
	}

	schedule, err := s.store.GetWithdrawalFee(ctx, req.Asset)
	if err != nil {
		return nil, err
	}
	// Off-chain assets are withdrawable once they have a fee schedule.
	if !schedule.Scheduled {
		if _, err := s.store.GetCryptocurrency(ctx, req.Asset); errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown asset %s", store.ErrValidation, req.Asset)
		} else if err != nil {
			return nil, err
		}
	}
	fee := schedule.For(req.Amount)
	if fee.GreaterThanOrEqual(req.Amount) {
		return nil, fmt.Errorf("%w: fee %s consumes the whole amount %s", store.ErrValidation,
			fee.String(), req.Amount.String())
	}

	w = &models.Withdrawal{
		UserId:          req.UserId,
		Asset:           req.Asset,
		GrossAmount:     req.Amount,
		Fee:             fee,
		NetAmount:       req.Amount.Sub(fee),
		DestinationType: req.DestinationType,
		Destination:     destination,
	}
	lock := store.BalanceChange{
		UserId:         req.UserId,
		Asset:          req.Asset,
		Kind:           models.EntryWithdrawalLock,
		AvailableDelta: req.Amount.Neg(),
		LockedDelta:    req.Amount,
	}
	if err := s.store.CreateWithdrawal(ctx, w, lock); err != nil {
		return nil, err
	}

	metrics.Transition("withdrawal", string(w.Status))
	metrics.LedgerChange(string(lock.Kind))
	return w, nil
}

// Process completes a pending withdrawal: the locked gross amount leaves the
// account for good.
func (s *Service) Process(ctx context.Context, actor models.Actor, withdrawalId, txHash string, expectedVersion int64) (w *models.Withdrawal, err error) {
	start := time.Now()
	defer func() { metrics.Observe("withdrawal.process", start, store.Kind(err)) }()

	return s.transition(ctx, actor, withdrawalId, expectedVersion, models.WithdrawalActionProcess, func(w *models.Withdrawal) []store.BalanceChange {
		now := s.now()
		w.TxHash = strings.TrimSpace(txHash)
		w.ProcessedAt = &now
		return []store.BalanceChange{{
			UserId:      w.UserId,
			Asset:       w.Asset,
			Kind:        models.EntryWithdrawalDebit,
			LockedDelta: w.GrossAmount.Neg(),
			Reference:   w.Id,
		}}
	})
}

// Cancel returns the full locked amount to available. No fee is charged.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, withdrawalId string, expectedVersion int64) (w *models.Withdrawal, err error) {
	start := time.Now()
	defer func() { metrics.Observe("withdrawal.cancel", start, store.Kind(err)) }()

	return s.transition(ctx, actor, withdrawalId, expectedVersion, models.WithdrawalActionCancel, func(w *models.Withdrawal) []store.BalanceChange {
		now := s.now()
		w.ProcessedAt = &now
		return []store.BalanceChange{{
			UserId:         w.UserId,
			Asset:          w.Asset,
			Kind:           models.EntryWithdrawalRelease,
			AvailableDelta: w.GrossAmount,
			LockedDelta:    w.GrossAmount.Neg(),
			Reference:      w.Id,
		}}
	})
}

func (s *Service) transition(ctx context.Context, actor models.Actor, withdrawalId string, expectedVersion int64,
	action models.WithdrawalAction, apply func(w *models.Withdrawal) []store.BalanceChange) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: %s requires admin", store.ErrUnauthorized, action)
	}

	w, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && expectedVersion != w.Version {
		return nil, fmt.Errorf("%w: withdrawal %s is at version %d", store.ErrConflict, w.Id, w.Version)
	}
	next, ok := w.Status.Next(action)
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %s is %s", store.ErrInvalidState, w.Id, w.Status)
	}

	version := w.Version
	w.Status = next
	changes := apply(w)

	err = s.store.TransitionWithdrawal(ctx, store.WithdrawalTransition{
		Withdrawal:      w,
		ExpectedVersion: version,
		Changes:         changes,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal finalized",
		zap.String("withdrawal_id", w.Id),
		zap.String("action", string(action)),
		zap.String("admin", actor.UserId),
		zap.String("gross", w.GrossAmount.String()))

	metrics.Transition("withdrawal", string(w.Status))
	for _, c := range changes {
		metrics.LedgerChange(string(c.Kind))
	}
	return w, nil
}

// Get returns a withdrawal visible to actor: its owner or an admin.
func (s *Service) Get(ctx context.Context, actor models.Actor, withdrawalId string) (*models.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, err
	}
	if w.UserId != actor.UserId && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: withdrawal %s", store.ErrUnauthorized, withdrawalId)
	}
	return w, nil
}

func (s *Service) ListByUser(ctx context.Context, userId string, limit, offset int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListWithdrawals(ctx, userId, limit, offset)
}

// ListPending is the admin processing queue, oldest first.
func (s *Service) ListPending(ctx context.Context, actor models.Actor, limit int) ([]models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: pending queue requires admin", store.ErrUnauthorized)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListPendingWithdrawals(ctx, limit)
}
