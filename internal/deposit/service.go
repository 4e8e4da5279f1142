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

package deposit

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

// Store is the persistence the deposit pipeline needs.
type Store interface {
	store.DepositStore
	store.CatalogStore
}

type Service struct {
	store     Store
	tolerance decimal.Decimal
	now       func() time.Time
}

// SubmitRequest is a user's deposit claim. Exactly one of TxHash and
// ProofImage is set, matching ProofType.
type SubmitRequest struct {
	UserId          string
	PaymentMethodId string
	Amount          decimal.Decimal
	ProofType       models.ProofType
	TxHash          string
	ProofImage      string
}

// Signal is one report from the external confirmation source.
type Signal struct {
	Confirmations  int
	ReceivedAmount *decimal.Decimal
}

func NewService(s Store, cfg models.EngineConfig) *Service {
	return &Service{
		store:     s,
		tolerance: cfg.MismatchTolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a pending deposit after checking the method's current limits.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (d *models.Deposit, err error) {
	start := time.Now()
	defer func() { metrics.Observe("deposit.submit", start, store.Kind(err)) }()

	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	method, err := s.store.GetPaymentMethod(ctx, req.PaymentMethodId)
	if err != nil {
		return nil, err
	}
	if !method.Active {
		return nil, fmt.Errorf("%w: %s", store.ErrMethodInactive, method.Id)
	}
	crypto, err := s.store.GetCryptocurrency(ctx, method.Symbol)
	if err != nil {
		return nil, err
	}
	if !crypto.Active {
		return nil, fmt.Errorf("%w: cryptocurrency %s is disabled", store.ErrMethodInactive, crypto.Symbol)
	}
	if !method.InRange(req.Amount) {
		return nil, fmt.Errorf("%w: amount %s outside limits [%s, %s] for %s", store.ErrValidation,
			req.Amount.String(), method.MinAmount.String(), method.MaxAmount.String(), method.Id)
	}

	d = &models.Deposit{
		UserId:          req.UserId,
		PaymentMethodId: method.Id,
		Symbol:          method.Symbol,
		Network:         method.Network,
		ExpectedAmount:  req.Amount,
		ProofType:       req.ProofType,
		TxHash:          req.TxHash,
		ProofImage:      req.ProofImage,
	}
	if err := s.store.CreateDeposit(ctx, d); err != nil {
		return nil, err
	}

	metrics.Transition("deposit", string(d.Status))
	return d, nil
}

func validateSubmit(req SubmitRequest) error {
	if req.UserId == "" {
		return fmt.Errorf("%w: user is required", store.ErrValidation)
	}
	if req.PaymentMethodId == "" {
		return fmt.Errorf("%w: crypto_payment_method_id is required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	switch req.ProofType {
	case models.ProofTxHash:
		if strings.TrimSpace(req.TxHash) == "" || req.ProofImage != "" {
			return fmt.Errorf("%w: hash proof requires a transaction hash and no image", store.ErrValidation)
		}
	case models.ProofImage:
		if req.ProofImage == "" || req.TxHash != "" {
			return fmt.Errorf("%w: image proof requires an image and no transaction hash", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown proof_type %q", store.ErrValidation, req.ProofType)
	}
	return nil
}

// Advance applies a confirmation signal. Terminal deposits are returned
// unchanged. Reaching the required confirmations either confirms and credits
// the received amount or, outside tolerance, parks the deposit in mismatch.
func (s *Service) Advance(ctx context.Context, depositId string, sig Signal) (d *models.Deposit, err error) {
	start := time.Now()
	defer func() { metrics.Observe("deposit.advance", start, store.Kind(err)) }()

	if sig.Confirmations < 0 {
		return nil, fmt.Errorf("%w: confirmations cannot be negative", store.ErrValidation)
	}
	if sig.ReceivedAmount != nil && sig.ReceivedAmount.IsNegative() {
		return nil, fmt.Errorf("%w: received amount cannot be negative", store.ErrValidation)
	}

	d, err = s.store.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		zap.L().Debug("Ignoring signal for terminal deposit",
			zap.String("deposit_id", d.Id), zap.String("status", string(d.Status)))
		return d, nil
	}

	crypto, err := s.store.GetCryptocurrency(ctx, d.Symbol)
	if err != nil {
		return nil, err
	}
	required := crypto.RequiredConfirmations
	if required < 1 {
		required = 1
	}

	from, version := d.Status, d.Version
	now := s.now()

	// confirmations only ever grow; a late, lower report is not a rollback
	if sig.Confirmations > d.Confirmations {
		d.Confirmations = sig.Confirmations
	}
	received := d.ExpectedAmount
	if sig.ReceivedAmount != nil {
		received = *sig.ReceivedAmount
		d.ActualAmount = &received
	} else if d.ActualAmount != nil {
		received = *d.ActualAmount
	}

	var events []models.DepositEvent
	step := func(action models.DepositAction, note string) {
		next, ok := d.Status.Next(action)
		if !ok {
			return
		}
		d.Status = next
		events = append(events, models.DepositEvent{
			DepositId: d.Id, Status: next, Confirmations: d.Confirmations, Note: note, CreatedAt: now,
		})
	}

	if d.Confirmations >= 1 {
		step(models.DepositActionVerify, "confirmations observed")
	}

	var credit *store.BalanceChange
	if d.Confirmations >= required {
		if s.withinTolerance(d.ExpectedAmount, received) {
			credited := received
			d.ActualAmount = &credited
			d.CreditedAmount = &credited
			d.VerifiedAt = &now
			d.VerificationError = ""
			step(models.DepositActionConfirm, fmt.Sprintf("%d/%d confirmations", d.Confirmations, required))
			credit = &store.BalanceChange{
				UserId:         d.UserId,
				Asset:          d.Symbol,
				Kind:           models.EntryDepositCredit,
				AvailableDelta: credited,
				Reference:      d.Id,
			}
		} else {
			d.VerificationError = fmt.Sprintf("received %s %s, expected %s",
				received.String(), d.Symbol, d.ExpectedAmount.String())
			step(models.DepositActionFlagMismatch, d.VerificationError)
		}
	}

	if len(events) == 0 {
		events = append(events, models.DepositEvent{
			DepositId: d.Id, Status: d.Status, Confirmations: d.Confirmations, Note: "signal", CreatedAt: now,
		})
	}

	err = s.store.TransitionDeposit(ctx, store.DepositTransition{
		Deposit:         d,
		ExpectedVersion: version,
		FromStatus:      from,
		Credit:          credit,
		Events:          events,
	})
	if err != nil {
		return nil, err
	}

	s.record(from, d.Status, credit)
	return d, nil
}

func (s *Service) withinTolerance(expected, received decimal.Decimal) bool {
	allowed := expected.Mul(s.tolerance)
	return received.Sub(expected).Abs().LessThanOrEqual(allowed)
}

// ManualConfirm is the admin override into confirmed. It credits amount, or
// the expected amount when amount is nil. Repeating it on a confirmed deposit
// returns the deposit without a second credit.
func (s *Service) ManualConfirm(ctx context.Context, actor models.Actor, depositId string, amount *decimal.Decimal) (d *models.Deposit, err error) {
	start := time.Now()
	defer func() { metrics.Observe("deposit.manual_confirm", start, store.Kind(err)) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: manual confirm requires admin", store.ErrUnauthorized)
	}
	if amount != nil && !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}

	d, err = s.store.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DepositConfirmed {
		return d, nil
	}
	next, ok := d.Status.Next(models.DepositActionManualConfirm)
	if !ok {
		return nil, fmt.Errorf("%w: deposit %s is %s", store.ErrInvalidState, d.Id, d.Status)
	}

	from, version := d.Status, d.Version
	now := s.now()
	credited := d.ExpectedAmount
	if amount != nil {
		credited = *amount
	}

	d.Status = next
	d.CreditedAmount = &credited
	d.VerifiedAt = &now
	credit := &store.BalanceChange{
		UserId:         d.UserId,
		Asset:          d.Symbol,
		Kind:           models.EntryDepositCredit,
		AvailableDelta: credited,
		Reference:      d.Id,
	}

	err = s.store.TransitionDeposit(ctx, store.DepositTransition{
		Deposit:         d,
		ExpectedVersion: version,
		FromStatus:      from,
		Credit:          credit,
		Events: []models.DepositEvent{{
			DepositId:     d.Id,
			Status:        next,
			Confirmations: d.Confirmations,
			Note:          "manually confirmed by " + actor.UserId,
			CreatedAt:     now,
		}},
	})
	if err != nil {
		if settled, ok := s.settledAs(ctx, depositId, models.DepositConfirmed, err); ok {
			return settled, nil
		}
		return nil, err
	}

	zap.L().Info("Deposit manually confirmed",
		zap.String("deposit_id", d.Id),
		zap.String("admin", actor.UserId),
		zap.String("credited", credited.String()))
	s.record(from, d.Status, credit)
	return d, nil
}

// Fail is the admin override into failed. It has no ledger effect.
func (s *Service) Fail(ctx context.Context, actor models.Actor, depositId, reason string) (d *models.Deposit, err error) {
	start := time.Now()
	defer func() { metrics.Observe("deposit.fail", start, store.Kind(err)) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: fail requires admin", store.ErrUnauthorized)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", store.ErrValidation)
	}

	d, err = s.store.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DepositFailed {
		return d, nil
	}
	next, ok := d.Status.Next(models.DepositActionFail)
	if !ok {
		return nil, fmt.Errorf("%w: deposit %s is %s", store.ErrInvalidState, d.Id, d.Status)
	}

	from, version := d.Status, d.Version
	d.Status = next
	d.VerificationError = reason

	err = s.store.TransitionDeposit(ctx, store.DepositTransition{
		Deposit:         d,
		ExpectedVersion: version,
		FromStatus:      from,
		Events: []models.DepositEvent{{
			DepositId:     d.Id,
			Status:        next,
			Confirmations: d.Confirmations,
			Note:          reason,
			CreatedAt:     s.now(),
		}},
	})
	if err != nil {
		if settled, ok := s.settledAs(ctx, depositId, models.DepositFailed, err); ok {
			return settled, nil
		}
		return nil, err
	}

	zap.L().Info("Deposit failed by admin",
		zap.String("deposit_id", d.Id),
		zap.String("admin", actor.UserId),
		zap.String("reason", reason))
	s.record(from, d.Status, nil)
	return d, nil
}

// settledAs reloads a deposit after a lost race and reports whether the
// winner already left it in want.
func (s *Service) settledAs(ctx context.Context, depositId string, want models.DepositStatus, cause error) (*models.Deposit, bool) {
	if !errors.Is(cause, store.ErrConflict) && !errors.Is(cause, store.ErrDuplicateTransaction) {
		return nil, false
	}
	d, err := s.store.GetDeposit(ctx, depositId)
	if err != nil || d.Status != want {
		return nil, false
	}
	return d, true
}

// Get returns a deposit visible to actor: its owner or an admin.
func (s *Service) Get(ctx context.Context, actor models.Actor, depositId string) (*models.Deposit, error) {
	d, err := s.store.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	if d.UserId != actor.UserId && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: deposit %s", store.ErrUnauthorized, depositId)
	}
	return d, nil
}

func (s *Service) ListByUser(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListDeposits(ctx, userId, limit, offset)
}

func (s *Service) Events(ctx context.Context, depositId string) ([]models.DepositEvent, error) {
	return s.store.ListDepositEvents(ctx, depositId)
}

func (s *Service) record(from, to models.DepositStatus, credit *store.BalanceChange) {
	if from != to {
		metrics.Transition("deposit", string(to))
	}
	if credit != nil {
		metrics.LedgerChange(string(credit.Kind))
	}
}
