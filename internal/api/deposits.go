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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxProofBytes bounds an uploaded proof-of-payment image.
const maxProofBytes = 10 << 20

type advanceBody struct {
	Confirmations  int              `json:"confirmations"`
	ReceivedAmount *decimal.Decimal `json:"received_amount"`
}

type manualConfirmBody struct {
	Amount *decimal.Decimal `json:"amount"`
}

type failBody struct {
	Reason string `json:"reason"`
}

// handleSubmitDeposit accepts the multipart deposit form. A hash proof comes
// as the proof_of_payment field, an image proof as the proof_file upload,
// which is recorded as "<filename>:<sha256>".
func (s *Server) handleSubmitDeposit(w http.ResponseWriter, r *http.Request) {
	req, err := parseDepositForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.UserId = actorFrom(r).UserId

	d, err := s.Deposits.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, d)
}

func parseDepositForm(r *http.Request) (deposit.SubmitRequest, error) {
	if err := r.ParseMultipartForm(maxProofBytes); err != nil {
		return deposit.SubmitRequest{}, fmt.Errorf("%w: invalid multipart form: %v", store.ErrValidation, err)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("amount")))
	if err != nil {
		return deposit.SubmitRequest{}, fmt.Errorf("%w: invalid amount", store.ErrValidation)
	}

	req := deposit.SubmitRequest{
		PaymentMethodId: strings.TrimSpace(r.FormValue("crypto_payment_method_id")),
		Amount:          amount,
		ProofType:       models.ProofType(r.FormValue("proof_type")),
		TxHash:          strings.TrimSpace(r.FormValue("proof_of_payment")),
	}

	file, header, err := r.FormFile("proof_file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return deposit.SubmitRequest{}, fmt.Errorf("%w: unreadable proof_file: %v", store.ErrValidation, err)
	default:
		defer file.Close()
		h := sha256.New()
		if _, err := io.Copy(h, file); err != nil {
			return deposit.SubmitRequest{}, fmt.Errorf("failed to read proof_file: %w", err)
		}
		req.ProofImage = header.Filename + ":" + hex.EncodeToString(h.Sum(nil))
	}
	return req, nil
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	deposits, err := s.Deposits.ListByUser(r.Context(), actorFrom(r).UserId, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if deposits == nil {
		deposits = []models.Deposit{}
	}
	writeData(w, http.StatusOK, deposits)
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.Deposits.Get(r.Context(), actorFrom(r), pathId(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

// handleAdvanceDeposit ingests a confirmation signal from an operator or watcher.
func (s *Server) handleAdvanceDeposit(w http.ResponseWriter, r *http.Request) {
	var body advanceBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	zap.L().Info("Deposit signal received",
		zap.String("deposit_id", pathId(r)),
		zap.Int("confirmations", body.Confirmations),
		zap.String("admin_id", actorFrom(r).UserId))

	d, err := s.Deposits.Advance(r.Context(), pathId(r), deposit.Signal{
		Confirmations:  body.Confirmations,
		ReceivedAmount: body.ReceivedAmount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (s *Server) handleManualConfirm(w http.ResponseWriter, r *http.Request) {
	var body manualConfirmBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.Deposits.ManualConfirm(r.Context(), actorFrom(r), pathId(r), body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (s *Server) handleFailDeposit(w http.ResponseWriter, r *http.Request) {
	var body failBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.Deposits.Fail(r.Context(), actorFrom(r), pathId(r), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}
