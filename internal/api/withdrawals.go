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
	"net/http"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/withdrawal"

	"github.com/shopspring/decimal"
)

type withdrawalBody struct {
	Asset           string                 `json:"asset"`
	Amount          decimal.Decimal        `json:"amount"`
	DestinationType models.DestinationType `json:"destination_type"`
	Destination     string                 `json:"destination"`
}

type processBody struct {
	TxHash  string `json:"tx_hash"`
	Version int64  `json:"version"`
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	wd, err := s.Withdrawals.Request(r.Context(), withdrawal.Request{
		UserId:          actorFrom(r).UserId,
		Asset:           body.Asset,
		Amount:          body.Amount,
		DestinationType: body.DestinationType,
		Destination:     body.Destination,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, wd)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	list, err := s.Withdrawals.ListByUser(r.Context(), actorFrom(r).UserId, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Withdrawal{}
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.Withdrawals.Get(r.Context(), actorFrom(r), pathId(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wd)
}

func (s *Server) handlePendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, _ := page(r)
	list, err := s.Withdrawals.ListPending(r.Context(), actorFrom(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Withdrawal{}
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	wd, err := s.Withdrawals.Process(r.Context(), actorFrom(r), pathId(r), body.TxHash, body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wd)
}

func (s *Server) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body versionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	wd, err := s.Withdrawals.Cancel(r.Context(), actorFrom(r), pathId(r), body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wd)
}
