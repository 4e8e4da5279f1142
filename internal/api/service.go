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
	"fmt"
	"net/http"

	"escrow-engine-go/internal/auth"
	"escrow-engine-go/internal/chat"
	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/escrow"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"
	"escrow-engine-go/internal/withdrawal"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerBackend is what the ledger facade reads and adjusts.
type LedgerBackend interface {
	store.LedgerStore
	Ping(ctx context.Context) error
}

// LedgerService provides minimal API over balances
type LedgerService struct {
	db LedgerBackend
}

func NewLedgerService(db LedgerBackend) *LedgerService {
	return &LedgerService{
		db: db,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Backends groups the engine services the HTTP layer exposes.
type Backends struct {
	Ledger      *LedgerService
	Deposits    *deposit.Service
	Withdrawals *withdrawal.Service
	Escrow      *escrow.Service
	Chat        *chat.Service
	Hub         *chat.Hub
	Auth        *auth.Authenticator
}

type Server struct {
	Backends
	chatCfg  models.ChatConfig
	upgrader websocket.Upgrader
}

func NewServer(b Backends, chatCfg models.ChatConfig) *Server {
	return &Server{
		Backends: b,
		chatCfg:  chatCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the full route table. Everything except /health and
// /metrics requires a bearer token; /admin additionally requires the admin role.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.Auth.Middleware)

	authed.HandleFunc("/balances", s.handleBalances).Methods(http.MethodGet)

	authed.HandleFunc("/deposits", s.handleSubmitDeposit).Methods(http.MethodPost)
	authed.HandleFunc("/deposits", s.handleListDeposits).Methods(http.MethodGet)
	authed.HandleFunc("/deposits/{id}", s.handleGetDeposit).Methods(http.MethodGet)

	authed.HandleFunc("/withdrawals", s.handleRequestWithdrawal).Methods(http.MethodPost)
	authed.HandleFunc("/withdrawals", s.handleListWithdrawals).Methods(http.MethodGet)
	authed.HandleFunc("/withdrawals/{id}", s.handleGetWithdrawal).Methods(http.MethodGet)

	authed.HandleFunc("/p2p/offers", s.handleListOffers).Methods(http.MethodGet)
	authed.HandleFunc("/p2p/offers", s.handleCreateOffer).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/offers/{id}/active", s.handleSetOfferActive).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/offers/{id}/trade", s.handleCreateTrade).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/trades/{id}", s.handleTradeDetail).Methods(http.MethodGet)
	authed.HandleFunc("/p2p/trades/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/trades/{id}/pay", s.handleMarkPaid).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/trades/{id}/release", s.handleRelease).Methods(http.MethodPost)
	authed.HandleFunc("/p2p/trades/{id}/dispute", s.handleDispute).Methods(http.MethodPost)

	authed.HandleFunc("/ws/p2p/trades/{id}", s.handleTradeChannel).Methods(http.MethodGet)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/deposits/{id}/advance", s.handleAdvanceDeposit).Methods(http.MethodPost)
	admin.HandleFunc("/deposits/{id}/manual-confirm", s.handleManualConfirm).Methods(http.MethodPost)
	admin.HandleFunc("/deposits/{id}/fail", s.handleFailDeposit).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals/pending", s.handlePendingWithdrawals).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/{id}/process", s.handleProcessWithdrawal).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals/{id}/cancel", s.handleCancelWithdrawal).Methods(http.MethodPost)
	admin.HandleFunc("/p2p/trades/{id}/resolve", s.handleResolveDispute).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Ledger.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.Envelope{Success: false, Message: "database unavailable"})
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
