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

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"escrow-engine-go/internal/metrics"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxMessageLength bounds a chat message body, in characters.
const MaxMessageLength = 2000

// Store is the persistence the chat service needs.
type Store interface {
	store.MessageStore
	GetTrade(ctx context.Context, tradeId string) (*models.Trade, error)
}

type tradeLog struct {
	mu     sync.Mutex
	loaded bool
	last   time.Time
}

type Service struct {
	store Store
	hub   *Hub
	logs  sync.Map // trade id -> *tradeLog
	now   func() time.Time
}

func NewService(s Store, hub *Hub) *Service {
	return &Service{
		store: s,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) tradeLog(tradeId string) *tradeLog {
	v, _ := s.logs.LoadOrStore(tradeId, &tradeLog{})
	return v.(*tradeLog)
}

// Authorize reports whether actor may read or join the trade's channel.
func (s *Service) Authorize(ctx context.Context, actor models.Actor, tradeId string) (*models.Trade, error) {
	t, err := s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actor.UserId) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a member of %s", store.ErrUnauthorized, ChannelName(tradeId))
	}
	return t, nil
}

// SendMessage persists a message and then pushes it to the channel. The
// per-trade lock spans both steps, so push order always equals the
// (created_at, id) order REST returns.
func (s *Service) SendMessage(ctx context.Context, actor models.Actor, tradeId, body string) (m *models.Message, err error) {
	start := time.Now()
	defer func() { metrics.Observe("chat.send", start, store.Kind(err)) }()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: message is required", store.ErrValidation)
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", store.ErrValidation, MaxMessageLength)
	}
	if _, err := s.Authorize(ctx, actor, tradeId); err != nil {
		return nil, err
	}

	tl := s.tradeLog(tradeId)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if !tl.loaded {
		existing, err := s.store.ListMessages(ctx, tradeId)
		if err != nil {
			return nil, err
		}
		if n := len(existing); n > 0 {
			tl.last = existing[n-1].CreatedAt
		}
		tl.loaded = true
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	createdAt := s.now()
	if !createdAt.After(tl.last) {
		createdAt = tl.last.Add(time.Nanosecond)
	}

	m = &models.Message{
		Id:        id.String(),
		TradeId:   tradeId,
		SenderId:  actor.UserId,
		Body:      body,
		CreatedAt: createdAt,
	}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	tl.last = createdAt

	s.hub.PublishMessage(*m)

	zap.L().Debug("Trade message sent",
		zap.String("trade_id", tradeId),
		zap.String("message_id", m.Id),
		zap.String("sender_id", actor.UserId))
	return m, nil
}

// ListMessages returns the trade's full message log in order.
func (s *Service) ListMessages(ctx context.Context, actor models.Actor, tradeId string) ([]models.Message, error) {
	if _, err := s.Authorize(ctx, actor, tradeId); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, tradeId)
}
