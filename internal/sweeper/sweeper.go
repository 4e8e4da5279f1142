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

package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer cancels pending trades whose expiry has passed.
type Expirer interface {
	CancelExpired(ctx context.Context) (int, error)
}

// Config contains configuration for ExpirySweeper
type Config struct {
	Escrow   Expirer
	Interval time.Duration
}

// ExpirySweeper periodically cancels expired trades, releasing their escrow
type ExpirySweeper struct {
	escrow   Expirer
	interval time.Duration

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *ExpirySweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		escrow:   cfg.Escrow,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins sweeping in the background. The first sweep runs immediately
// to catch trades that expired while the process was down.
func (s *ExpirySweeper) Start(ctx context.Context) {
	zap.L().Info("Starting trade expiry sweeper", zap.Duration("interval", s.interval))
	go s.pollLoop(ctx)
}

// Stop gracefully stops the sweeper and waits for an in-flight sweep
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() {
		zap.L().Info("Stopping trade expiry sweeper")
		close(s.stopChan)
	})
	<-s.doneChan
}

// Run starts the sweeper and blocks until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	zap.L().Info("Trade expiry sweeper stopped")
	return nil
}

func (s *ExpirySweeper) pollLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	cancelled, err := s.escrow.CancelExpired(ctx)
	if err != nil {
		zap.L().Error("Trade expiry sweep failed", zap.Int("cancelled", cancelled), zap.Error(err))
		return
	}
	if cancelled > 0 {
		zap.L().Info("Expired trades cancelled", zap.Int("count", cancelled))
	}
}
