package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupChatTest(t *testing.T) (*Service, *Hub, string) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.ApplyBalanceChange(ctx, store.BalanceChange{
		UserId: "seller", Asset: "BTC", Kind: models.EntryAdjustment,
		AvailableDelta: decimal.NewFromInt(1), Reference: "seed",
	})
	require.NoError(t, err)

	offer := &models.Offer{
		UserId: "seller", Side: models.OfferSell, Coin: "BTC", Price: decimal.NewFromInt(50000),
		AvailableAmount: decimal.NewFromInt(1), MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(1000),
	}
	require.NoError(t, db.CreateOffer(ctx, offer))

	crypto := decimal.RequireFromString("0.002")
	trade := &models.Trade{
		OfferId: offer.Id, BuyerId: "buyer", SellerId: "seller", Coin: "BTC", Price: offer.Price,
		AmountUSD: decimal.NewFromInt(100), CryptoAmount: crypto, ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, db.CreateTrade(ctx, store.NewTradeParams{
		Trade: trade,
		Lock: store.BalanceChange{UserId: "seller", Asset: "BTC", Kind: models.EntryEscrowLock,
			AvailableDelta: crypto.Neg(), LockedDelta: crypto},
	}))

	hub := NewHub()
	return NewService(db, hub), hub, trade.Id
}

func TestSendMessage_PersistsThenPushes(t *testing.T) {
	svc, hub, tradeId := setupChatTest(t)
	ctx := context.Background()

	listener := NewClient(nil, tradeId, "seller", 16)
	hub.Join(listener)
	next(t, listener)

	m, err := svc.SendMessage(ctx, models.Actor{UserId: "buyer"}, tradeId, "  sent via bank  ")
	require.NoError(t, err)
	assert.Equal(t, "sent via bank", m.Body)

	ev := next(t, listener)
	require.NotNil(t, ev.Message)
	assert.Equal(t, m.Id, ev.Message.Id)

	stored, err := svc.ListMessages(ctx, models.Actor{UserId: "seller"}, tradeId)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, m.Id, stored[0].Id)
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _, tradeId := setupChatTest(t)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, models.Actor{UserId: "buyer"}, tradeId, "   ")
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.SendMessage(ctx, models.Actor{UserId: "buyer"}, tradeId, strings.Repeat("x", MaxMessageLength+1))
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.SendMessage(ctx, models.Actor{UserId: "stranger"}, tradeId, "hello")
	assert.ErrorIs(t, err, store.ErrUnauthorized)
	_, err = svc.SendMessage(ctx, models.Actor{UserId: "buyer"}, "missing", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.SendMessage(ctx, models.Actor{UserId: "admin1", Role: models.RoleAdmin}, tradeId, "admin here")
	assert.NoError(t, err)
}

func TestSendMessage_PushOrderMatchesREST(t *testing.T) {
	svc, hub, tradeId := setupChatTest(t)
	ctx := context.Background()

	// a frozen clock forces identical wall times
	frozen := time.Now().UTC()
	svc.now = func() time.Time { return frozen }

	listener := NewClient(nil, tradeId, "seller", 64)
	hub.Join(listener)
	next(t, listener)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "buyer"
			if i%2 == 0 {
				sender = "seller"
			}
			_, err := svc.SendMessage(ctx, models.Actor{UserId: sender}, tradeId, "msg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := svc.ListMessages(ctx, models.Actor{UserId: "buyer"}, tradeId)
	require.NoError(t, err)
	require.Len(t, stored, 20)

	for i, m := range stored {
		ev := next(t, listener)
		assert.Equal(t, m.Id, ev.Message.Id, "position %d", i)
		if i > 0 {
			assert.True(t, stored[i-1].Before(m))
		}
	}
}
