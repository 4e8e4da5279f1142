package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
)

func createTestOffer(t *testing.T, service *Service, available string) *models.Offer {
	t.Helper()
	o := &models.Offer{
		UserId:          "user1",
		Side:            models.OfferSell,
		Coin:            "BTC",
		Price:           decimal.NewFromInt(50000),
		AvailableAmount: decimal.RequireFromString(available),
		MinAmount:       decimal.NewFromInt(10),
		MaxAmount:       decimal.NewFromInt(1000),
		PaymentMethods:  []string{"Bank Transfer", "PayPal"},
		Terms:           "Fast release",
	}
	if err := service.CreateOffer(context.Background(), o); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	return o
}

func openTestTrade(t *testing.T, service *Service, offer *models.Offer, amount string) *models.Trade {
	t.Helper()
	crypto := decimal.RequireFromString(amount)
	trade := &models.Trade{
		OfferId:      offer.Id,
		BuyerId:      "user2",
		SellerId:     "user1",
		Coin:         offer.Coin,
		Price:        offer.Price,
		AmountUSD:    crypto.Mul(offer.Price),
		CryptoAmount: crypto,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	err := service.CreateTrade(context.Background(), store.NewTradeParams{
		Trade: trade,
		Lock: store.BalanceChange{
			UserId:         "user1",
			Asset:          "BTC",
			Kind:           models.EntryEscrowLock,
			AvailableDelta: crypto.Neg(),
			LockedDelta:    crypto,
		},
	})
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	return trade
}

func TestListOffers_Search(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestOffer(t, service, "1")

	cases := []struct {
		coin, search string
		want         int
	}{
		{"", "", 1},
		{"BTC", "", 1},
		{"ETH", "", 0},
		{"", "paypal", 1},
		{"", "test user", 1},
		{"", "wire", 0},
	}
	for _, c := range cases {
		offers, err := service.ListOffers(ctx, c.coin, c.search)
		if err != nil {
			t.Fatalf("ListOffers(%q, %q) failed: %v", c.coin, c.search, err)
		}
		if len(offers) != c.want {
			t.Errorf("ListOffers(%q, %q): expected %d, got %d", c.coin, c.search, c.want, len(offers))
		}
	}

	offers, _ := service.ListOffers(ctx, "", "")
	if offers[0].UserName != "Test User" || len(offers[0].PaymentMethods) != 2 {
		t.Errorf("Unexpected offer row: %+v", offers[0])
	}
}

func TestCreateTrade_ReservesAndLocks(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.5")
	trade := openTestTrade(t, service, offer, "0.002")

	got, err := service.GetTrade(ctx, trade.Id)
	if err != nil {
		t.Fatalf("GetTrade failed: %v", err)
	}
	if got.Status != models.TradePending || !got.CryptoAmount.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Unexpected trade: %+v", got)
	}
	if got.ExpiresAt.UnixNano() != trade.ExpiresAt.UnixNano() {
		t.Errorf("Expiry did not round-trip: %v vs %v", got.ExpiresAt, trade.ExpiresAt)
	}

	o, _ := service.GetOffer(ctx, offer.Id)
	if !o.AvailableAmount.Equal(decimal.RequireFromString("0.498")) {
		t.Errorf("Expected offer availability 0.498, got %s", o.AvailableAmount)
	}

	balance, _ := service.GetBalance(ctx, "user1", "BTC")
	if !balance.Available.Equal(decimal.RequireFromString("0.998")) || !balance.Locked.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Unexpected seller balance: available=%s locked=%s", balance.Available, balance.Locked)
	}
}

func TestCreateTrade_RollsBackWithoutFunds(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	offer := createTestOffer(t, service, "0.5")

	trade := &models.Trade{
		OfferId: offer.Id, BuyerId: "user2", SellerId: "user1", Coin: "BTC",
		Price: offer.Price, AmountUSD: decimal.NewFromInt(100), CryptoAmount: decimal.RequireFromString("0.002"),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	err := service.CreateTrade(ctx, store.NewTradeParams{
		Trade: trade,
		Lock: store.BalanceChange{UserId: "user1", Asset: "BTC", Kind: models.EntryEscrowLock,
			AvailableDelta: trade.CryptoAmount.Neg(), LockedDelta: trade.CryptoAmount},
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	o, _ := service.GetOffer(ctx, offer.Id)
	if !o.AvailableAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Offer capacity leaked: %s", o.AvailableAmount)
	}
	if _, err := service.GetTrade(ctx, trade.Id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected trade to be rolled back, got %v", err)
	}
}

func TestCreateTrade_ExceedsOffer(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.001")

	err := service.CreateTrade(ctx, store.NewTradeParams{
		Trade: &models.Trade{OfferId: offer.Id, BuyerId: "user2", SellerId: "user1", Coin: "BTC",
			Price: offer.Price, AmountUSD: decimal.NewFromInt(100), CryptoAmount: decimal.RequireFromString("0.002")},
		Lock: credit("user1", "BTC", "0", ""),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestTransitionTrade_RefundRestoresOffer(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.5")
	trade := openTestTrade(t, service, offer, "0.002")

	trade.Status = models.TradeCancelled
	transition := store.TradeTransition{
		Trade:           trade,
		ExpectedVersion: 1,
		FromStatus:      models.TradePending,
		Changes: []store.BalanceChange{{
			UserId: "user1", Asset: "BTC", Kind: models.EntryEscrowRefund,
			AvailableDelta: trade.CryptoAmount, LockedDelta: trade.CryptoAmount.Neg(), Reference: trade.Id,
		}},
		OfferRestore: trade.CryptoAmount,
	}
	if err := service.TransitionTrade(ctx, transition); err != nil {
		t.Fatalf("TransitionTrade failed: %v", err)
	}

	if err := service.TransitionTrade(ctx, transition); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict on replay, got %v", err)
	}

	o, _ := service.GetOffer(ctx, offer.Id)
	if !o.AvailableAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected offer availability restored to 0.5, got %s", o.AvailableAmount)
	}
	balance, _ := service.GetBalance(ctx, "user1", "BTC")
	if !balance.Available.Equal(decimal.NewFromInt(1)) || !balance.Locked.IsZero() {
		t.Errorf("Unexpected seller balance: available=%s locked=%s", balance.Available, balance.Locked)
	}
}

func TestListExpiredTrades(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.5")
	trade := openTestTrade(t, service, offer, "0.002")

	expired, err := service.ListExpiredTrades(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListExpiredTrades failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected no expired trades yet, got %d", len(expired))
	}

	expired, err = service.ListExpiredTrades(ctx, trade.ExpiresAt, 10)
	if err != nil {
		t.Fatalf("ListExpiredTrades failed: %v", err)
	}
	if len(expired) != 1 || expired[0].Id != trade.Id {
		t.Errorf("Expected trade %s to be expired, got %+v", trade.Id, expired)
	}
}

func TestMessagesOrdering(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.5")
	trade := openTestTrade(t, service, offer, "0.002")

	base := time.Now()
	bodies := []string{"hello", "paid via bank", "checking"}
	for i := len(bodies) - 1; i >= 0; i-- {
		m := &models.Message{
			TradeId:   trade.Id,
			SenderId:  "user2",
			Body:      bodies[i],
			CreatedAt: base.Add(time.Duration(i) * time.Nanosecond),
		}
		if err := service.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	messages, err := service.ListMessages(ctx, trade.Id)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != len(bodies) {
		t.Fatalf("Expected %d messages, got %d", len(bodies), len(messages))
	}
	for i, m := range messages {
		if m.Body != bodies[i] {
			t.Errorf("Message %d: expected %q, got %q", i, bodies[i], m.Body)
		}
	}
}

func TestTransitionTrade_FailedChangeRollsBack(t *testing.T) {
	service, cleanup := setupBalanceTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.ApplyBalanceChange(ctx, credit("user1", "BTC", "1", "seed")); err != nil {
		t.Fatalf("Failed to fund seller: %v", err)
	}
	offer := createTestOffer(t, service, "0.5")
	trade := openTestTrade(t, service, offer, "0.002")
	sellerBefore, _ := service.GetBalance(ctx, "user1", "BTC")

	// The buyer credit applies first; the seller debit exceeds what is locked.
	trade.Status = models.TradeCompleted
	err := service.TransitionTrade(ctx, store.TradeTransition{
		Trade:           trade,
		ExpectedVersion: 1,
		FromStatus:      models.TradePending,
		Changes: []store.BalanceChange{
			{UserId: "user2", Asset: "BTC", Kind: models.EntryEscrowTransferIn,
				AvailableDelta: trade.CryptoAmount, Reference: trade.Id},
			{UserId: "user1", Asset: "BTC", Kind: models.EntryEscrowRelease,
				LockedDelta: decimal.NewFromInt(-1), Reference: trade.Id},
		},
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	got, _ := service.GetTrade(ctx, trade.Id)
	if got.Status != models.TradePending || got.Version != 1 || got.CompletedAt != nil {
		t.Errorf("Expected untouched pending v1 trade, got %s v%d", got.Status, got.Version)
	}

	buyer, _ := service.GetBalance(ctx, "user2", "BTC")
	if !buyer.Available.IsZero() || !buyer.Locked.IsZero() {
		t.Errorf("Buyer credit leaked: available=%s locked=%s", buyer.Available, buyer.Locked)
	}
	history, err := service.GetLedgerHistory(ctx, "user2", "BTC", 10, 0)
	if err != nil {
		t.Fatalf("GetLedgerHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no buyer entries, got %d", len(history))
	}

	sellerAfter, _ := service.GetBalance(ctx, "user1", "BTC")
	if !sellerAfter.Available.Equal(sellerBefore.Available) || !sellerAfter.Locked.Equal(sellerBefore.Locked) ||
		sellerAfter.Version != sellerBefore.Version {
		t.Errorf("Seller balance changed: before=%+v after=%+v", sellerBefore, sellerAfter)
	}
}
