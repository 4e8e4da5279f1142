package withdrawal

import (
	"context"
	"testing"
	"time"

	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = models.Actor{UserId: "admin1", Role: models.RoleAdmin}

func setupWithdrawalTest(t *testing.T, funds string) (*Service, *database.Service) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.ApplyBalanceChange(ctx, store.BalanceChange{
		UserId: "user1", Asset: "USD", Kind: models.EntryAdjustment,
		AvailableDelta: decimal.RequireFromString(funds), Reference: "seed",
	})
	require.NoError(t, err)
	require.NoError(t, db.UpsertWithdrawalFee(ctx, models.WithdrawalFee{
		Asset: "USD", Flat: decimal.Zero, Percent: decimal.Zero,
	}))
	require.NoError(t, db.UpsertCryptocurrency(ctx, models.Cryptocurrency{
		Symbol: "BTC", Name: "Bitcoin", Network: "bitcoin", RequiredConfirmations: 2, Active: true,
	}))

	return NewService(db), db
}

func request500(t *testing.T, svc *Service) *models.Withdrawal {
	t.Helper()
	w, err := svc.Request(context.Background(), Request{
		UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(500),
		DestinationType: models.DestinationMethod, Destination: "bank:DE89370400440532013000",
	})
	require.NoError(t, err)
	return w
}

func assertBuckets(t *testing.T, db *database.Service, available, locked int64) {
	t.Helper()
	b, err := db.GetBalance(context.Background(), "user1", "USD")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(available)), "available=%s", b.Available)
	assert.True(t, b.Locked.Equal(decimal.NewFromInt(locked)), "locked=%s", b.Locked)
}

func TestRequest_LocksGross(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "500")
	w := request500(t, svc)

	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.True(t, w.Fee.IsZero())
	assert.True(t, w.NetAmount.Equal(decimal.NewFromInt(500)))
	assertBuckets(t, db, 0, 500)
}

func TestRequest_Insufficient(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "499.99")

	_, err := svc.Request(context.Background(), Request{
		UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(500), Destination: "0xabc",
	})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	b, _ := db.GetBalance(context.Background(), "user1", "USD")
	assert.True(t, b.Locked.IsZero())
	pending, err := svc.ListPending(context.Background(), admin, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequest_Fee(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "1000")
	ctx := context.Background()
	require.NoError(t, db.UpsertWithdrawalFee(ctx, models.WithdrawalFee{
		Asset: "USD", Flat: decimal.NewFromInt(1), Percent: decimal.RequireFromString("0.5"),
	}))

	w, err := svc.Request(ctx, Request{UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(200), Destination: "0xabc"})
	require.NoError(t, err)
	assert.True(t, w.Fee.Equal(decimal.NewFromInt(2)), "fee=%s", w.Fee)
	assert.True(t, w.NetAmount.Equal(decimal.NewFromInt(198)))

	_, err = svc.Request(ctx, Request{UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(1), Destination: "0xabc"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRequest_Validation(t *testing.T) {
	svc, _ := setupWithdrawalTest(t, "100")
	ctx := context.Background()

	_, err := svc.Request(ctx, Request{UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.Request(ctx, Request{UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(-1), Destination: "x"})
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.Request(ctx, Request{UserId: "user1", Asset: "USD", Amount: decimal.NewFromInt(1), Destination: "x", DestinationType: "carrier-pigeon"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRequest_Asset(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "100")
	ctx := context.Background()
	_, err := db.ApplyBalanceChange(ctx, store.BalanceChange{
		UserId: "user1", Asset: "BTC", Kind: models.EntryAdjustment,
		AvailableDelta: decimal.NewFromInt(1), Reference: "seed-btc",
	})
	require.NoError(t, err)

	w, err := svc.Request(ctx, Request{UserId: "user1", Asset: " btc ", Amount: decimal.RequireFromString("0.4"), Destination: "bc1qdest"})
	require.NoError(t, err)
	assert.Equal(t, "BTC", w.Asset)
	b, err := db.GetBalance(ctx, "user1", "BTC")
	require.NoError(t, err)
	assert.True(t, b.Locked.Equal(decimal.RequireFromString("0.4")), "locked=%s", b.Locked)

	_, err = svc.Request(ctx, Request{UserId: "user1", Asset: "DOGE", Amount: decimal.NewFromInt(1), Destination: "x"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCancel_FullRefund(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "500")
	w := request500(t, svc)

	got, err := svc.Cancel(context.Background(), admin, w.Id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCancelled, got.Status)
	assertBuckets(t, db, 500, 0)
	require.NoError(t, db.ReconcileBalance(context.Background(), "user1", "USD"))
}

func TestProcess_DebitsLocked(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "500")
	w := request500(t, svc)

	got, err := svc.Process(context.Background(), admin, w.Id, "0xfeed", 0)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, got.Status)
	assert.Equal(t, "0xfeed", got.TxHash)
	assert.NotNil(t, got.ProcessedAt)
	assertBuckets(t, db, 0, 0)

	entries, err := db.GetLedgerHistory(context.Background(), "user1", "USD", 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryWithdrawalDebit, entries[0].EntryType)
	assert.True(t, entries[0].LockedDelta.Equal(decimal.NewFromInt(-500)))
}

func TestFinalized_IsNotActionable(t *testing.T) {
	svc, db := setupWithdrawalTest(t, "500")
	ctx := context.Background()
	w := request500(t, svc)

	_, err := svc.Process(ctx, admin, w.Id, "", 0)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, admin, w.Id, 0)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = svc.Process(ctx, admin, w.Id, "", 0)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assertBuckets(t, db, 0, 0)
}

func TestTransition_Guards(t *testing.T) {
	svc, _ := setupWithdrawalTest(t, "500")
	ctx := context.Background()
	w := request500(t, svc)

	_, err := svc.Cancel(ctx, models.Actor{UserId: "user1"}, w.Id, 0)
	assert.ErrorIs(t, err, store.ErrUnauthorized)

	_, err = svc.Cancel(ctx, admin, w.Id, w.Version+1)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.Cancel(ctx, admin, "missing", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
