package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow-engine-go/internal/auth"
	"escrow-engine-go/internal/chat"
	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/escrow"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"
	"escrow-engine-go/internal/withdrawal"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var adminActor = models.Actor{UserId: "admin1", Role: models.RoleAdmin}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type apiTest struct {
	t      *testing.T
	server *Server
	router http.Handler
	tokens map[string]string
}

func setupAPITest(t *testing.T) *apiTest {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	for _, id := range []string{"seller", "buyer", "admin1"} {
		_, err := db.CreateUser(ctx, id, id+" name", id+"@example.com")
		require.NoError(t, err)
	}
	require.NoError(t, db.UpsertCryptocurrency(ctx, models.Cryptocurrency{
		Symbol: "BTC", Name: "Bitcoin", Network: "bitcoin", RequiredConfirmations: 2, Active: true,
	}))
	require.NoError(t, db.UpsertPaymentMethod(ctx, models.PaymentMethod{
		Id: "btc-main", Symbol: "BTC", Network: "bitcoin", WalletAddress: "bc1qexample",
		MinAmount: decimal.RequireFromString("0.001"), MaxAmount: decimal.NewFromInt(10), Active: true,
	}))

	engineCfg := models.EngineConfig{
		TradeExpiryWindow: 30 * time.Minute,
		MismatchTolerance: decimal.RequireFromString("0.001"),
		CryptoDecimals:    8,
	}
	authn, err := auth.New("test-secret")
	require.NoError(t, err)

	hub := chat.NewHub()
	server := NewServer(Backends{
		Ledger:      NewLedgerService(db),
		Deposits:    deposit.NewService(db, engineCfg),
		Withdrawals: withdrawal.NewService(db),
		Escrow:      escrow.NewService(db, engineCfg, hub),
		Chat:        chat.NewService(db, hub),
		Hub:         hub,
		Auth:        authn,
	}, models.ChatConfig{PollInterval: 15 * time.Second, SendBuffer: 16})

	tokens := map[string]string{}
	for _, u := range []struct{ id, role string }{{"seller", ""}, {"buyer", ""}, {"admin1", models.RoleAdmin}} {
		tok, err := authn.Sign(u.id, u.role, time.Hour)
		require.NoError(t, err)
		tokens[u.id] = tok
	}

	return &apiTest{t: t, server: server, router: server.Router(), tokens: tokens}
}

func (a *apiTest) send(req *http.Request, user string) (int, envelope) {
	a.t.Helper()
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (a *apiTest) do(method, path, user string, body interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	return a.send(httptest.NewRequest(method, path, &buf), user)
}

func (a *apiTest) fund(user, amount string) {
	a.t.Helper()
	_, err := a.server.Ledger.AdminAdjust(context.Background(), adminActor, user, "BTC",
		decimal.RequireFromString(amount), "seed-"+user)
	require.NoError(a.t, err)
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.True(t, env.Success, "request failed: %s", env.Message)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestRouter_Authentication(t *testing.T) {
	a := setupAPITest(t)

	code, env := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = a.do(http.MethodGet, "/balances", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	code, _ = a.do(http.MethodGet, "/balances", "buyer", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = a.do(http.MethodGet, "/admin/withdrawals/pending", "buyer", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "admin role required", env.Message)

	code, _ = a.do(http.MethodGet, "/admin/withdrawals/pending", "admin1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", store.ErrValidation), http.StatusBadRequest},
		{store.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{store.ErrMethodInactive, http.StatusUnprocessableEntity},
		{store.ErrInvalidState, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrConcurrentModification, http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrUnauthorized, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func depositForm(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("proof_file", "receipt.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/deposits", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDeposits_SubmitAdvanceCredit(t *testing.T) {
	a := setupAPITest(t)

	code, env := a.send(depositForm(t, map[string]string{
		"crypto_payment_method_id": "btc-main",
		"amount":                   "0.05",
		"proof_type":               "hash",
		"proof_of_payment":         "0xabc",
	}, nil), "buyer")
	require.Equal(t, http.StatusCreated, code, env.Message)
	var d models.Deposit
	decode(t, env, &d)
	assert.Equal(t, models.DepositPending, d.Status)
	assert.Equal(t, "buyer", d.UserId)

	code, _ = a.do(http.MethodPost, "/admin/deposits/"+d.Id+"/advance", "buyer", map[string]int{"confirmations": 2})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(http.MethodPost, "/admin/deposits/"+d.Id+"/advance", "admin1", map[string]interface{}{
		"confirmations":   2,
		"received_amount": "0.05",
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	decode(t, env, &d)
	assert.Equal(t, models.DepositConfirmed, d.Status)

	code, env = a.do(http.MethodGet, "/balances", "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	var balances []models.AccountBalance
	decode(t, env, &balances)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Available.Equal(decimal.RequireFromString("0.05")))

	// someone else's deposit is hidden
	code, _ = a.do(http.MethodGet, "/deposits/"+d.Id, "seller", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestDeposits_ImageProofAndValidation(t *testing.T) {
	a := setupAPITest(t)

	code, env := a.send(depositForm(t, map[string]string{
		"crypto_payment_method_id": "btc-main",
		"amount":                   "0.01",
		"proof_type":               "image",
	}, []byte("png bytes")), "buyer")
	require.Equal(t, http.StatusCreated, code, env.Message)
	var d models.Deposit
	decode(t, env, &d)
	assert.True(t, strings.HasPrefix(d.ProofImage, "receipt.png:"))

	code, _ = a.send(depositForm(t, map[string]string{
		"crypto_payment_method_id": "btc-main",
		"amount":                   "50",
		"proof_type":               "hash",
		"proof_of_payment":         "0xdef",
	}, nil), "buyer")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.send(depositForm(t, map[string]string{
		"crypto_payment_method_id": "btc-main",
		"amount":                   "abc",
	}, nil), "buyer")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWithdrawals_RequestAndCancel(t *testing.T) {
	a := setupAPITest(t)
	a.fund("buyer", "1")

	code, env := a.do(http.MethodPost, "/withdrawals", "buyer", map[string]string{
		"asset": "BTC", "amount": "2", "destination": "bc1qdest",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code, env.Message)

	code, env = a.do(http.MethodPost, "/withdrawals", "buyer", map[string]string{
		"asset": "XMR", "amount": "0.4", "destination": "bc1qdest",
	})
	assert.Equal(t, http.StatusBadRequest, code, env.Message)

	code, env = a.do(http.MethodPost, "/withdrawals", "buyer", map[string]string{
		"asset": "btc", "amount": "0.4", "destination": "bc1qdest",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var w models.Withdrawal
	decode(t, env, &w)
	assert.Equal(t, "BTC", w.Asset)

	code, env = a.do(http.MethodPost, "/admin/withdrawals/"+w.Id+"/cancel", "admin1", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	decode(t, env, &w)
	assert.Equal(t, models.WithdrawalCancelled, w.Status)

	code, _ = a.do(http.MethodPost, "/admin/withdrawals/"+w.Id+"/process", "admin1", map[string]string{"tx_hash": "0x1"})
	assert.Equal(t, http.StatusConflict, code)
}

func openTrade(t *testing.T, a *apiTest) models.TradeCreated {
	t.Helper()
	a.fund("seller", "1")

	code, env := a.do(http.MethodPost, "/p2p/offers", "seller", map[string]interface{}{
		"side": "sell", "coin": "BTC", "price": "50000", "available_amount": "0.5",
		"min_amount": "10", "max_amount": "5000", "payment_methods": []string{"Bank Transfer"},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var offer models.Offer
	decode(t, env, &offer)
	require.Equal(t, models.OfferSell, offer.Side)

	code, env = a.do(http.MethodPost, "/p2p/offers/"+offer.Id+"/trade", "buyer", map[string]string{"amount_usd": "100"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var created models.TradeCreated
	decode(t, env, &created)
	require.NotEmpty(t, created.TradeId)
	return created
}

func TestTrades_HappyPath(t *testing.T) {
	a := setupAPITest(t)
	created := openTrade(t, a)
	base := "/p2p/trades/" + created.TradeId

	code, env := a.do(http.MethodPost, base+"/messages", "buyer", map[string]string{"message": "paying now"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, _ = a.do(http.MethodPost, base+"/release", "seller", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.do(http.MethodPost, base+"/pay", "seller", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(http.MethodPost, base+"/pay", "buyer", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(http.MethodPost, base+"/release", "seller", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var trade models.Trade
	decode(t, env, &trade)
	assert.Equal(t, models.TradeCompleted, trade.Status)

	code, env = a.do(http.MethodGet, base, "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	var detail models.TradeDetail
	decode(t, env, &detail)
	assert.Equal(t, models.TradeCompleted, detail.Trade.Status)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "paying now", detail.Messages[0].Body)

	code, env = a.do(http.MethodGet, "/balances", "buyer", nil)
	require.Equal(t, http.StatusOK, code)
	var balances []models.AccountBalance
	decode(t, env, &balances)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Available.Equal(decimal.RequireFromString("0.002")))
}

func TestTrades_StaleVersionAndResolve(t *testing.T) {
	a := setupAPITest(t)
	created := openTrade(t, a)
	base := "/p2p/trades/" + created.TradeId

	code, _ := a.do(http.MethodPost, base+"/pay", "buyer", map[string]int64{"version": created.Trade.Version + 5})
	assert.Equal(t, http.StatusConflict, code)

	code, env := a.do(http.MethodPost, base+"/dispute", "seller", map[string]string{"reason": "no payment"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(http.MethodPost, "/admin/p2p/trades/"+created.TradeId+"/resolve", "admin1", map[string]string{"outcome": "refund"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var trade models.Trade
	decode(t, env, &trade)
	assert.Equal(t, models.TradeRefunded, trade.Status)

	code, _ = a.do(http.MethodGet, base, "admin1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTradeChannel_PushMatchesREST(t *testing.T) {
	a := setupAPITest(t)
	created := openTrade(t, a)

	srv := httptest.NewServer(a.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/p2p/trades/" + created.TradeId

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+a.tokens["admin1"]+"x", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+a.tokens["seller"], nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() models.ChannelEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev models.ChannelEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	here := read()
	assert.Equal(t, models.EventHere, here.Event)
	assert.Equal(t, chat.ChannelName(created.TradeId), here.Channel)
	assert.Equal(t, []string{"seller"}, here.Members)

	var sent []string
	for _, body := range []string{"first", "second", "third"} {
		code, env := a.do(http.MethodPost, "/p2p/trades/"+created.TradeId+"/messages", "buyer", map[string]string{"message": body})
		require.Equal(t, http.StatusCreated, code, env.Message)
		var m models.Message
		decode(t, env, &m)
		sent = append(sent, m.Id)
	}

	var pushed []string
	for len(pushed) < len(sent) {
		ev := read()
		if ev.Event == models.EventMessage {
			pushed = append(pushed, ev.Message.Id)
		}
	}
	assert.Equal(t, sent, pushed)

	code, env := a.do(http.MethodGet, "/p2p/trades/"+created.TradeId, "seller", nil)
	require.Equal(t, http.StatusOK, code)
	var detail models.TradeDetail
	decode(t, env, &detail)
	var polled []string
	for _, m := range detail.Messages {
		polled = append(polled, m.Id)
	}
	assert.Equal(t, pushed, polled)
}

func TestTradeChannel_OutsiderRefused(t *testing.T) {
	a := setupAPITest(t)
	created := openTrade(t, a)

	authn, err := auth.New("test-secret")
	require.NoError(t, err)
	tok, err := authn.Sign("stranger", "", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(a.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/p2p/trades/" + created.TradeId + "?token=" + tok
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLedgerService_AdminAdjust(t *testing.T) {
	a := setupAPITest(t)
	ctx := context.Background()
	ledger := a.server.Ledger

	_, err := ledger.AdminAdjust(ctx, models.Actor{UserId: "buyer"}, "buyer", "BTC", decimal.NewFromInt(1), "r1")
	assert.ErrorIs(t, err, store.ErrUnauthorized)

	b, err := ledger.AdminAdjust(ctx, adminActor, "buyer", "btc", decimal.NewFromInt(1), "r1")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1)))

	b, err = ledger.AdminAdjust(ctx, adminActor, "buyer", "BTC", decimal.NewFromInt(1), "r1")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(1)), "replayed reference must not credit twice")

	_, err = ledger.AdminAdjust(ctx, adminActor, "buyer", "BTC", decimal.NewFromInt(-5), "r2")
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	require.NoError(t, ledger.Reconcile(ctx, "buyer"))

	history, err := ledger.GetLedgerHistory(ctx, "buyer", "BTC", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
