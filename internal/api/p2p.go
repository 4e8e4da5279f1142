package api

import (
	"net/http"

	"escrow-engine-go/internal/escrow"
	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
)

type offerBody struct {
	Side            models.OfferSide `json:"side"`
	Coin            string           `json:"coin"`
	Price           decimal.Decimal  `json:"price"`
	AvailableAmount decimal.Decimal  `json:"available_amount"`
	MinAmount       decimal.Decimal  `json:"min_amount"`
	MaxAmount       decimal.Decimal  `json:"max_amount"`
	PaymentMethods  []string         `json:"payment_methods"`
	Terms           string           `json:"terms"`
}

type activeBody struct {
	Active bool `json:"active"`
}

type tradeBody struct {
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	OfferVersion int64           `json:"offer_version"`
}

type messageBody struct {
	Message string `json:"message"`
}

type disputeBody struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version"`
}

type resolveBody struct {
	Outcome escrow.ResolveOutcome `json:"outcome"`
	Version int64                 `json:"version"`
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offers, err := s.Escrow.ListOffers(r.Context(), q.Get("coin"), q.Get("search"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	writeData(w, http.StatusOK, offers)
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var body offerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.Escrow.CreateOffer(r.Context(), actorFrom(r), escrow.OfferRequest(body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, o)
}

func (s *Server) handleSetOfferActive(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.Escrow.SetOfferActive(r.Context(), actorFrom(r), pathId(r), body.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var body tradeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Escrow.CreateTrade(r.Context(), actorFrom(r), pathId(r), body.AmountUSD, body.OfferVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, models.TradeCreated{TradeId: t.Id, Trade: t})
}

// handleTradeDetail is the polling reconciliation source for the trade channel.
func (s *Server) handleTradeDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Escrow.GetTradeDetail(r.Context(), actorFrom(r), pathId(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Poll-Interval", s.chatCfg.PollInterval.String())
	writeData(w, http.StatusOK, detail)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.Chat.SendMessage(r.Context(), actorFrom(r), pathId(r), body.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, m)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var body versionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Escrow.MarkPaid(r.Context(), actorFrom(r), pathId(r), body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var body versionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Escrow.Release(r.Context(), actorFrom(r), pathId(r), body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var body disputeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Escrow.Dispute(r.Context(), actorFrom(r), pathId(r), body.Reason, body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Escrow.ResolveDispute(r.Context(), actorFrom(r), pathId(r), body.Outcome, body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}
