package api

import (
	"net/http"

	"escrow-engine-go/internal/chat"

	"go.uber.org/zap"
)

// handleTradeChannel upgrades a party (or admin) to the trade's real-time
// channel. Authorization happens before the upgrade so refusals are plain HTTP.
func (s *Server) handleTradeChannel(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	tradeId := pathId(r)
	if _, err := s.Chat.Authorize(r.Context(), actor, tradeId); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("Websocket upgrade failed", zap.String("trade_id", tradeId), zap.Error(err))
		return
	}

	zap.L().Debug("Trade channel joined",
		zap.String("channel", chat.ChannelName(tradeId)),
		zap.String("user_id", actor.UserId))

	go chat.NewClient(conn, tradeId, actor.UserId, s.chatCfg.SendBuffer).Serve(s.Hub)
}
