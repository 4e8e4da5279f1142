package chat

import (
	"sort"
	"sync"

	"escrow-engine-go/internal/metrics"
	"escrow-engine-go/internal/models"

	"go.uber.org/zap"
)

const channelPrefix = "p2p.trade."

// ChannelName is the real-time channel a trade's events are published on.
func ChannelName(tradeId string) string {
	return channelPrefix + tradeId
}

// Hub fans trade channel events out to connected members. Events for one
// channel are enqueued under the hub lock, so every member sees them in
// publish order. A member whose buffer is full is disconnected rather than
// skipped; it recovers the gap through the REST trade detail.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
	}
}

// Join subscribes c to its trade channel. c receives the current member
// list as a here event; everyone else receives joining.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := ChannelName(c.tradeId)
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	members[c] = struct{}{}
	metrics.Engine.ChatMembers.Inc()

	h.deliver(c, models.ChannelEvent{
		Channel: channel,
		Event:   models.EventHere,
		Members: memberIds(members),
	})
	for other := range members {
		if other != c {
			h.deliver(other, models.ChannelEvent{Channel: channel, Event: models.EventJoining, Member: c.userId})
		}
	}

	zap.L().Debug("Channel member joined",
		zap.String("channel", channel),
		zap.String("user_id", c.userId),
		zap.Int("members", len(members)))
}

// Leave unsubscribes c and tells the remaining members. It is safe to call
// more than once.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

// Publish delivers ev to every member of the trade's channel.
func (h *Hub) Publish(tradeId string, ev models.ChannelEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev.Channel = ChannelName(tradeId)
	for c := range h.channels[ev.Channel] {
		h.deliver(c, ev)
	}
}

// PublishMessage pushes a persisted chat message.
func (h *Hub) PublishMessage(m models.Message) {
	h.Publish(m.TradeId, models.ChannelEvent{Event: models.EventMessage, Message: &m})
}

// TradeUpdated pushes a trade status change.
func (h *Hub) TradeUpdated(t *models.Trade) {
	snapshot := *t
	h.Publish(t.Id, models.ChannelEvent{Event: models.EventStatus, Trade: &snapshot})
}

// Members returns the distinct user ids connected to a trade's channel.
func (h *Hub) Members(tradeId string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return memberIds(h.channels[ChannelName(tradeId)])
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *Client, ev models.ChannelEvent) {
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		zap.L().Warn("Channel member too slow, disconnecting",
			zap.String("channel", ev.Channel),
			zap.String("user_id", c.userId))
		h.remove(c)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) {
	channel := ChannelName(c.tradeId)
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	c.closed = true
	close(c.send)
	metrics.Engine.ChatMembers.Dec()

	if len(members) == 0 {
		delete(h.channels, channel)
		return
	}
	for other := range members {
		h.deliver(other, models.ChannelEvent{Channel: channel, Event: models.EventLeaving, Member: c.userId})
	}
}

func memberIds(members map[*Client]struct{}) []string {
	seen := make(map[string]bool, len(members))
	ids := make([]string, 0, len(members))
	for c := range members {
		if !seen[c.userId] {
			seen[c.userId] = true
			ids = append(ids, c.userId)
		}
	}
	sort.Strings(ids)
	return ids
}
