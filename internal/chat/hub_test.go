package chat

import (
	"testing"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, c *Client) models.ChannelEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "client channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.ChannelEvent{}
}

func TestHub_Presence(t *testing.T) {
	hub := NewHub()
	buyer := NewClient(nil, "t1", "buyer", 8)
	seller := NewClient(nil, "t1", "seller", 8)

	hub.Join(buyer)
	here := next(t, buyer)
	assert.Equal(t, models.EventHere, here.Event)
	assert.Equal(t, "p2p.trade.t1", here.Channel)
	assert.Equal(t, []string{"buyer"}, here.Members)

	hub.Join(seller)
	assert.Equal(t, []string{"buyer", "seller"}, next(t, seller).Members)
	joining := next(t, buyer)
	assert.Equal(t, models.EventJoining, joining.Event)
	assert.Equal(t, "seller", joining.Member)

	hub.Leave(seller)
	leaving := next(t, buyer)
	assert.Equal(t, models.EventLeaving, leaving.Event)
	assert.Equal(t, "seller", leaving.Member)
	assert.Equal(t, []string{"buyer"}, hub.Members("t1"))

	// leaving twice is harmless
	hub.Leave(seller)
	hub.Leave(buyer)
	assert.Empty(t, hub.Members("t1"))
}

func TestHub_PublishIsScopedAndOrdered(t *testing.T) {
	hub := NewHub()
	member := NewClient(nil, "t1", "buyer", 16)
	outsider := NewClient(nil, "t2", "someone", 16)
	hub.Join(member)
	hub.Join(outsider)
	next(t, member)
	next(t, outsider)

	for _, id := range []string{"m1", "m2", "m3"} {
		hub.PublishMessage(models.Message{Id: id, TradeId: "t1"})
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		ev := next(t, member)
		assert.Equal(t, models.EventMessage, ev.Event)
		assert.Equal(t, id, ev.Message.Id)
	}
	select {
	case ev := <-outsider.Events():
		t.Fatalf("outsider received %+v", ev)
	default:
	}
}

func TestHub_SlowMemberIsDisconnected(t *testing.T) {
	hub := NewHub()
	slow := NewClient(nil, "t1", "buyer", 1)
	hub.Join(slow) // fills the buffer with here

	hub.PublishMessage(models.Message{Id: "m1", TradeId: "t1"})

	assert.Empty(t, hub.Members("t1"))
	<-slow.Events()
	_, ok := <-slow.Events()
	assert.False(t, ok)
}

func TestHub_TradeUpdated(t *testing.T) {
	hub := NewHub()
	c := NewClient(nil, "t1", "buyer", 4)
	hub.Join(c)
	next(t, c)

	hub.TradeUpdated(&models.Trade{Id: "t1", Status: models.TradePaid})
	ev := next(t, c)
	assert.Equal(t, models.EventStatus, ev.Event)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, models.TradePaid, ev.Trade.Status)
}
