package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/notify"
)

func TestSubscriptionFilter(t *testing.T) {
	c := &client{subs: map[string]bool{"*": true}}
	assert.True(t, c.isSubscribed("stop_loss"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Events: []string{"*"}})
	c.handleSubscription(subscribeMsg{Action: "subscribe", Events: []string{" take_profit "}})
	assert.False(t, c.isSubscribed("stop_loss"))
	assert.True(t, c.isSubscribed("take_profit"))
}

func TestBroadcastSkipsUnsubscribedClients(t *testing.T) {
	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	all := &client{hub: h, send: make(chan []byte, 4), subs: map[string]bool{"*": true}}
	tp := &client{hub: h, send: make(chan []byte, 4), subs: map[string]bool{"take_profit": true}}
	h.register <- all
	h.register <- tp

	require.NoError(t, h.Send(ctx, notify.Message{Kind: domain.EventStopLoss, Fields: domain.Fields{"error": assert.AnError}}))
	require.NoError(t, h.Send(ctx, notify.Message{Kind: domain.EventTakeProfit}))

	for _, want := range []string{"stop_loss", "take_profit"} {
		select {
		case msg := <-all.send:
			assert.Contains(t, string(msg), `"type":"`+want+`"`)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s frame", want)
		}
	}
	select {
	case msg := <-tp.send:
		assert.Contains(t, string(msg), `"type":"take_profit"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no take_profit frame")
	}
	assert.Empty(t, tp.send)

	cancel()
	<-done
	_, open := <-all.send
	assert.False(t, open, "clients are closed when the hub stops")
	assert.NoError(t, h.Send(context.Background(), notify.Message{Kind: domain.EventHalted}))
}
