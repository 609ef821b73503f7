package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// StreamClient reads the per-symbol ticker stream. It does not reconnect on
// its own: a dropped connection is returned to the caller, which owns the
// retry policy.
type StreamClient struct {
	wsURL  string
	dialer websocket.Dialer
}

// NewStreamClient creates a stream client for the given websocket root,
// e.g. "wss://stream.binance.com:9443".
func NewStreamClient(wsURL string) *StreamClient {
	return &StreamClient{
		wsURL: strings.TrimRight(wsURL, "/"),
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Stream connects to <symbol>@ticker and calls onTick for every message until
// ctx is done or the connection fails. It returns nil only when ctx ended the
// stream.
func (s *StreamClient) Stream(ctx context.Context, symbol string, onTick domain.TickHandler) error {
	endpoint := fmt.Sprintf("%s/ws/%s@ticker", s.wsURL, strings.ToLower(symbol))

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("binance/ws: connect %s: %w", symbol, errors.Join(domain.ErrStreamClosed, err))
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, conn, done)
	}()
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("binance/ws: read %s: %w", symbol, errors.Join(domain.ErrStreamClosed, err))
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev TickerEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		tick := ev.ToDomain()
		if tick.Price <= 0 {
			continue
		}
		if tick.Symbol == "" {
			tick.Symbol = symbol
		}
		onTick(tick)
	}
}

// pingLoop keeps the connection alive and closes it when ctx is done so the
// blocked read in Stream returns.
func (s *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
