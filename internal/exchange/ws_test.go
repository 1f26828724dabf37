package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quantbot-go/internal/signal"
)

func TestStreamTickersEmitsTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan wsRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"101.5","bidPx":"101","askPx":"102","ts":"1709294400000"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := New(Config{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticks := make(chan signal.Tick, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.StreamTickers(ctx, []string{"BTC-USDT"}, func(tk signal.Tick) error {
			ticks <- tk
			return nil
		})
	}()

	select {
	case req := <-subscribed:
		require.Equal(t, "subscribe", req.Op)
		require.Equal(t, []wsArg{{Channel: "tickers", InstID: "BTC-USDT"}}, req.Args)
	case <-ctx.Done():
		t.Fatal("no subscription received")
	}

	select {
	case tk := <-ticks:
		require.Equal(t, "BTC-USDT", tk.InstrumentID)
		require.Equal(t, 101.5, tk.Last)
		require.Equal(t, 101.5, tk.Mid())
	case <-ctx.Done():
		t.Fatal("timed out waiting for tick")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestStreamTickersStopsWhenEmitFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req wsRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers"},"data":[{"instId":"ETH-USDT","last":"2000","ts":"1"}]}`))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	full := errors.New("queue closed")
	client := New(Config{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	err := client.StreamTickers(context.Background(), []string{"ETH-USDT"}, func(signal.Tick) error { return full })
	require.ErrorIs(t, err, full)
}

func TestStreamTickersRequiresInstruments(t *testing.T) {
	client := New(Config{}, zerolog.Nop())
	require.Error(t, client.StreamTickers(context.Background(), nil, func(signal.Tick) error { return nil }))
}
