package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quantbot-go/internal/signal"
)

const (
	wsPingEvery   = 25 * time.Second
	wsReadTimeout = 35 * time.Second
	wsMaxBackoff  = 30 * time.Second
)

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsMessage struct {
	Event string       `json:"event"`
	Code  string       `json:"code"`
	Msg   string       `json:"msg"`
	Arg   wsArg        `json:"arg"`
	Data  []tickerData `json:"data"`
}

// StreamTickers subscribes to the public tickers channel for ids and calls emit for every
// update. Dropped connections are re-established with capped exponential backoff.
// It returns when ctx is done or emit fails.
func (c *Client) StreamTickers(ctx context.Context, ids []string, emit func(signal.Tick) error) error {
	if len(ids) == 0 {
		return fmt.Errorf("ticker stream requires at least one instrument")
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := c.consumeTickers(ctx, ids, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var stopped emitError
		if errors.As(err, &stopped) {
			return stopped.err
		}
		if connected {
			backoff = time.Second
		}
		c.log.Warn().Err(err).Dur("backoff", backoff).Msg("okx ticker stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(wsMaxBackoff), float64(backoff)*1.8))
	}
}

type emitError struct{ err error }

func (e emitError) Error() string { return e.err.Error() }

func (c *Client) consumeTickers(ctx context.Context, ids []string, emit func(signal.Tick) error) (bool, error) {
	header := http.Header{}
	if c.cfg.Simulated {
		header.Set("x-simulated-trading", "1")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	sub := wsRequest{Op: "subscribe"}
	for _, id := range ids {
		sub.Args = append(sub.Args, wsArg{Channel: "tickers", InstID: id})
	}
	if err := conn.WriteJSON(sub); err != nil {
		return true, err
	}
	c.log.Info().Strs("instruments", ids).Str("url", c.cfg.WSURL).Msg("connected okx ticker stream")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					c.log.Warn().Err(err).Msg("okx ping failed")
					return
				}
			case <-pingCtx.Done():
				// Unblocks ReadMessage when the caller cancels.
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if string(raw) == "pong" {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn().Err(err).Msg("failed to decode okx message")
			continue
		}
		switch msg.Event {
		case "subscribe":
			c.log.Debug().Str("channel", msg.Arg.Channel).Str("sym", msg.Arg.InstID).Msg("subscription confirmed")
			continue
		case "error":
			c.log.Warn().Str("code", msg.Code).Str("msg", msg.Msg).Msg("okx stream error event")
			continue
		}
		if msg.Arg.Channel != "tickers" {
			continue
		}
		for _, d := range msg.Data {
			tick, err := d.tick()
			if err != nil {
				c.log.Warn().Err(err).Str("sym", d.InstID).Msg("invalid okx ticker")
				continue
			}
			if err := emit(tick); err != nil {
				return true, emitError{err: err}
			}
		}
	}
}
