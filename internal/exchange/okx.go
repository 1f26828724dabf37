// Package exchange implements the OKX v5 REST and WebSocket connectors.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"quantbot-go/internal/execution"
)

const (
	defaultBaseURL = "https://www.okx.com"
	defaultWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
	timestampFmt   = "2006-01-02T15:04:05.000Z"
)

// Config carries endpoint and credential settings for the OKX client.
type Config struct {
	BaseURL    string
	WSURL      string
	APIKey     string
	APISecret  string
	Passphrase string
	// Simulated routes requests to the OKX demo-trading environment.
	Simulated bool
	// RequestsPerSecond caps REST calls; zero uses 10/s.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client talks to the OKX v5 API. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	ctVals map[string]float64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock overrides the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInstruments seeds swap contract values from configured reference data.
// Swaps without one are looked up on first use.
func WithInstruments(reg execution.Instruments) Option {
	return func(c *Client) {
		for id, inst := range reg {
			if inst.Kind == execution.KindSwap && inst.CtVal > 0 {
				c.ctVals[id] = inst.CtVal
			}
		}
	}
}

// New builds a client, filling unset endpoints with production defaults.
func New(cfg Config, log zerolog.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		log:     log,
		now:     time.Now,
		ctVals:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success OKX response.
type APIError struct {
	HTTPStatus int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx: http %d code %s: %s", e.HTTPStatus, e.Code, e.Msg)
}

// transientCodes are OKX error codes worth retrying: service unavailable,
// endpoint timeout, rate limited, system busy.
var transientCodes = map[string]bool{
	"50001": true,
	"50004": true,
	"50011": true,
	"50013": true,
}

func (e *APIError) transient() bool {
	return e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusTooManyRequests || transientCodes[e.Code]
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign computes the OK-ACCESS-SIGN header value.
func sign(secret, ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do performs one request and decodes the data array into out.
// Failures that are safe to retry are wrapped with execution.Transient.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, private bool, out any) error {
	op := strings.TrimPrefix(path, "/api/v5/")
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if private {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" || c.cfg.Passphrase == "" {
			return fmt.Errorf("%s: okx credentials required", op)
		}
		ts := c.now().UTC().Format(timestampFmt)
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", sign(c.cfg.APISecret, ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return execution.Transient(op, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return execution.Transient(op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		apiErr := &APIError{HTTPStatus: res.StatusCode, Code: "", Msg: truncate(string(raw), 200)}
		if apiErr.transient() {
			return execution.Transient(op, apiErr)
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if res.StatusCode != http.StatusOK || env.Code != "0" {
		apiErr := &APIError{HTTPStatus: res.StatusCode, Code: env.Code, Msg: env.Msg}
		// Batch-style endpoints report per-item failures inside data; the item code is the useful one.
		if code, detail := itemError(env.Data); code != "" {
			apiErr.Code = code
			apiErr.Msg = strings.TrimSpace(apiErr.Msg + " " + detail)
		}
		if apiErr.transient() {
			return execution.Transient(op, apiErr)
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

func itemError(data json.RawMessage) (string, string) {
	var items []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 || items[0].SCode == "" || items[0].SCode == "0" {
		return "", ""
	}
	return items[0].SCode, fmt.Sprintf("(sCode %s: %s)", items[0].SCode, items[0].SMsg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsAPIError reports whether err carries the given OKX error code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
