package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// CommandPath is the single endpoint the strip firmware accepts commands on.
const CommandPath = "/command"

// DefaultTimeout bounds a single request when no HTTP client is supplied.
const DefaultTimeout = 10 * time.Second

// RGBW is a wire-level color command. Channels are fractions in [0,1].
type RGBW struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	W float64 `json:"w"`
}

// LogValue implements slog.LogValuer.
func (c RGBW) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("r", c.R),
		slog.Float64("g", c.G),
		slog.Float64("b", c.B),
		slog.Float64("w", c.W),
	)
}

// Status is the snapshot reported by get_status.
type Status struct {
	Power bool    `json:"power"`
	R     float64 `json:"r"`
	G     float64 `json:"g"`
	B     float64 `json:"b"`
	W     float64 `json:"w"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client talks to one strip over its JSON command endpoint.
// It holds no state beyond the target address.
type Client struct {
	host    string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a client for the strip at host ("ip" or "ip:port").
func NewClient(host string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		host:    host,
		timeout: DefaultTimeout,
		logger:  logger.With("component", "device", "host", host),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		// Each command is a standalone request; the firmware closes the
		// connection after every response.
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		}
	}
	return c
}

// Host returns the configured device address.
func (c *Client) Host() string {
	return c.host
}

type command struct {
	Method string `json:"method"`
	Param  any    `json:"param,omitempty"`
}

type powerParam struct {
	Value bool `json:"value"`
}

type rgbwParam struct {
	RGBW
	Time int64 `json:"time"`
}

// Status sends get_status and decodes the reported power and color.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	body, err := c.do(ctx, command{Method: "get_status"})
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, c.fail("get_status", fmt.Errorf("decode status: %w", err))
	}
	return st, nil
}

// SetPower switches the strip on or off. The response body is ignored.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	_, err := c.do(ctx, command{Method: "set_power", Param: powerParam{Value: on}})
	return err
}

// SetRGBW sets the target color and fade duration. The response body is ignored.
func (c *Client) SetRGBW(ctx context.Context, color RGBW, transition time.Duration) error {
	_, err := c.do(ctx, command{
		Method: "set_rgbw",
		Param:  rgbwParam{RGBW: color, Time: transition.Milliseconds()},
	})
	return err
}

// Info returns the raw get_info response for diagnostics.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	body, err := c.do(ctx, command{Method: "get_info"})
	if err != nil {
		return nil, err
	}
	info := make(map[string]any)
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, c.fail("get_info", fmt.Errorf("decode info: %w", err))
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, cmd command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Method, err)
	}

	url := "http://" + c.host + CommandPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(cmd.Method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("device command", "method", cmd.Method)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(cmd.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, c.fail(cmd.Method, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(cmd.Method, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return body, nil
}

func (c *Client) fail(op string, err error) error {
	c.logger.Error("device request failed", "method", op, "err", err)
	return &ConnectionError{Op: op, Host: c.host, Err: err}
}
