package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"go.uber.org/zap"
)

// Frame is the envelope of every message on the realtime channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	eventRegister   = "register"
	eventJoin       = "join"
	eventNewMessage = "new_message"
)

// Handler receives every pushed message, in arrival order.
type Handler func(ctx context.Context, m backend.WireMessage)

// Client keeps a websocket to the push service open, announcing the user and
// joining one channel per owned account after every (re)connect.
type Client struct {
	url      string
	identity func() string
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	accounts []string

	newBackOff func() backoff.BackOff
}

// NewClient creates a client for url. identity returns the user id to
// register; an empty id postpones connecting.
func NewClient(url string, identity func() string, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:      url,
		identity: identity,
		bus:      b,
		logger:   logger,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 500 * time.Millisecond
			eb.MaxInterval = 30 * time.Second
			eb.MaxElapsedTime = 0
			return eb
		},
	}
}

// SetAccounts replaces the joined accounts. When connected, every account is
// joined again; joining twice is harmless.
func (c *Client) SetAccounts(ctx context.Context, accounts []string) {
	c.mu.Lock()
	c.accounts = slices.Clone(accounts)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := c.join(ctx, conn, accounts); err != nil {
		c.logger.Warn("rejoin failed", zap.Error(err))
	}
}

// Connected reports whether a websocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff. Messages are handed to h one at a time.
func (c *Client) Run(ctx context.Context, h Handler) {
	bo := backoff.WithContext(c.newBackOff(), ctx)
	for {
		connected, err := c.session(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if connected {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		c.logger.Warn("realtime disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection. It reports whether the handshake completed.
func (c *Client) session(ctx context.Context, h Handler) (bool, error) {
	userID := c.identity()
	if userID == "" {
		return false, errors.New("no user id")
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(1 << 20)

	if err := c.send(ctx, conn, eventRegister, userID); err != nil {
		return false, err
	}
	c.mu.Lock()
	accounts := slices.Clone(c.accounts)
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.bus.Emit(bus.KindRealtimeLost, c.url)
	}()

	if err := c.join(ctx, conn, accounts); err != nil {
		return true, err
	}
	c.logger.Info("realtime connected", zap.String("url", c.url), zap.Int("accounts", len(accounts)))
	c.bus.Emit(bus.KindRealtimeConnected, c.url)

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if f.Event != eventNewMessage {
			continue
		}
		var m backend.WireMessage
		if err := json.Unmarshal(f.Data, &m); err != nil {
			c.logger.Warn("undecodable push message", zap.Error(err))
			continue
		}
		h(ctx, m)
	}
}

func (c *Client) join(ctx context.Context, conn *websocket.Conn, accounts []string) error {
	for _, a := range accounts {
		if err := c.send(ctx, conn, eventJoin, a); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Frame{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
