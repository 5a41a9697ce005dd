package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var errNotConnected = errors.New("ws: not connected")

// Client is a reconnecting Hyperliquid websocket client. Subscriptions
// registered through Subscribe are replayed after every reconnect, so a
// dropped feed resumes without caller involvement.
type Client struct {
	url       string
	redial    time.Duration
	keepalive time.Duration
	log       *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any
}

func New(url string, redial, keepalive time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{url: url, redial: redial, keepalive: keepalive, log: log}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Subscribe sends the subscription immediately and remembers it for
// replay on reconnect.
func (c *Client) Subscribe(ctx context.Context, sub any) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return send(ctx, conn, sub)
}

// Run reads messages and dispatches them to handler until ctx is
// cancelled, redialing after read failures.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for {
		if err := c.dialAndResubscribe(ctx); err != nil {
			return err
		}

		keepCtx, stopKeepalive := context.WithCancel(ctx)
		keepDone := make(chan struct{})
		go func() {
			defer close(keepDone)
			c.keepaliveLoop(keepCtx)
		}()

		err := c.readAll(ctx, handler)
		stopKeepalive()
		<-keepDone

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.reportDisconnect(err)
			c.dropConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.redial):
			}
		}
	}
}

func (c *Client) dialAndResubscribe(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := send(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readAll(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// Hyperliquid closes idle connections; the keepalive ping holds the
// stream open between market updates.
func (c *Client) keepaliveLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.keepalive
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping := map[string]any{"method": "ping"}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx, conn, ping); err != nil {
				return
			}
		}
	}
}

func (c *Client) reportDisconnect(err error) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		c.log.Info("ws closed", zap.String("reason", closeErr.Reason))
		return
	}
	c.log.Warn("ws disconnected", zap.Error(err))
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "redial")
		c.conn = nil
	}
}

func send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
