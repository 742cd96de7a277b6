package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/coder/websocket"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

const writeTimeout = 5 * time.Second

// Hub relays messages between websocket clients. It is also a Broker, so a
// session running next to the server takes part in the same conversation.
type Hub struct {
	logger *slog.Logger
	local  *Memory

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

var _ Broker = (*Hub)(nil)

// NewHub creates a relay hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:  logger,
		local:   NewMemory(logger),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and relays the client's messages until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("bus client connected", "clients", count)

	defer h.remove(conn)
	for {
		_, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed bus message", "error", err)
			continue
		}
		h.broadcast(msg, data, conn)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message, data []byte, from *websocket.Conn) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		if conn != from {
			clients = append(clients, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("failed to send to bus client", "error", err)
			h.remove(conn)
		}
	}
	_ = h.local.Publish(h.ctx, msg)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("bus client disconnected", "clients", count)
}

// Publish sends msg to every client and local subscriber.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	if h.ctx.Err() != nil {
		return ErrClosed
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	h.broadcast(msg, data, nil)
	return nil
}

// Subscribe registers a local handler.
func (h *Hub) Subscribe(topic string, handler Handler) (Subscription, error) {
	return h.local.Subscribe(topic, handler)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.cancel()
	h.mu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	return h.local.Close()
}

// ClientConfig configures a websocket Client.
type ClientConfig struct {
	// URL of the hub, e.g. ws://localhost:8080/v1/bus.
	URL        string
	Token      string
	HTTPClient *http.Client
	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client is a Broker connected to a remote Hub. It reconnects until closed;
// Publish fails with core.ErrOffline while disconnected.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger
	local  *Memory

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Broker = (*Client)(nil)

// NewClient creates a client. Call Start to connect.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{cfg: cfg, logger: cfg.Logger, local: NewMemory(cfg.Logger)}
}

// Start connects in the background and keeps reconnecting until ctx ends or
// Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("bus client already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	lifecycle.Go(runCtx, func(ctx context.Context) error {
		defer close(done)
		for {
			if err := c.session(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug("bus connection lost", "url", c.cfg.URL, "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		c.logger.Error("bus client panic", "error", err)
	}))
	return nil
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) session(ctx context.Context) error {
	opts := &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient}
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Debug("bus connected", "url", c.cfg.URL)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		_ = c.local.Publish(ctx, msg)
	}
}

// Publish sends msg to the hub.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return core.ErrOffline
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Subscribe registers h for messages received from the hub.
func (c *Client) Subscribe(topic string, h Handler) (Subscription, error) {
	return c.local.Subscribe(topic, h)
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(writeTimeout):
		}
	}
	return c.local.Close()
}
