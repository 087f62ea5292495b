package client

import (
	"chat-relay/protocol"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddr string `envconfig:"CHAT_SERVER_ADDR" default:"localhost:12345"`
	// CHAT_SERVER_ADDR is a ws:// URL when the transport is websocket
	Transport string `envconfig:"CHAT_TRANSPORT" default:"tcp"`
	Username  string `envconfig:"CHAT_USERNAME"`
	SessionID string `envconfig:"CHAT_SESSION_ID"`
	// CHAT_COLOURS enables coloured output in the terminal client
	Colours  bool   `envconfig:"CHAT_COLOURS" default:"true"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"WARN"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Push is a message the server sent without being asked.
// Group is empty for private messages, Recipient for group messages.
type Push struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Group     string `json:"group"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (p Push) IsGroup() bool {
	return p.Type == protocol.PushGroup
}

// ServerError is a response with status "error".
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var ErrClosed = fmt.Errorf("client closed")

// Client holds one persistent connection. Requests may be issued concurrently,
// responses are matched by id and pushes are delivered on Pushes.
type Client struct {
	conn   frameConn
	log    *slog.Logger
	pushes chan Push

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	closed  bool
	done    chan struct{}
	once    sync.Once
}

// Dial connects with the transport named in cfg.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	var (
		conn frameConn
		err  error
	)
	switch strings.ToLower(cfg.Transport) {
	case "", TransportTCP:
		conn, err = dialTCP(ctx, cfg.ServerAddr)
	case TransportWebSocket, "ws":
		conn, err = dialWebSocket(ctx, cfg.ServerAddr)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return newClient(conn, log), nil
}

func newClient(conn frameConn, log *slog.Logger) *Client {
	c := &Client{
		conn:    conn,
		log:     log,
		pushes:  make(chan Push, 64),
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.pushes)
	defer c.shutdown()
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			c.log.Debug("Connection closed", "error", err)
			return
		}
		var envelope struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil {
			c.log.Warn("Unreadable frame", "error", err)
			continue
		}
		if envelope.Type != "" {
			var push Push
			if err := json.Unmarshal(frame, &push); err != nil {
				c.log.Warn("Unreadable push", "error", err)
				continue
			}
			select {
			case c.pushes <- push:
			case <-c.done:
				return
			}
			continue
		}
		var response protocol.Response
		if err := json.Unmarshal(frame, &response); err != nil {
			c.log.Warn("Unreadable response", "error", err)
			continue
		}
		c.mu.Lock()
		waiter, ok := c.pending[envelope.ID]
		delete(c.pending, envelope.ID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("Response without request", "id", envelope.ID, "message", response.Message)
			continue
		}
		waiter <- response
	}
}

// Pushes is closed once the connection ends.
func (c *Client) Pushes() <-chan Push {
	return c.pushes
}

// Done is closed once the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Do sends one request and waits for its response. A response with status
// "error" is returned together with a *ServerError.
func (c *Client) Do(ctx context.Context, action protocol.ActionCode, data any) (protocol.Response, error) {
	request := protocol.Request{ID: uuid.NewString(), Action: &action}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return protocol.Response{}, err
		}
		request.Data = payload
	}
	frame, err := json.Marshal(request)
	if err != nil {
		return protocol.Response{}, err
	}

	waiter := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Response{}, ErrClosed
	}
	c.pending[request.ID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, request.ID)
		c.mu.Unlock()
	}()

	if err := c.conn.WriteFrame(frame); err != nil {
		return protocol.Response{}, fmt.Errorf("write request: %w", err)
	}
	select {
	case response := <-waiter:
		if response.Status != protocol.StatusOK {
			return response, &ServerError{Code: response.Code, Message: response.Message}
		}
		return response, nil
	case <-c.done:
		return protocol.Response{}, ErrClosed
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}
