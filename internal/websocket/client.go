package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"catpipe/internal/config"
	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = (defaultPongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages, closed by the hub
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	pingPeriod time.Duration
	pongWait   time.Duration

	// runID limits delivery to one run; empty means every run
	mu    sync.RWMutex
	runID string

	logger *slog.Logger
}

// NewClient creates a client for conn following runID (empty for all runs)
func NewClient(hub *Hub, conn Connection, runID, traceID string, cfg config.WebSocketConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	logger = logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
	)

	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		pingPeriod:  cfg.PingPeriod,
		pongWait:    cfg.PongWait,
		runID:       runID,
		logger:      logger,
	}
	if c.pongWait <= 0 {
		c.pongWait = defaultPongWait
	}
	if c.pingPeriod <= 0 || c.pingPeriod >= c.pongWait {
		c.pingPeriod = (c.pongWait * 9) / 10
	}
	return c
}

// ID returns the client identifier
func (c *Client) ID() string {
	return c.id
}

// Subscribe limits the client to runID; an empty runID follows every run
func (c *Client) Subscribe(runID string) {
	c.mu.Lock()
	c.runID = runID
	c.mu.Unlock()
}

// RunFilter returns the run the client follows, or "" for all runs
func (c *Client) RunFilter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// messages without a run id are for everyone
func (c *Client) accepts(runID string) bool {
	filter := c.RunFilter()
	return filter == "" || runID == "" || filter == runID
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump reads client messages until the connection fails, then
// unregisters the client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "unexpected_close",
					slog.String("error", err.Error()))
			}
			return
		}
		c.handleMessage(bytes.TrimSpace(message))
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.DebugContext(c.context(), "client_message_ignored",
			slog.String("error", err.Error()))
		return
	}

	switch msg.Type {
	case events.MessageTypeHeartbeat:
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	case events.MessageTypeSubscribe:
		c.Subscribe(msg.RunID)
		c.logger.InfoContext(c.context(), "client_subscribed",
			slog.String("run_id", msg.RunID))
		c.hub.requestResync(c)
	default:
		c.logger.DebugContext(c.context(), "client_message_ignored",
			slog.String("type", string(msg.Type)))
	}
}

// WritePump writes queued messages and pings until the hub closes the send
// buffer or a write fails
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.ErrorContext(c.context(), "write_failed",
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "ping_failed",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// NewUpgrader builds the upgrader for /ws. Requests without an Origin header
// and same-host origins are always allowed.
func NewUpgrader(cfg config.WebSocketConfig, logger *slog.Logger) *websocket.Upgrader {
	if logger == nil {
		logger = slog.Default()
	}

	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range cfg.AllowedOrigins {
				if allowed == "*" || strings.EqualFold(origin, allowed) {
					return true
				}
			}
			if strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host) {
				return true
			}
			logger.WarnContext(r.Context(), "origin_rejected",
				slog.String("origin", origin),
				slog.Any("allowed_origins", cfg.AllowedOrigins))
			return false
		},
	}
}

// ServeWS upgrades the request and attaches the connection to hub. The
// optional run_id query parameter limits the stream to one run.
func ServeWS(hub *Hub, cfg config.WebSocketConfig, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := NewUpgrader(cfg, logger)

	return func(w http.ResponseWriter, r *http.Request) {
		traceID := middleware.GetReqID(r.Context())
		if traceID == "" {
			traceID = infrastructure.GenerateTraceID()
		}
		ctx := infrastructure.WithTraceID(r.Context(), traceID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.ErrorContext(ctx, "websocket_upgrade_failed",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr))
			return
		}

		client := NewClient(hub, WrapConn(conn), r.URL.Query().Get("run_id"), traceID, cfg, logger)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
