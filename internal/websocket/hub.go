package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"catpipe/internal/infrastructure"
	"catpipe/internal/operations"
	"catpipe/pkg/contracts/events"
)

const (
	// broadcastBuffer bounds the queue between publishers and the hub loop
	broadcastBuffer = 256

	// sendBuffer bounds each client's outbound queue
	sendBuffer = 64
)

// SnapshotSource supplies the current run snapshots replayed to new clients
type SnapshotSource interface {
	GetAllSnapshots() []*operations.OperationSnapshot
}

type outbound struct {
	runID   string
	msgType string
	payload []byte
}

// Hub fans run updates out to connected clients. Publishers never block:
// when the queue or a client buffer is full the message is dropped.
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	resync     chan *Client

	snapshots SnapshotSource
	metrics   *Metrics
	logger    *slog.Logger

	mu               sync.RWMutex
	started          bool
	totalConnections int64
	messagesSent     int64
	messagesDropped  int64

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. snapshots may be nil.
func NewHub(snapshots SnapshotSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	metrics, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Warn("websocket_metrics_unavailable", slog.String("error", err.Error()))
	}

	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		resync:     make(chan *Client),
		snapshots:  snapshots,
		metrics:    metrics,
		logger:     logger,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetSnapshotSource sets where replayed snapshots come from. Call before Start.
func (h *Hub) SetSnapshotSource(src SnapshotSource) {
	h.snapshots = src
}

// Start runs the hub loop in a new goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	select {
	case <-h.quit:
		return
	default:
	}
	h.started = true
	go h.run()
}

// Stop ends the hub loop and closes every client's send buffer
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})

	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		<-h.done
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client and closes its send buffer
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *Hub) requestResync(client *Client) {
	select {
	case h.resync <- client:
	case <-h.quit:
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				h.metrics.recordDisconnect(ctx)
			}
			h.mu.Unlock()
			h.logger.Info("hub_stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			cctx := client.context()
			h.metrics.recordConnect(cctx)
			h.logger.InfoContext(cctx, "client_registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.String("run_filter", client.RunFilter()),
				slog.Int("total_clients", count))

			h.deliver(client, outbound{msgType: string(events.MessageTypeConnect), payload: h.encode(events.Message{
				Type:    events.MessageTypeConnect,
				Data:    events.ConnectData{ClientID: client.id, Status: "connected", RunID: client.RunFilter()},
				TraceID: client.traceID,
			})})
			h.replay(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				cctx := client.context()
				h.metrics.recordDisconnect(cctx)
				h.logger.InfoContext(cctx, "client_unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", count))
			}

		case client := <-h.resync:
			h.mu.RLock()
			_, ok := h.clients[client]
			h.mu.RUnlock()
			if ok {
				h.replay(client)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.accepts(msg.runID) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range clients {
				h.deliver(client, msg)
			}
		}
	}
}

// deliver must only be called from the hub loop, which owns client.send
func (h *Hub) deliver(client *Client, msg outbound) {
	if msg.payload == nil {
		return
	}
	select {
	case client.send <- msg.payload:
		h.mu.Lock()
		h.messagesSent++
		h.mu.Unlock()
		h.metrics.recordMessage(client.context(), msg.msgType, len(msg.payload))
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.metrics.recordDropped(client.context(), "client")
		h.logger.WarnContext(client.context(), "client_buffer_full",
			slog.String("client_id", client.id),
			slog.String("message_type", msg.msgType),
			slog.String("run_id", msg.runID))
	}
}

func (h *Hub) replay(client *Client) {
	if h.snapshots == nil {
		return
	}
	for _, snap := range h.snapshots.GetAllSnapshots() {
		if !client.accepts(snap.OperationID) {
			continue
		}
		h.deliver(client, outbound{
			runID:   snap.OperationID,
			msgType: operations.EventTypeOperationSnapshot,
			payload: h.encode(events.Message{
				Type:    events.MessageTypeOperationSnapshot,
				RunID:   snap.OperationID,
				Status:  string(snap.Status),
				Data:    snap,
				TraceID: client.traceID,
			}),
		})
	}
}

func (h *Hub) encode(msg events.Message) []byte {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("message_encode_failed",
			slog.String("message_type", string(msg.Type)),
			slog.String("run_id", msg.RunID),
			slog.String("error", err.Error()))
		return nil
	}
	return data
}

func (h *Hub) publish(ctx context.Context, msg events.Message) {
	payload := h.encode(msg)
	if payload == nil {
		return
	}

	select {
	case h.broadcast <- outbound{runID: msg.RunID, msgType: string(msg.Type), payload: payload}:
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.metrics.recordDropped(ctx, "hub")
		h.logger.WarnContext(ctx, "broadcast_queue_full",
			slog.String("message_type", string(msg.Type)),
			slog.String("run_id", msg.RunID))
	}
}

// BroadcastUpdate queues an update for every client following runID
func (h *Hub) BroadcastUpdate(eventType, runID, status string, data interface{}) {
	ctx := infrastructure.WithRunID(context.Background(), runID)
	h.publish(ctx, events.Message{
		Type:   events.MessageType(eventType),
		RunID:  runID,
		Status: status,
		Data:   data,
	})
}

// BroadcastError queues an error message; an empty runID reaches everyone
func (h *Hub) BroadcastError(runID, code, message string, retry bool) {
	h.publish(context.Background(), events.Message{
		Type:  events.MessageTypeError,
		RunID: runID,
		Data:  events.ErrorData{Code: code, Message: message, Retry: retry},
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetHubMetrics returns current hub counters
func (h *Hub) GetHubMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.messagesDropped,
		"broadcast_queue":   len(h.broadcast),
	}
}
