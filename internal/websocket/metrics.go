package websocket

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "catpipe.websocket"

// Metrics holds the hub instruments. A nil *Metrics records nothing.
type Metrics struct {
	connections metric.Int64Counter
	active      metric.Int64UpDownCounter
	messages    metric.Int64Counter
	bytes       metric.Int64Counter
	dropped     metric.Int64Counter
}

// NewMetrics registers the hub instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.connections, err = meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections")); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections")); err != nil {
		return nil, err
	}
	if m.messages, err = meter.Int64Counter("websocket_messages_total",
		metric.WithDescription("Messages delivered to client send buffers")); err != nil {
		return nil, err
	}
	if m.bytes, err = meter.Int64Counter("websocket_message_bytes_total",
		metric.WithDescription("Bytes delivered to client send buffers"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("websocket_messages_dropped_total",
		metric.WithDescription("Messages dropped because a buffer was full")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordConnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
	m.active.Add(ctx, 1)
}

func (m *Metrics) recordDisconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.active.Add(ctx, -1)
}

func (m *Metrics) recordMessage(ctx context.Context, msgType string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", msgType))
	m.messages.Add(ctx, 1, attrs)
	m.bytes.Add(ctx, int64(size), attrs)
}

// where is "hub" for the shared queue or "client" for a per-client buffer
func (m *Metrics) recordDropped(ctx context.Context, where string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("buffer", where)))
}
