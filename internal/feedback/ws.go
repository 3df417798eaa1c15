package feedback

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/hook"
)

// MetricsSource supplies the metrics snapshot served to WebSocket clients.
type MetricsSource interface {
	Metrics() hook.Metrics
}

// clientMessage is what WebSocket clients may send. Subscribe is advisory
// (connecting already subscribes); get_metrics and ping get direct replies.
type clientMessage struct {
	Type string `json:"type"`
}

// WSHandler serves the realtime feedback WebSocket. Each connection gets an
// acknowledgment, a replay of the buffered events, then the live stream.
type WSHandler struct {
	broadcaster *Broadcaster
	metrics     MetricsSource
	logger      *zap.Logger
}

// NewWSHandler builds the WebSocket endpoint handler.
func NewWSHandler(b *Broadcaster, metrics MetricsSource, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{broadcaster: b, metrics: metrics, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := h.broadcaster.subscribe()
	if sub == nil {
		conn.Close(websocket.StatusNormalClosure, "feedback disabled")
		return
	}
	defer h.broadcaster.unsubscribe(sub)

	ctx := r.Context()
	buffered := h.broadcaster.RecentEvents(0)

	ack := map[string]any{
		"type":            "connection_ack",
		"buffered_events": len(buffered),
		"timestamp":       time.Now().Format(time.RFC3339Nano),
	}
	if err := h.write(ctx, conn, ack); err != nil {
		return
	}

	for _, e := range buffered {
		replay := map[string]any{
			"type":  "buffered_event",
			"event": e,
		}
		if err := h.write(ctx, conn, replay); err != nil {
			return
		}
	}

	// Client messages are handled on their own goroutine so a quiet client
	// does not stall the event stream.
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(ctx, conn)
	}()

	for {
		select {
		case e, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				return
			}
		case <-readErr:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case "subscribe":
			// Connecting already subscribes; acknowledge anyway.
			if err := h.write(ctx, conn, map[string]any{"type": "subscribed"}); err != nil {
				return err
			}
		case "get_metrics":
			reply := map[string]any{"type": "metrics"}
			if h.metrics != nil {
				reply["metrics"] = h.metrics.Metrics()
			}
			if err := h.write(ctx, conn, reply); err != nil {
				return err
			}
		case "ping":
			if err := h.write(ctx, conn, map[string]any{"type": "pong"}); err != nil {
				return err
			}
		default:
			h.logger.Debug("ignoring unknown client message", zap.String("type", msg.Type))
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}
