package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/pkg/output"
)

const (
	// writeWait is the allowance for writing a message to a client.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings are sent. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Clients are listeners, so
	// anything larger is a protocol violation.
	maxMessageSize = 4096

	// clientSendBuffer is the per-client queue of pending records.
	clientSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds loopback by default; origin enforcement is left
	// to deployments that expose it further.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans monitor records out to connected websocket clients. Slow
// clients miss records rather than stalling the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub. A nil logger is replaced with a no-op.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals v once and queues it to every connected client.
// Returns the number of clients the message was queued for.
func (h *Hub) Broadcast(v interface{}) int {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal stream message", zap.Error(err))
		return 0
	}

	// Sends happen under the read lock so unregister cannot close a
	// send channel mid-broadcast.
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- payload:
			delivered++
		default:
			// Client buffer full; it misses this record.
		}
	}
	return delivered
}

// Close disconnects every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams records to
// the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("stream client connected", zap.Int("clients", count))
}

func (h *Hub) unregister(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("stream client disconnected", zap.Int("clients", count))
}

type streamClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// readPump drains inbound frames so control messages are processed. The
// stream is one-way; data frames from clients are discarded.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards queued records to the client and keeps the
// connection alive with pings.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// BroadcastWriter tees monitor records to an inner writer and a stream
// hub. Records reach clients in the same envelope shape the JSONL
// writer emits.
type BroadcastWriter struct {
	inner  output.Writer
	hub    *Hub
	runID  string
	source string
}

// NewBroadcastWriter wraps inner so every record is also broadcast on
// hub.
func NewBroadcastWriter(inner output.Writer, hub *Hub, runID, source string) *BroadcastWriter {
	return &BroadcastWriter{
		inner:  inner,
		hub:    hub,
		runID:  runID,
		source: source,
	}
}

// WriteResult emits a closed-job result record.
func (bw *BroadcastWriter) WriteResult(ctx context.Context, res *output.ResultRecord) error {
	bw.broadcast(output.TypeResult, res)
	return bw.inner.WriteResult(ctx, res)
}

// WriteSkip emits a skipped-line diagnostic record.
func (bw *BroadcastWriter) WriteSkip(ctx context.Context, skip *output.SkipRecord) error {
	bw.broadcast(output.TypeSkip, skip)
	return bw.inner.WriteSkip(ctx, skip)
}

// WriteError emits an error record.
func (bw *BroadcastWriter) WriteError(ctx context.Context, errRec *output.ErrorRecord) error {
	bw.broadcast(output.TypeError, errRec)
	return bw.inner.WriteError(ctx, errRec)
}

// WriteProgress emits a progress record.
func (bw *BroadcastWriter) WriteProgress(ctx context.Context, prog *output.ProgressRecord) error {
	bw.broadcast(output.TypeProgress, prog)
	return bw.inner.WriteProgress(ctx, prog)
}

// WriteSummary emits a summary record.
func (bw *BroadcastWriter) WriteSummary(ctx context.Context, sum *output.SummaryRecord) error {
	bw.broadcast(output.TypeSummary, sum)
	return bw.inner.WriteSummary(ctx, sum)
}

// WritePreflight emits a preflight record.
func (bw *BroadcastWriter) WritePreflight(ctx context.Context, preflight *output.PreflightRecord) error {
	bw.broadcast(output.TypePreflight, preflight)
	return bw.inner.WritePreflight(ctx, preflight)
}

// WriteOpen emits a still-open job record.
func (bw *BroadcastWriter) WriteOpen(ctx context.Context, open *output.OpenRecord) error {
	bw.broadcast(output.TypeOpen, open)
	return bw.inner.WriteOpen(ctx, open)
}

// Close closes the inner writer. Hub clients stay connected.
func (bw *BroadcastWriter) Close() error {
	return bw.inner.Close()
}

func (bw *BroadcastWriter) broadcast(recordType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		bw.hub.logger.Error("marshal stream record", zap.Error(err))
		return
	}
	bw.hub.Broadcast(output.Record{
		Type:   recordType,
		TS:     time.Now().UTC(),
		RunID:  bw.runID,
		Source: bw.source,
		Data:   payload,
	})
}

// Compile-time check that BroadcastWriter implements output.Writer.
var _ output.Writer = (*BroadcastWriter)(nil)
