package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	clientBufferSize = 16
	heartbeatFrame   = ": heartbeat\n\n"
)

// AlertBroker fans persisted alerts out to Server-Sent Events clients.
// It implements domain.AlertPublisher.
type AlertBroker struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	heartbeat time.Duration

	mu       sync.RWMutex
	clients  map[chan []byte]struct{}
	closed   bool
	incoming chan []byte
}

// NewAlertBroker creates a new AlertBroker and starts its processing loop.
// m may be nil.
func NewAlertBroker(ctx context.Context, heartbeat time.Duration, m *metrics.Metrics, logger *slog.Logger) *AlertBroker {
	b := &AlertBroker{
		logger:    logger.With("component", "alert_broker"),
		metrics:   m,
		heartbeat: heartbeat,
		clients:   make(map[chan []byte]struct{}),
		incoming:  make(chan []byte, 256),
	}
	go b.run(ctx)
	return b
}

// Publish queues alerts for broadcast. It never blocks the analysis cycle;
// when the queue is full the frame is dropped.
func (b *AlertBroker) Publish(ctx context.Context, alerts []domain.Alert) error {
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %d: %w", a.ID, err)
		}
		frame := fmt.Appendf(nil, "event: alert\nid: %d\ndata: %s\n\n", a.ID, payload)
		select {
		case b.incoming <- frame:
		default:
			b.logger.Warn("alert broadcast queue is full, dropping frame", "alert_id", a.ID)
		}
	}
	return nil
}

// ServeHTTP handles GET /alerts/stream.
func (b *AlertBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	messageChan := make(chan []byte, clientBufferSize)
	if !b.addClient(messageChan) {
		return
	}
	defer b.removeClient(messageChan)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messageChan:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Clients returns the number of connected clients.
func (b *AlertBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *AlertBroker) addClient(client chan []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[client] = struct{}{}
	b.setGauge(len(b.clients))
	b.logger.Info("SSE client connected", "clients", len(b.clients))
	return true
}

func (b *AlertBroker) removeClient(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client)
		b.setGauge(len(b.clients))
		b.logger.Info("SSE client disconnected", "clients", len(b.clients))
	}
}

func (b *AlertBroker) broadcast(msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- msg:
		default:
			// slow client, skip
		}
	}
}

func (b *AlertBroker) run(ctx context.Context) {
	var tick <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			b.closeClients()
			return
		case frame := <-b.incoming:
			b.broadcast(frame)
		case <-tick:
			b.broadcast([]byte(heartbeatFrame))
		}
	}
}

// closeClients ends every open stream so server shutdown is not held up by
// long-lived connections.
func (b *AlertBroker) closeClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for client := range b.clients {
		delete(b.clients, client)
		close(client)
	}
	b.setGauge(0)
	b.logger.Info("alert broker stopped, closed SSE clients")
}

func (b *AlertBroker) setGauge(n int) {
	if b.metrics != nil {
		b.metrics.SSEClients.Set(float64(n))
	}
}
