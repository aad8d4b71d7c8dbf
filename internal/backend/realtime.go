package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kianjain/shisuka/internal/observability"
)

// Realtime events mirror the phoenix-channel wire protocol used by the
// backend's realtime service.
const (
	RealtimeEventInsert = "INSERT"
	RealtimeEventUpdate = "UPDATE"
	RealtimeEventDelete = "DELETE"
)

// RealtimeEvent is one change notification.
type RealtimeEvent struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
	Ref     string         `json:"ref"`
	JoinRef string         `json:"join_ref,omitempty"`
}

// Record decodes the changed row out of the event payload into v.
func (e *RealtimeEvent) Record(v any) error {
	record, ok := e.Payload["record"]
	if !ok {
		return fmt.Errorf("event has no record payload")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// EventHandler handles realtime events.
type EventHandler func(event *RealtimeEvent)

// RealtimeClient maintains the websocket connection for change subscriptions.
type RealtimeClient struct {
	mu       sync.RWMutex
	url      string
	conn     *websocket.Conn
	handlers map[string][]EventHandler
	joined   map[string]string // topic -> join ref
	done     chan struct{}
	ref      int
	log      *observability.RequestLogger
}

// Realtime returns a realtime client sharing this client's endpoint and key.
func (c *Client) Realtime() *RealtimeClient {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + c.apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		handlers: make(map[string][]EventHandler),
		joined:   make(map[string]string),
		done:     make(chan struct{}),
		log:      observability.NewRequestLogger("realtime"),
	}
}

// Connect establishes the websocket connection and starts the read and
// heartbeat loops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	observability.RealtimeConnected.Set(1)

	go r.readLoop()
	go r.heartbeat()

	return nil
}

// Close shuts the connection down. Safe to call repeatedly.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)
	observability.RealtimeConnected.Set(0)

	_ = r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := r.conn.Close()
	r.conn = nil
	return err
}

// SubscribeConfig describes a postgres-changes subscription.
type SubscribeConfig struct {
	Event  string // INSERT, UPDATE, DELETE, or "*"
	Schema string
	Table  string
	Filter string // optional, e.g. "project_id=eq.<uuid>"
}

// Subscribe joins a change topic and registers the handler. The caller must
// have connected first.
func (r *RealtimeClient) Subscribe(ctx context.Context, cfg SubscribeConfig, handler EventHandler) error {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return fmt.Errorf("realtime not connected")
	}

	events := []string{cfg.Event}
	if cfg.Event == "*" {
		events = []string{RealtimeEventInsert, RealtimeEventUpdate, RealtimeEventDelete}
	}
	for _, ev := range events {
		key := topic + ":" + ev
		r.handlers[key] = append(r.handlers[key], handler)
	}

	if _, ok := r.joined[topic]; ok {
		return nil
	}

	r.ref++
	ref := strconv.Itoa(r.ref)
	msg := map[string]any{
		"topic":    topic,
		"event":    "phx_join",
		"payload":  map[string]any{},
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	r.joined[topic] = ref
	return nil
}

// Unsubscribe leaves a topic and drops its handlers.
func (r *RealtimeClient) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	joinRef, ok := r.joined[topic]
	if !ok {
		return nil
	}

	r.ref++
	msg := map[string]any{
		"topic":    topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      strconv.Itoa(r.ref),
		"join_ref": joinRef,
	}
	if r.conn != nil {
		if err := r.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send leave: %w", err)
		}
	}
	delete(r.joined, topic)
	for key := range r.handlers {
		if strings.HasPrefix(key, topic+":") {
			delete(r.handlers, key)
		}
	}
	return nil
}

func (r *RealtimeClient) readLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			observability.RealtimeConnected.Set(0)
			return
		}

		var event RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		r.dispatch(&event)
	}
}

func (r *RealtimeClient) dispatch(event *RealtimeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eventType := event.Event
	if t, ok := event.Payload["type"].(string); ok {
		eventType = t
	}

	handlers := r.handlers[event.Topic+":"+eventType]
	if len(handlers) > 0 {
		observability.RealtimeEventsTotal.WithLabelValues(event.Topic).Inc()
	}
	for _, handler := range handlers {
		go handler(event)
	}
}

func (r *RealtimeClient) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				msg := map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     strconv.Itoa(r.ref),
				}
				_ = r.conn.WriteJSON(msg)
			}
			r.mu.Unlock()
		}
	}
}
