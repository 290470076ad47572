// Package websocket pushes live archiving events to connected clients:
// session lifecycle changes and every newly archived message. Clients
// may narrow the message stream to topics they subscribed to.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/danuarta/mailarchive-backend/internal/ingest"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe        MessageType = "subscribe"
	MessageTypeUnsubscribe      MessageType = "unsubscribe"
	MessageTypeSessionStarted   MessageType = "session_started"
	MessageTypeMessageArchived  MessageType = "message_archived"
	MessageTypeSessionCompleted MessageType = "session_completed"
	MessageTypeError            MessageType = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    MessageType `json:"type"`
	TopicID string      `json:"topic_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ArchivedPayload is the payload of a message_archived event.
type ArchivedPayload struct {
	MessageID string `json:"message_id"`
	TopicID   string `json:"topic_id"`
	Subject   string `json:"subject,omitempty"`
}

// Hub maintains the set of active clients and broadcasts archiving events
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Topic subscriptions: topicID -> set of clients
	subscriptions map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Subscribe to a topic
	subscribe chan *subscriptionRequest

	// Unsubscribe from a topic
	unsubscribeTopic chan *subscriptionRequest

	// Events to deliver
	events chan *event

	mu sync.RWMutex

	logger *slog.Logger
}

type subscriptionRequest struct {
	client  *Client
	topicID string
}

// event carries one marshaled frame. topicID narrows delivery: clients
// holding topic subscriptions only receive frames for their topics,
// clients with no subscriptions receive everything.
type event struct {
	topicID string
	data    []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		subscriptions:    make(map[string]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		subscribe:        make(chan *subscriptionRequest),
		unsubscribeTopic: make(chan *subscriptionRequest),
		events:           make(chan *event, 256),
		logger:           logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client registered")
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for topicID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, topicID)
					}
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unregistered")
			}

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.topicID] == nil {
				h.subscriptions[req.topicID] = make(map[*Client]bool)
			}
			h.subscriptions[req.topicID][req.client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client subscribed to topic", slog.String("topic_id", req.topicID))
			}

		case req := <-h.unsubscribeTopic:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.topicID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.topicID)
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unsubscribed from topic", slog.String("topic_id", req.topicID))
			}

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev *event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if ev.topicID != "" && h.clientFilters(client) {
			if subscribers := h.subscriptions[ev.topicID]; !subscribers[client] {
				continue
			}
		}
		select {
		case client.send <- ev.data:
		default:
			// Client buffer full, skip
		}
	}
}

// clientFilters reports whether the client narrowed its stream to
// specific topics.
func (h *Hub) clientFilters(client *Client) bool {
	for _, subscribers := range h.subscriptions {
		if subscribers[client] {
			return true
		}
	}
	return false
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe subscribes a client to a topic
func (h *Hub) Subscribe(client *Client, topicID string) {
	h.subscribe <- &subscriptionRequest{client: client, topicID: topicID}
}

// Unsubscribe unsubscribes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topicID string) {
	h.unsubscribeTopic <- &subscriptionRequest{client: client, topicID: topicID}
}

// SessionStarted broadcasts the start of an ingestion session.
func (h *Hub) SessionStarted() {
	h.emit("", WSMessage{Type: MessageTypeSessionStarted})
}

// MessageArchived broadcasts one newly archived message.
func (h *Hub) MessageArchived(messageID, topicID, subject string) {
	h.emit(topicID, WSMessage{
		Type:    MessageTypeMessageArchived,
		TopicID: topicID,
		Payload: &ArchivedPayload{MessageID: messageID, TopicID: topicID, Subject: subject},
	})
}

// SessionFinished broadcasts the final report of an ingestion session.
func (h *Hub) SessionFinished(report *ingest.SessionReport) {
	h.emit("", WSMessage{Type: MessageTypeSessionCompleted, Payload: report})
}

// emit queues one event without ever blocking the caller.
func (h *Hub) emit(topicID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal event", slog.Any("error", err))
		}
		return
	}

	select {
	case h.events <- &event{topicID: topicID, data: data}:
	default:
		if h.logger != nil {
			h.logger.Warn("event queue full, dropping event", slog.String("type", string(msg.Type)))
		}
	}
}
