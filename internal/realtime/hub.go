package realtime

import (
	"context"
	"log"
	"sync"
)

// Hub maintains topic subscriptions for the connections of this instance.
type Hub struct {
	topics  map[string]map[*Client]bool
	clients map[*Client]map[string]bool
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[*Client]bool),
		clients: make(map[*Client]map[string]bool),
	}
}

// Register tracks a connection with no subscriptions.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = make(map[string]bool)
	}
}

// Unregister drops a connection and every subscription it holds.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.clients[c] {
		h.removeLocked(topic, c)
	}
	delete(h.clients, c)
}

// Subscribe adds c to topic. It returns false if c is unknown or already subscribed.
func (h *Hub) Subscribe(topic string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c]
	if !ok || subs[topic] {
		return false
	}
	subs[topic] = true
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
	return true
}

// Unsubscribe removes c from topic.
func (h *Hub) Unsubscribe(topic string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c][topic] {
		return false
	}
	delete(h.clients[c], topic)
	h.removeLocked(topic, c)
	return true
}

func (h *Hub) removeLocked(topic string, c *Client) {
	if conns, ok := h.topics[topic]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribed reports whether c currently holds topic.
func (h *Hub) Subscribed(topic string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c][topic]
}

// Subscribers counts local subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Deliver queues payload for every subscriber of topic. Subscribers that
// cannot keep up are disconnected.
func (h *Hub) Deliver(topic string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		if c.closed() {
			continue
		}
		log.Printf("websocket send buffer full, dropping connection: conn_id=%s user_id=%d topic=%s", c.info.ConnID, c.info.UserID, topic)
		c.close()
		h.Unregister(c)
		c.info.publish(context.Background(), "ws_error", topic, "send buffer full")
	}
	return delivered
}
