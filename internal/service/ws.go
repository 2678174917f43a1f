package service

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/yukihoshiii/zfh-project/internal/model"

	"github.com/google/uuid"
)

const sendBufferSize = 256

// WSClient is one open connection. The transport drains Send; the hub and
// router fill it.
type WSClient struct {
	ID   string
	Send chan []byte

	mu       sync.RWMutex
	closed   bool
	identity *model.Identity
	token    string
	channel  string
}

func NewWSClient() *WSClient {
	return &WSClient{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBufferSize),
	}
}

// Identity returns the authenticated identity, if any.
func (c *WSClient) Identity() (model.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return model.Identity{}, false
	}
	return *c.identity, true
}

func (c *WSClient) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Channel returns the currently joined channel or "".
func (c *WSClient) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// enqueue never blocks; false means the queue is full or closed.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WSHub is the registry of open connections and the fan-out point.
type WSHub struct {
	channels *ChannelRegistry

	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

func NewWSHub(channels *ChannelRegistry) *WSHub {
	return &WSHub{
		channels: channels,
		clients:  make(map[*WSClient]struct{}),
	}
}

func (h *WSHub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] %s connected (total: %d)", client.ID, total)
}

// Unregister removes the client and closes its queue. Safe to call twice.
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.close()
		log.Printf("[WS] %s disconnected (total: %d)", client.ID, total)
	}
}

// Shutdown closes every registered connection.
func (h *WSHub) Shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
	}
}

// SetIdentity attaches an authenticated identity; re-auth overwrites it.
func (h *WSHub) SetIdentity(client *WSClient, identity model.Identity, token string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.identity != nil && client.identity.Username != identity.Username {
		// A different user must not inherit the previous user's private channel.
		client.channel = ""
	}
	client.identity = &identity
	client.token = token
}

// ClearIdentity returns the connection to the unauthenticated state.
func (h *WSHub) ClearIdentity(client *WSClient) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.identity = nil
	client.token = ""
	client.channel = ""
}

// Join subscribes the connection to a channel it is allowed to see.
func (h *WSHub) Join(client *WSClient, channel string) error {
	identity, ok := client.Identity()
	if !ok {
		return ErrUnauthenticated
	}
	if err := h.channels.Visible(channel, identity.Username); err != nil {
		return err
	}

	client.mu.Lock()
	client.channel = channel
	client.mu.Unlock()
	return nil
}

// Broadcast delivers event to every connection currently joined to channel.
// Connections registered after the snapshot is taken may miss it.
func (h *WSHub) Broadcast(event any, channel string) int {
	return h.fanOut(event, func(c *WSClient) bool {
		return c.Channel() == channel
	})
}

// BroadcastVisible delivers event to every authenticated connection that may
// see channel, wherever it is currently joined.
func (h *WSHub) BroadcastVisible(event any, channel string) int {
	return h.fanOut(event, func(c *WSClient) bool {
		identity, ok := c.Identity()
		return ok && model.VisibleTo(channel, identity.Username)
	})
}

// BroadcastAll delivers event to every open connection.
func (h *WSHub) BroadcastAll(event any) int {
	return h.fanOut(event, func(*WSClient) bool { return true })
}

// SendTo replies to a single connection.
func (h *WSHub) SendTo(client *WSClient, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if !client.enqueue(data) {
		h.Unregister(client)
		return fmt.Errorf("client %s: send queue full", client.ID)
	}
	return nil
}

func (h *WSHub) fanOut(event any, match func(*WSClient) bool) int {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] marshal broadcast: %v", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		if match(client) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(data) {
			delivered++
			continue
		}
		// Slow consumer: drop it instead of stalling everyone else.
		log.Printf("[WS] dropping %s: send queue full", client.ID)
		h.Unregister(client)
	}
	return delivered
}

func (h *WSHub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelCounts reports how many connections are joined to each channel.
func (h *WSHub) ChannelCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int)
	for client := range h.clients {
		if ch := client.Channel(); ch != "" {
			counts[ch]++
		}
	}
	return counts
}
