package websocket

import "sync"

// Hub tracks the live connections owned by this instance, keyed by the
// connection ID the session registry advertises. It is the local endpoint
// of the delivery router: a payload routed to this instance lands here.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*WSClient),
	}
}

func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	incConnections()
}

// Unregister drops the connection from the table. Message is deliberately
// never closed here: a delivery racing the disconnect may still hold a
// reference from PushToConnection, and the write pump exits via done anyway.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	if existing, ok := h.clients[client.ID]; ok && existing == client {
		delete(h.clients, client.ID)
		decConnections()
	}
	h.mu.Unlock()
}

// PushToConnection hands a payload to the named connection's write pump.
// It reports false when the connection is unknown or its buffer is full,
// which the caller treats as a failed push.
func (h *Hub) PushToConnection(connectionID string, payload []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		incPushMisses()
		return false
	}

	select {
	case client.Message <- payload:
		incPushed()
		return true
	default:
		incPushMisses()
		return false
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
