package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans authentication events out to stream subscribers keyed by the
// owning user.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	userID  string
	payload []byte
}

type subscription struct {
	userID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.userID]; !ok {
				h.clients[sub.userID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.userID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.userID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.userID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.clients[msg.userID]
			targets := make([]Subscriber, 0, len(clients))
			for client := range clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()
			var failed []Subscriber
			for _, client := range targets {
				if err := client.Send(msg.payload); err != nil {
					failed = append(failed, client)
				}
			}
			if len(failed) > 0 {
				h.mu.Lock()
				for _, client := range failed {
					if clients, ok := h.clients[msg.userID]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, msg.userID)
						}
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Subscribe attaches a client to the user's event stream.
func (h *Hub) Subscribe(userID string, client Subscriber) {
	h.register <- subscription{userID: userID, client: client}
}

// Unsubscribe detaches a client.
func (h *Hub) Unsubscribe(userID string, client Subscriber) {
	h.unreg <- subscription{userID: userID, client: client}
}

// Broadcast delivers a payload to every subscriber of the user.
func (h *Hub) Broadcast(userID string, payload []byte) {
	h.broadcast <- message{userID: userID, payload: payload}
}
