package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/alimasry/go-notepad/store"
)

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
)

// event is a subscription change. Registrations and unregistrations share
// one channel so Run sees them in the order they were sent.
type event struct {
	kind   eventKind
	client *Client
	doc    *store.Document
}

// Hub fans out commit notifications to the WebSocket clients subscribed to
// each document. Subscription changes and notifications are serialized
// through Run, so a client never misses a commit made after its hello.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]bool

	events chan event
	saved  chan store.Snapshot

	stopMu  sync.RWMutex
	stopped bool
	stop    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]bool),
		events:      make(chan event, 16),
		saved:       make(chan store.Snapshot, 256),
		stop:        make(chan struct{}),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)
		case snap := <-h.saved:
			h.handleSaved(snap)
		case <-h.stop:
			h.closeAll()
			h.drainEvents()
			return
		}
	}
}

// Stop ends Run and disconnects every client. Registrations accepted before
// Stop are closed by Run on its way out; later ones are refused.
func (h *Hub) Stop() {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stop)
}

// Publish queues a commit notification. It never blocks, which lets it run
// as a store commit hook.
func (h *Hub) Publish(snap store.Snapshot) {
	select {
	case h.saved <- snap:
	default:
		log.Printf("hub: dropping notification for %q v%d, queue full", snap.Key, snap.Version)
	}
}

// subscribe queues c for registration on doc. It reports false once the hub
// is stopped.
func (h *Hub) subscribe(c *Client, doc *store.Document) bool {
	h.stopMu.RLock()
	defer h.stopMu.RUnlock()
	if h.stopped {
		return false
	}
	h.events <- event{kind: eventRegister, client: c, doc: doc}
	return true
}

// unsubscribe queues c for removal. After Stop it is a no-op.
func (h *Hub) unsubscribe(c *Client) {
	select {
	case h.events <- event{kind: eventUnregister, client: c}:
	case <-h.stop:
	}
}

// Subscribers returns the number of clients subscribed to key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}

func (h *Hub) handleEvent(ev event) {
	switch ev.kind {
	case eventRegister:
		h.handleRegister(ev.client, ev.doc)
	case eventUnregister:
		h.handleUnregister(ev.client)
	}
}

func (h *Hub) handleRegister(c *Client, doc *store.Document) {
	h.mu.Lock()
	clients, ok := h.subscribers[c.Key]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscribers[c.Key] = clients
	}
	clients[c] = true
	h.mu.Unlock()

	// Read the version here rather than in the HTTP handler: any commit
	// after this point is still queued behind the registration.
	snap := doc.Read()
	c.sendMsg(ServerMessage{
		Type:     MsgHello,
		ClientID: c.ID,
		Key:      c.Key,
		Version:  snap.Version,
		Hash:     formatHash(snap.Hash),
	})
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.subscribers[c.Key]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.subscribers, c.Key)
	}
	close(c.send)
}

func (h *Hub) handleSaved(snap store.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := ServerMessage{
		Type:    MsgSaved,
		Key:     snap.Key,
		Version: snap.Version,
		Hash:    formatHash(snap.Hash),
	}
	for c := range h.subscribers[snap.Key] {
		c.sendMsg(msg)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, clients := range h.subscribers {
		for c := range clients {
			close(c.send)
		}
		delete(h.subscribers, key)
	}
}

// drainEvents closes the clients whose registration was queued before Stop.
func (h *Hub) drainEvents() {
	for {
		select {
		case ev := <-h.events:
			if ev.kind == eventRegister {
				close(ev.client.send)
			}
		default:
			return
		}
	}
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
