// Package hub fans received CAN frames out to the connected TCP clients.
package hub

import (
	"sync"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/logging"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one subscriber. ClassicOnly clients never receive FD frames.
type Client struct {
	Out         chan can.Frame
	Closed      chan struct{}
	ClassicOnly bool
	closeOnce   sync.Once
}

// NewClient returns a client with an outbound queue of size buf.
func NewClient(buf int) *Client {
	if buf <= 0 {
		buf = 1
	}
	return &Client{Out: make(chan can.Frame, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers c.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters c and closes it; safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast queues fr to every client without blocking. A full queue drops
// the frame for that client or, with PolicyKick, disconnects it.
func (h *Hub) Broadcast(fr can.Frame) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	sampleDepth(clients)
	fd := fr.IsFD()
	for _, c := range clients {
		if fd && c.ClassicOnly {
			continue
		}
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // the server removes it when its writer exits
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

func sampleDepth(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	hi, sum := 0, 0
	for _, c := range clients {
		l := len(c.Out)
		hi = max(hi, l)
		sum += l
	}
	metrics.SetQueueDepth(hi, sum/len(clients))
}

// Snapshot returns a copy of the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) Count() int { h.mu.RLock(); defer h.mu.RUnlock(); return len(h.clients) }
