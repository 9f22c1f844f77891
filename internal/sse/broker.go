package sse

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/session"
)

const HeartbeatInterval = config.SSEHeartbeatEvery

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

// Broker fans session notifications out to every connected event stream.
// A client that falls behind loses events rather than stalling the session.
type Broker struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{
		clients: make(map[*Client]bool),
	}
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, config.SSEClientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		close(client.Done)
	} else {
		b.clients[client] = true
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Info().Int("clientCount", clientCount).Msg("sse client subscribed")
	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.Done)

		log.Info().Int("clientCount", len(b.clients)).Msg("sse client unsubscribed")
	}
}

// OnNotification implements session.Observer.
func (b *Broker) OnNotification(n session.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to marshal notification")
		return
	}
	b.Publish(Event{Type: string(n.Kind), Data: data})
}

func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
