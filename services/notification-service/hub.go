package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/ranking"
	"community-issue-feed/pkg/urgency"
)

// Notification types.
const (
	TypeConnected    = "connected"
	TypeUrgentNearby = "urgent_nearby"
	TypePostUpdate   = "post_update"
	TypePostResolved = "post_resolved"
)

// Notification is what subscribers receive over SSE.
type Notification struct {
	Type       string         `json:"type"`
	PostID     string         `json:"post_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Message    string         `json:"message"`
	Category   issue.Category `json:"category,omitempty"`
	Urgency    urgency.Level  `json:"urgency,omitempty"`
	Status     issue.Status   `json:"status,omitempty"`
	DistanceKm *float64       `json:"distance_km,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Client is one open SSE stream.
type Client struct {
	UserID   string
	Location *geo.Location
	Send     chan Notification
}

// notificationFor decides whether c should hear about ev and builds the
// message. High urgency posts alert subscribers nearby; changes to a post
// go to its author.
func notificationFor(c *Client, ev events.PostEvent, radiusKm float64) (Notification, bool) {
	n := Notification{
		PostID:    ev.PostID,
		Title:     ev.Title,
		Category:  ev.Category,
		Urgency:   ev.Urgency,
		Status:    ev.Status,
		CreatedAt: ev.OccurredAt,
	}

	switch ev.Type {
	case events.PostCreated:
		if ev.Urgency != urgency.LevelHigh || c.UserID == ev.AuthorID {
			return Notification{}, false
		}
		d := geo.Between(c.Location, ev.Location)
		if !ranking.WithinRadius(d, radiusKm) {
			return Notification{}, false
		}
		n.Type = TypeUrgentNearby
		n.Message = "Urgent issue reported near you"
		n.DistanceKm = &d

	case events.PostUpdated, events.PostResolved:
		if ev.AuthorID == "" || c.UserID != ev.AuthorID || ev.ActorID == ev.AuthorID {
			return Notification{}, false
		}
		n.Type = TypePostUpdate
		n.Message = "Your post has new activity"
		if ev.Type == events.PostResolved {
			n.Type = TypePostResolved
			n.Message = "Your post was marked resolved"
		}

	default:
		return Notification{}, false
	}
	return n, true
}

// ErrHubStopped is returned by Publish once Run has exited.
var ErrHubStopped = errors.New("notification hub stopped")

// membership asks Run to add or remove a client. applied is closed once the
// client set reflects the change.
type membership struct {
	client  *Client
	applied chan struct{}
}

// Hub fans post events out to connected clients.
type Hub struct {
	radiusKm   float64
	clients    map[*Client]bool
	broadcast  chan events.PostEvent
	register   chan membership
	unregister chan membership
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(radiusKm float64) *Hub {
	return &Hub{
		radiusKm:   radiusKm,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan events.PostEvent, 100),
		register:   make(chan membership),
		unregister: make(chan membership),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case m := <-h.register:
			h.mu.Lock()
			h.clients[m.client] = true
			total := len(h.clients)
			h.mu.Unlock()
			close(m.applied)
			connectedClients.Set(float64(total))
			log.Info().Str("user_id", m.client.UserID).Int("clients", total).Msg("client registered")

		case m := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[m.client]; ok {
				delete(h.clients, m.client)
				close(m.client.Send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			close(m.applied)
			connectedClients.Set(float64(total))
			log.Info().Str("user_id", m.client.UserID).Int("clients", total).Msg("client unregistered")

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev events.PostEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		n, ok := notificationFor(client, ev, h.radiusKm)
		if !ok {
			continue
		}
		select {
		case client.Send <- n:
			notificationsSent.WithLabelValues(n.Type).Inc()
		default:
			notificationsDropped.Inc()
			log.Warn().Str("user_id", client.UserID).Str("post_id", ev.PostID).Msg("client too slow, notification dropped")
		}
	}
}

// Register adds c to the hub and returns once Count includes it. It returns
// false if ctx ends or the hub has stopped first.
func (h *Hub) Register(ctx context.Context, c *Client) bool {
	m := membership{client: c, applied: make(chan struct{})}
	select {
	case h.register <- m:
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
	<-m.applied
	return true
}

// Unregister removes c, closes its Send channel and returns once Count no
// longer includes it.
func (h *Hub) Unregister(c *Client) {
	m := membership{client: c, applied: make(chan struct{})}
	select {
	case h.unregister <- m:
		<-m.applied
	case <-h.done:
	}
}

// Publish queues ev for delivery.
func (h *Hub) Publish(ctx context.Context, ev events.PostEvent) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Count is the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
