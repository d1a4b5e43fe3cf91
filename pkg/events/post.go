// Package events defines the messages services exchange about posts.
package events

import (
	"time"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/urgency"
)

// Exchange is the topic exchange carrying post lifecycle events.
const Exchange = "posts"

// Routing keys.
const (
	PostCreated  = "post.created"
	PostUpdated  = "post.updated"
	PostResolved = "post.resolved"
)

// PostEvent is published whenever a post is created or changes state.
type PostEvent struct {
	Type       string         `json:"type"`
	PostID     string         `json:"post_id"`
	AuthorID   string         `json:"author_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Title      string         `json:"title"`
	Category   issue.Category `json:"category"`
	Urgency    urgency.Level  `json:"urgency,omitempty"`
	Reason     string         `json:"urgency_reason,omitempty"`
	Status     issue.Status   `json:"status"`
	Location   *geo.Location  `json:"location,omitempty"`
	Upvotes    int            `json:"upvotes"`
	Volunteers int            `json:"volunteers"`
	OccurredAt time.Time      `json:"occurred_at"`
}
