// Package ranking orders community issue posts for the feed.
//
// Everything here is pure: no I/O, no clock, no shared state. The caller
// supplies the current time and the viewer location, so concurrent feeds over
// the same snapshot of posts never interfere.
package ranking

import (
	"time"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/urgency"
)

// Post is the read-only view of a stored post that ranking needs.
type Post struct {
	ID          string
	Category    issue.Category
	Title       string
	Description string
	// Location is nil when the post was stored without coordinates.
	Location   *geo.Location
	Upvotes    int
	Volunteers int
	CreatedAt  time.Time
	Urgency    urgency.Level
	Status     issue.Status
}

// AnnotatedPost is a Post plus values derived for one ranking pass.
type AnnotatedPost struct {
	Post
	// DistanceKm is geo.Unknown when either side lacks a location.
	DistanceKm float64
}

// DistanceKnown reports whether DistanceKm holds a real distance.
func (p AnnotatedPost) DistanceKnown() bool {
	return !geo.IsUnknown(p.DistanceKm)
}
