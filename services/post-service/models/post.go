package models

import (
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/ranking"
	"community-issue-feed/pkg/urgency"
)

var (
	ErrPostResolved  = errors.New("post is already resolved")
	ErrNotResolvable = errors.New("post must be in progress to be resolved")
	ErrNotAllowed    = errors.New("only the author or a volunteer can resolve this post")
	ErrVolunteering  = errors.New("volunteers cannot upvote the post they help with")
)

type Post struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AuthorID      string             `bson:"author_id" json:"author_id"`
	AuthorName    string             `bson:"author_name" json:"author_name"`
	Category      issue.Category     `bson:"category" json:"category"`
	Title         string             `bson:"title" json:"title"`
	Description   string             `bson:"description" json:"description"`
	ImageURL      string             `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Location      *geo.Location      `bson:"location,omitempty" json:"location,omitempty"`
	Upvotes       int                `bson:"upvotes" json:"upvotes"`
	UpvotedBy     []string           `bson:"upvoted_by,omitempty" json:"-"`
	Volunteers    int                `bson:"volunteers" json:"volunteers"`
	VolunteerIDs  []string           `bson:"volunteer_ids,omitempty" json:"-"`
	Urgency       urgency.Level      `bson:"urgency,omitempty" json:"urgency,omitempty"`
	UrgencyReason string             `bson:"urgency_reason,omitempty" json:"urgency_reason,omitempty"`
	Status        issue.Status       `bson:"status" json:"status"`
	ResolvedBy    string             `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	ResolvedImage string             `bson:"resolved_image_url,omitempty" json:"resolved_image_url,omitempty"`
	ResolvedAt    *time.Time         `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
}

// Ranking converts the stored post into the ranking engine's view.
func (p *Post) Ranking() ranking.Post {
	return ranking.Post{
		ID:          p.ID.Hex(),
		Category:    p.Category,
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		Upvotes:     p.Upvotes,
		Volunteers:  p.Volunteers,
		CreatedAt:   p.CreatedAt,
		Urgency:     p.Urgency,
		Status:      p.Status,
	}
}

// HasUpvoted reports whether userID currently upvotes the post.
func (p *Post) HasUpvoted(userID string) bool {
	return slices.Contains(p.UpvotedBy, userID)
}

// IsVolunteer reports whether userID has signed up to help.
func (p *Post) IsVolunteer(userID string) bool {
	return slices.Contains(p.VolunteerIDs, userID)
}

// ToggleUpvote adds or withdraws userID's upvote and reports whether the post
// is upvoted afterwards.
func (p *Post) ToggleUpvote(userID string, now time.Time) (bool, error) {
	if p.Status == issue.StatusResolved {
		return false, ErrPostResolved
	}
	if p.IsVolunteer(userID) {
		return false, ErrVolunteering
	}

	upvoted := !p.HasUpvoted(userID)
	if upvoted {
		p.UpvotedBy = append(p.UpvotedBy, userID)
	} else {
		p.UpvotedBy = remove(p.UpvotedBy, userID)
	}
	p.Upvotes = len(p.UpvotedBy)
	p.UpdatedAt = now
	return upvoted, nil
}

// ToggleVolunteer signs userID up or off. Signing up replaces the user's
// upvote and moves the post in progress; when the last volunteer leaves the
// post is open again.
func (p *Post) ToggleVolunteer(userID string, now time.Time) (bool, error) {
	if p.Status == issue.StatusResolved {
		return false, ErrPostResolved
	}

	joined := !p.IsVolunteer(userID)
	if joined {
		p.VolunteerIDs = append(p.VolunteerIDs, userID)
		p.UpvotedBy = remove(p.UpvotedBy, userID)
		p.Upvotes = len(p.UpvotedBy)
	} else {
		p.VolunteerIDs = remove(p.VolunteerIDs, userID)
	}
	p.Volunteers = len(p.VolunteerIDs)

	if p.Volunteers > 0 {
		p.Status = issue.StatusInProgress
	} else {
		p.Status = issue.StatusOpen
	}
	p.UpdatedAt = now
	return joined, nil
}

// Resolve closes an in-progress post. Only its author or one of its
// volunteers may do so.
func (p *Post) Resolve(userID, imageURL string, now time.Time) error {
	switch {
	case p.Status == issue.StatusResolved:
		return ErrPostResolved
	case p.Status != issue.StatusInProgress:
		return ErrNotResolvable
	case userID != p.AuthorID && !p.IsVolunteer(userID):
		return ErrNotAllowed
	}

	p.Status = issue.StatusResolved
	p.ResolvedBy = userID
	p.ResolvedImage = imageURL
	p.ResolvedAt = &now
	p.UpdatedAt = now
	return nil
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
