package ranking

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"community-issue-feed/pkg/geo"
)

// RadiusKm bounds the nearby feed.
const RadiusKm = 10.0

// SortMode is a feed ordering.
type SortMode string

const (
	SortPriority SortMode = "priority"
	SortLatest   SortMode = "latest"
	SortUpvotes  SortMode = "upvotes"
	SortDistance SortMode = "distance"
)

// ParseSortMode maps a query value to a mode. Empty and unknown values fall
// back to priority.
func ParseSortMode(s string) SortMode {
	switch m := SortMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SortPriority, SortLatest, SortUpvotes, SortDistance:
		return m
	}
	return SortPriority
}

// Scope says whether the feed is bounded around the viewer.
type Scope string

const (
	ScopeNearby Scope = "nearby"
	ScopeGlobal Scope = "global"
)

// ScopeFor derives the scope from the availability of a viewer location.
func ScopeFor(viewer *geo.Location) Scope {
	if viewer == nil {
		return ScopeGlobal
	}
	return ScopeNearby
}

// EffectiveMode resolves the mode actually applied. Distance ordering needs a
// real viewer location, so the global feed falls back to priority.
func EffectiveMode(scope Scope, requested SortMode) SortMode {
	requested = ParseSortMode(string(requested))
	if scope == ScopeGlobal && requested == SortDistance {
		return SortPriority
	}
	return requested
}

// WithinRadius reports whether a distance falls inside radiusKm. The bound is
// inclusive; unknown distances are never inside.
func WithinRadius(distanceKm, radiusKm float64) bool {
	return !geo.IsUnknown(distanceKm) && distanceKm <= radiusKm
}

// Feed is an ordered feed together with the policy decisions behind it.
type Feed struct {
	Posts         []AnnotatedPost
	Scope         Scope
	RequestedMode SortMode
	Mode          SortMode
}

// DistanceSortAvailable reports whether distance ordering can be offered.
func (f Feed) DistanceSortAvailable() bool {
	return f.Scope == ScopeNearby
}

// Annotate computes the distance of every post from viewer. The result has
// the same length and order as posts.
func Annotate(posts []Post, viewer *geo.Location) []AnnotatedPost {
	out := make([]AnnotatedPost, len(posts))
	for i, p := range posts {
		out[i] = AnnotatedPost{
			Post:       p,
			DistanceKm: geo.Between(viewer, p.Location),
		}
	}
	return out
}

// Assemble filters and orders posts for a viewer. A nil viewer yields the
// global feed. posts is not modified.
func Assemble(posts []Post, viewer *geo.Location, requested SortMode, now time.Time) Feed {
	scope := ScopeFor(viewer)
	annotated := Annotate(posts, viewer)

	if scope == ScopeNearby {
		annotated = slices.DeleteFunc(annotated, func(p AnnotatedPost) bool {
			return !WithinRadius(p.DistanceKm, RadiusKm)
		})
	}

	mode := EffectiveMode(scope, requested)
	Order(annotated, mode, now)

	return Feed{
		Posts:         annotated,
		Scope:         scope,
		RequestedMode: ParseSortMode(string(requested)),
		Mode:          mode,
	}
}

// Order sorts posts in place by mode. Every mode is stable: posts that tie
// keep their relative order.
func Order(posts []AnnotatedPost, mode SortMode, now time.Time) {
	switch mode {
	case SortLatest:
		slices.SortStableFunc(posts, func(a, b AnnotatedPost) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	case SortUpvotes:
		slices.SortStableFunc(posts, func(a, b AnnotatedPost) int {
			return cmp.Compare(b.Upvotes, a.Upvotes)
		})
	case SortDistance:
		slices.SortStableFunc(posts, func(a, b AnnotatedPost) int {
			return cmp.Compare(a.DistanceKm, b.DistanceKm)
		})
	default:
		orderByScore(posts, now)
	}
}

func orderByScore(posts []AnnotatedPost, now time.Time) {
	type scored struct {
		post  AnnotatedPost
		score float64
	}

	ranked := make([]scored, len(posts))
	for i, p := range posts {
		ranked[i] = scored{post: p, score: Score(p, now)}
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
	for i, r := range ranked {
		posts[i] = r.post
	}
}
