package ranking

import (
	"math"
	"time"

	"community-issue-feed/pkg/urgency"
)

// Weights of the priority score. Changing any of them reorders users' feeds.
const (
	HighUrgencyPoints   = 500.0
	MediumUrgencyPoints = 200.0

	RecencyMaxPoints    = 100.0
	RecencyDecayPerHour = 2.0
	UpvotePoints        = 1.5
	VolunteerPoints     = 10.0
	NearbyThresholdKm   = 1.0
	NearbyPoints        = 50.0
	ProximityMaxPoints  = 30.0
	ProximityDecayPerKm = 3.0
)

// Breakdown is the per-term contribution to a priority score. Every term is
// at least zero.
type Breakdown struct {
	Urgency    float64 `json:"urgency"`
	Recency    float64 `json:"recency"`
	Upvotes    float64 `json:"upvotes"`
	Volunteers float64 `json:"volunteers"`
	Proximity  float64 `json:"proximity"`
}

// Total sums the terms.
func (b Breakdown) Total() float64 {
	return b.Urgency + b.Recency + b.Upvotes + b.Volunteers + b.Proximity
}

// Score returns the priority of p at time now. Higher is more urgent.
func Score(p AnnotatedPost, now time.Time) float64 {
	return Explain(p, now).Total()
}

// Explain returns the individual terms that make up Score.
func Explain(p AnnotatedPost, now time.Time) Breakdown {
	return Breakdown{
		Urgency:    UrgencyPoints(p.Urgency),
		Recency:    RecencyPoints(HoursOld(p.CreatedAt, now)),
		Upvotes:    UpvotePoints * float64(max(p.Upvotes, 0)),
		Volunteers: VolunteerPoints * float64(max(p.Volunteers, 0)),
		Proximity:  ProximityPoints(p.DistanceKm),
	}
}

// UrgencyPoints scores the classified level. Low and unclassified posts get
// nothing.
func UrgencyPoints(l urgency.Level) float64 {
	switch l {
	case urgency.LevelHigh:
		return HighUrgencyPoints
	case urgency.LevelMedium:
		return MediumUrgencyPoints
	}
	return 0
}

// HoursOld is the age of a post in hours. Posts stamped in the future count
// as brand new.
func HoursOld(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		return 0
	}
	return age.Hours()
}

// RecencyPoints decays linearly and reaches zero after 50 hours.
func RecencyPoints(hoursOld float64) float64 {
	return math.Max(0, RecencyMaxPoints-RecencyDecayPerHour*math.Max(0, hoursOld))
}

// ProximityPoints gives a flat bonus strictly under 1 km and a linear decay
// beyond it. Unknown distance scores zero.
func ProximityPoints(distanceKm float64) float64 {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return 0
	}
	if distanceKm < NearbyThresholdKm {
		return NearbyPoints
	}
	return math.Max(0, ProximityMaxPoints-ProximityDecayPerKm*distanceKm)
}
