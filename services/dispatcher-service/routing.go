package main

import (
	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/urgency"
)

// Responder desks.
const (
	DeskSanitation = "SANITATION"
	DeskRoads      = "PUBLIC WORKS (ROADS)"
	DeskWater      = "WATER UTILITY"
	DeskCommunity  = "COMMUNITY DESK"
	DeskGeneral    = "GENERAL SERVICES"
)

// Assignment is where a new post goes.
type Assignment struct {
	Desk string `json:"desk"`
	// Escalated posts are paged to the desk's on-call responder.
	Escalated bool `json:"escalated"`
	// Triage marks posts without an urgency level for a human to assess.
	Triage bool `json:"triage"`
}

// Priority is the metric label for the assignment.
func (a Assignment) Priority() string {
	switch {
	case a.Escalated:
		return "escalated"
	case a.Triage:
		return "triage"
	default:
		return "routine"
	}
}

func deskFor(c issue.Category) string {
	switch c {
	case issue.CategoryGarbage:
		return DeskSanitation
	case issue.CategoryPotholes:
		return DeskRoads
	case issue.CategoryWater:
		return DeskWater
	case issue.CategoryLostFound, issue.CategoryEvent, issue.CategoryNews:
		return DeskCommunity
	default:
		return DeskGeneral
	}
}

// route decides the desk for a created post.
func route(ev events.PostEvent) Assignment {
	return Assignment{
		Desk:      deskFor(ev.Category),
		Escalated: ev.Urgency == urgency.LevelHigh,
		Triage:    !ev.Urgency.Known(),
	}
}
