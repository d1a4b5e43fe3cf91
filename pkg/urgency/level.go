package urgency

import (
	"fmt"
	"strings"
)

// Level is the ordinal urgency of an issue. The zero value means the post
// has not been classified.
type Level string

const (
	LevelNone   Level = ""
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel normalizes case and whitespace and accepts exactly one of the
// three levels.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow, nil
	case LevelMedium:
		return LevelMedium, nil
	case LevelHigh:
		return LevelHigh, nil
	}
	return LevelNone, fmt.Errorf("invalid urgency level %q", s)
}

// Rank orders levels: 0 for unclassified, then low < medium < high.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	}
	return 0
}

// Known reports whether l is one of the three classified levels.
func (l Level) Known() bool { return l.Rank() > 0 }

func (l Level) String() string {
	if l == LevelNone {
		return "unclassified"
	}
	return string(l)
}
