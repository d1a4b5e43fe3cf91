// Package urgency infers how urgent a community issue report is.
//
// Classification is delegated to a text-generation service. The result is
// not deterministic, so callers classify a post once when it is created and
// store the outcome with it.
package urgency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"community-issue-feed/pkg/issue"
)

var (
	// ErrUnavailable means the service could not be reached or refused the call.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrTimeout means the call did not finish before its deadline.
	ErrTimeout = errors.New("classifier timed out")
	// ErrMalformed means the service answered with something that is not a
	// valid classification.
	ErrMalformed = errors.New("malformed classification")
)

// Report is the text submitted for classification.
type Report struct {
	Category    issue.Category
	Title       string
	Description string
}

// Classification is the service's verdict on a report.
type Classification struct {
	Level  Level  `json:"urgencyLevel"`
	Reason string `json:"reason"`
}

// Classifier assigns an urgency level to a report.
type Classifier interface {
	Classify(ctx context.Context, report Report) (Classification, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, report Report) (Classification, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, report Report) (Classification, error) {
	return f(ctx, report)
}

// ClassificationError describes a failed classification. Kind is one of
// ErrUnavailable, ErrTimeout or ErrMalformed.
type ClassificationError struct {
	Kind error
	Err  error
}

func (e *ClassificationError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *ClassificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind, err error) *ClassificationError {
	return &ClassificationError{Kind: kind, Err: err}
}

// Outcome names the result of a classification call for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

// ParseClassification decodes a service answer of the form
// {"urgencyLevel": "...", "reason": "..."}. The object may be wrapped in a
// markdown code fence. Anything else is ErrMalformed.
func ParseClassification(raw string) (Classification, error) {
	content := stripCodeFence(raw)

	var out struct {
		UrgencyLevel *string `json:"urgencyLevel"`
		Reason       *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Classification{}, newError(ErrMalformed, fmt.Errorf("decode answer: %w", err))
	}
	if out.UrgencyLevel == nil {
		return Classification{}, newError(ErrMalformed, errors.New("missing urgencyLevel"))
	}
	level, err := ParseLevel(*out.UrgencyLevel)
	if err != nil {
		return Classification{}, newError(ErrMalformed, err)
	}
	if out.Reason == nil || strings.TrimSpace(*out.Reason) == "" {
		return Classification{}, newError(ErrMalformed, errors.New("missing reason"))
	}

	return Classification{Level: level, Reason: strings.TrimSpace(*out.Reason)}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
