package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-issue-feed/pkg/issue"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openPost() *Post {
	return &Post{AuthorID: "author", Status: issue.StatusOpen}
}

func TestToggleUpvote(t *testing.T) {
	p := openPost()

	upvoted, err := p.ToggleUpvote("u1", now)
	require.NoError(t, err)
	assert.True(t, upvoted)
	assert.Equal(t, 1, p.Upvotes)
	assert.True(t, p.HasUpvoted("u1"))
	assert.Equal(t, now, p.UpdatedAt)

	upvoted, err = p.ToggleUpvote("u1", now)
	require.NoError(t, err)
	assert.False(t, upvoted)
	assert.Equal(t, 0, p.Upvotes)
	assert.False(t, p.HasUpvoted("u1"))
}

func TestToggleUpvoteCountsDistinctUsers(t *testing.T) {
	p := openPost()
	for _, id := range []string{"a", "b", "c"} {
		_, err := p.ToggleUpvote(id, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Upvotes)
}

func TestToggleVolunteerMovesStatus(t *testing.T) {
	p := openPost()
	_, err := p.ToggleUpvote("u1", now)
	require.NoError(t, err)

	joined, err := p.ToggleVolunteer("u1", now)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, 1, p.Volunteers)
	assert.Equal(t, issue.StatusInProgress, p.Status)
	assert.False(t, p.HasUpvoted("u1"), "volunteering replaces the upvote")
	assert.Equal(t, 0, p.Upvotes)

	joined, err = p.ToggleVolunteer("u1", now)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Equal(t, 0, p.Volunteers)
	assert.Equal(t, issue.StatusOpen, p.Status)
}

func TestVolunteerCannotUpvote(t *testing.T) {
	p := openPost()
	_, err := p.ToggleVolunteer("u1", now)
	require.NoError(t, err)

	_, err = p.ToggleUpvote("u1", now)
	assert.ErrorIs(t, err, ErrVolunteering)
	assert.Equal(t, 0, p.Upvotes)
}

func TestToggleVolunteerStaysInProgressWithOthers(t *testing.T) {
	p := openPost()
	_, _ = p.ToggleVolunteer("a", now)
	_, _ = p.ToggleVolunteer("b", now)
	_, err := p.ToggleVolunteer("a", now)
	require.NoError(t, err)

	assert.Equal(t, 1, p.Volunteers)
	assert.Equal(t, issue.StatusInProgress, p.Status)
}

func TestResolve(t *testing.T) {
	t.Run("open post cannot be resolved", func(t *testing.T) {
		p := openPost()
		assert.ErrorIs(t, p.Resolve("author", "", now), ErrNotResolvable)
	})

	t.Run("stranger cannot resolve", func(t *testing.T) {
		p := openPost()
		_, _ = p.ToggleVolunteer("helper", now)
		assert.ErrorIs(t, p.Resolve("stranger", "", now), ErrNotAllowed)
	})

	t.Run("volunteer resolves with proof", func(t *testing.T) {
		p := openPost()
		_, _ = p.ToggleVolunteer("helper", now)

		require.NoError(t, p.Resolve("helper", "https://img/done.jpg", now))
		assert.Equal(t, issue.StatusResolved, p.Status)
		assert.Equal(t, "helper", p.ResolvedBy)
		assert.Equal(t, "https://img/done.jpg", p.ResolvedImage)
		require.NotNil(t, p.ResolvedAt)
		assert.Equal(t, now, *p.ResolvedAt)
	})

	t.Run("author resolves", func(t *testing.T) {
		p := openPost()
		_, _ = p.ToggleVolunteer("helper", now)
		require.NoError(t, p.Resolve("author", "", now))
	})
}

func TestResolvedPostIsFrozen(t *testing.T) {
	p := openPost()
	_, _ = p.ToggleVolunteer("helper", now)
	require.NoError(t, p.Resolve("helper", "", now))

	_, err := p.ToggleUpvote("u1", now)
	assert.ErrorIs(t, err, ErrPostResolved)
	_, err = p.ToggleVolunteer("u2", now)
	assert.ErrorIs(t, err, ErrPostResolved)
	assert.ErrorIs(t, p.Resolve("helper", "", now), ErrPostResolved)
}

func TestRankingView(t *testing.T) {
	p := openPost()
	p.Title = "Overflowing bin"
	p.Category = issue.CategoryGarbage
	p.Upvotes = 4
	p.CreatedAt = now

	r := p.Ranking()
	assert.Equal(t, p.ID.Hex(), r.ID)
	assert.Equal(t, "Overflowing bin", r.Title)
	assert.Equal(t, issue.CategoryGarbage, r.Category)
	assert.Equal(t, 4, r.Upvotes)
	assert.Equal(t, now, r.CreatedAt)
	assert.Nil(t, r.Location)
}
