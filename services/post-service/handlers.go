package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/ranking"
	"community-issue-feed/pkg/response"
	"community-issue-feed/pkg/storage"
	"community-issue-feed/pkg/urgency"
	"community-issue-feed/services/post-service/models"
)

const (
	minTitleLength       = 5
	minDescriptionLength = 10

	// urgencyNotice is shown when a post was saved without an urgency level.
	urgencyNotice = "could not assess urgency"
)

type publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type imageUploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
	HealthCheck(ctx context.Context) error
}

type server struct {
	posts           postStore
	events          publisher
	images          imageUploader
	classifier      urgency.Classifier
	classifyTimeout time.Duration
	fetchLimit      int
	now             func() time.Time
}

// routes builds the HTTP API. Mutating endpoints require a token signed with
// secret.
func (s *server) routes(secret []byte) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware)

	authed := middleware.Auth(secret)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", middleware.GetMetricsHandler()).Methods(http.MethodGet)

	r.HandleFunc("/api/feed", s.feed).Methods(http.MethodGet)
	r.Handle("/api/posts", authed(http.HandlerFunc(s.createPost))).Methods(http.MethodPost)
	r.Handle("/api/posts/mine", authed(http.HandlerFunc(s.myPosts))).Methods(http.MethodGet)
	r.HandleFunc("/api/posts/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/posts/{id}", s.getPost).Methods(http.MethodGet)
	r.Handle("/api/posts/{id}/upvote", authed(http.HandlerFunc(s.upvote))).Methods(http.MethodPost)
	r.Handle("/api/posts/{id}/volunteer", authed(http.HandlerFunc(s.volunteer))).Methods(http.MethodPost)
	r.Handle("/api/posts/{id}/resolve", authed(http.HandlerFunc(s.resolve))).Methods(http.MethodPost)
	r.Handle("/api/uploads", authed(http.HandlerFunc(s.upload))).Methods(http.MethodPost)

	return r
}

// clock returns the current time at the precision MongoDB stores, so that
// optimistic updates can match on updated_at.
func (s *server) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.posts.Ping(ctx); err != nil {
		response.Error(w, http.StatusServiceUnavailable, "Database unavailable", err.Error())
		return
	}
	if err := s.images.HealthCheck(ctx); err != nil {
		response.Error(w, http.StatusServiceUnavailable, "Image storage unavailable", err.Error())
		return
	}
	response.Success(w, http.StatusOK, "ok", nil)
}

type createPostInput struct {
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	ImageURL    string   `json:"imageUrl"`
}

// validate checks the input and returns the parsed category and location.
func (in createPostInput) validate() (issue.Category, *geo.Location, error) {
	category, err := issue.ParseCategory(in.Category)
	if err != nil {
		return "", nil, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Title)) < minTitleLength {
		return "", nil, errors.New("title must be at least 5 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Description)) < minDescriptionLength {
		return "", nil, errors.New("description must be at least 10 characters")
	}
	if in.Latitude == nil || in.Longitude == nil {
		return "", nil, errors.New("location is required")
	}
	loc := &geo.Location{Latitude: *in.Latitude, Longitude: *in.Longitude}
	if !loc.Valid() {
		return "", nil, errors.New("location is out of range")
	}
	return category, loc, nil
}

func (s *server) createPost(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	logger := middleware.Logger(r)

	var input createPostInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	category, loc, err := input.validate()
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid post", err.Error())
		return
	}

	now := s.clock()
	post := &models.Post{
		ID:          primitive.NewObjectID(),
		AuthorID:    claims.UserID,
		AuthorName:  claims.Name,
		Category:    category,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		ImageURL:    input.ImageURL,
		Location:    loc,
		Status:      issue.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	notice := ""
	classification, err := s.classify(r.Context(), post)
	if err != nil {
		logger.Warn().Err(err).Str("post_id", post.ID.Hex()).Msg("post saved without urgency")
		notice = urgencyNotice
	} else {
		post.Urgency = classification.Level
		post.UrgencyReason = classification.Reason
	}

	if err := s.posts.Insert(r.Context(), post); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save post", err.Error())
		return
	}
	logger.Info().
		Str("post_id", post.ID.Hex()).
		Str("category", post.Category.String()).
		Str("urgency", post.Urgency.String()).
		Msg("post created")

	s.publish(r, events.PostCreated, post, claims.UserID)
	response.SuccessWithMeta(w, http.StatusCreated, "Post created successfully", post, nil, notice)
}

// classify asks the classifier once, bounded by classifyTimeout.
func (s *server) classify(ctx context.Context, p *models.Post) (urgency.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
	defer cancel()

	return s.classifier.Classify(ctx, urgency.Report{
		Category:    p.Category,
		Title:       p.Title,
		Description: p.Description,
	})
}

func (s *server) publish(r *http.Request, eventType string, p *models.Post, actorID string) {
	event := events.PostEvent{
		Type:       eventType,
		PostID:     p.ID.Hex(),
		AuthorID:   p.AuthorID,
		ActorID:    actorID,
		Title:      p.Title,
		Category:   p.Category,
		Urgency:    p.Urgency,
		Reason:     p.UrgencyReason,
		Status:     p.Status,
		Location:   p.Location,
		Upvotes:    p.Upvotes,
		Volunteers: p.Volunteers,
		OccurredAt: p.UpdatedAt,
	}

	logger := middleware.Logger(r)
	if err := s.events.Publish(r.Context(), eventType, event); err != nil {
		logger.Warn().Err(err).Str("event", eventType).Msg("post saved but event not published")
		return
	}
	logger.Debug().Str("event", eventType).Str("post_id", event.PostID).Msg("event published")
}

// feedItem is a post as shown in a feed. Distance is omitted when either
// side has no location.
type feedItem struct {
	*models.Post
	DistanceKm *float64 `json:"distanceKm,omitempty"`
	Score      float64  `json:"score"`
}

type feedMeta struct {
	Scope               ranking.Scope    `json:"scope"`
	RequestedSort       ranking.SortMode `json:"requestedSort"`
	Sort                ranking.SortMode `json:"sort"`
	DistanceSortEnabled bool             `json:"distanceSortEnabled"`
	RadiusKm            float64          `json:"radiusKm"`
	Count               int              `json:"count"`
}

func (s *server) feed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	viewer := geo.Parse(q.Get("lat"), q.Get("lng"))

	stored, err := s.posts.Recent(r.Context(), s.fetchLimit)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch posts", err.Error())
		return
	}

	byID := make(map[string]*models.Post, len(stored))
	candidates := make([]ranking.Post, len(stored))
	for i := range stored {
		byID[stored[i].ID.Hex()] = &stored[i]
		candidates[i] = stored[i].Ranking()
	}

	now := s.now()
	feed := ranking.Assemble(candidates, viewer, ranking.SortMode(q.Get("sort")), now)

	items := make([]feedItem, len(feed.Posts))
	for i, p := range feed.Posts {
		items[i] = feedItem{Post: byID[p.ID], Score: ranking.Score(p, now)}
		if p.DistanceKnown() {
			d := p.DistanceKm
			items[i].DistanceKm = &d
		}
	}

	middleware.RecordFeed(string(feed.Scope), string(feed.Mode), len(items))
	response.SuccessWithMeta(w, http.StatusOK, "Feed fetched successfully", items, feedMeta{
		Scope:               feed.Scope,
		RequestedSort:       feed.RequestedMode,
		Sort:                feed.Mode,
		DistanceSortEnabled: feed.DistanceSortAvailable(),
		RadiusKm:            ranking.RadiusKm,
		Count:               len(items),
	}, "")
}

func (s *server) myPosts(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	posts, err := s.posts.ByAuthor(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to fetch posts", err.Error())
		return
	}
	response.Success(w, http.StatusOK, "User posts fetched successfully", posts)
}

// statsWindow maps a timeRange parameter to a number of days.
func statsWindow(timeRange string) (string, int) {
	switch timeRange {
	case "7d":
		return timeRange, 7
	case "90d":
		return timeRange, 90
	default:
		return "30d", 30
	}
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	timeRange, days := statsWindow(r.URL.Query().Get("timeRange"))
	since := s.now().AddDate(0, 0, -days)

	stats, err := s.posts.Stats(r.Context(), since)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to aggregate posts", err.Error())
		return
	}
	response.SuccessWithMeta(w, http.StatusOK, "Post statistics", stats, map[string]string{"timeRange": timeRange}, "")
}

// loadPost resolves the {id} route variable. It writes the error response
// itself and returns nil on failure.
func (s *server) loadPost(w http.ResponseWriter, r *http.Request) *models.Post {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid post ID", err.Error())
		return nil
	}

	post, err := s.posts.Get(r.Context(), id)
	switch {
	case errors.Is(err, errNotFound):
		response.Error(w, http.StatusNotFound, "Post not found", "")
		return nil
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Failed to fetch post", err.Error())
		return nil
	}
	return post
}

func (s *server) getPost(w http.ResponseWriter, r *http.Request) {
	post := s.loadPost(w, r)
	if post == nil {
		return
	}
	response.Success(w, http.StatusOK, "Post fetched successfully", post)
}

// transition changes a post on behalf of userID and returns a message for
// the caller.
type transition func(p *models.Post, userID string, now time.Time) (string, error)

// mutate loads the post, applies fn and stores the result if nobody else
// changed the post in the meantime.
func (s *server) mutate(w http.ResponseWriter, r *http.Request, eventType string, fn transition) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	post := s.loadPost(w, r)
	if post == nil {
		return
	}

	prev := post.UpdatedAt
	message, err := fn(post, claims.UserID, s.clock())
	switch {
	case errors.Is(err, models.ErrNotAllowed):
		response.Error(w, http.StatusForbidden, "Forbidden", err.Error())
		return
	case errors.Is(err, models.ErrPostResolved), errors.Is(err, models.ErrNotResolvable), errors.Is(err, models.ErrVolunteering):
		response.Error(w, http.StatusConflict, "Post cannot be changed", err.Error())
		return
	case err != nil:
		response.Error(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	err = s.posts.Replace(r.Context(), post, prev)
	switch {
	case errors.Is(err, errConflict):
		response.Error(w, http.StatusConflict, "Post was changed by someone else, please retry", err.Error())
		return
	case errors.Is(err, errNotFound):
		response.Error(w, http.StatusNotFound, "Post not found", "")
		return
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Failed to update post", err.Error())
		return
	}

	s.publish(r, eventType, post, claims.UserID)
	response.Success(w, http.StatusOK, message, post)
}

func (s *server) upvote(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, events.PostUpdated, func(p *models.Post, userID string, now time.Time) (string, error) {
		upvoted, err := p.ToggleUpvote(userID, now)
		if err != nil {
			return "", err
		}
		if upvoted {
			return "Upvote added", nil
		}
		return "Upvote removed", nil
	})
}

func (s *server) volunteer(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, events.PostUpdated, func(p *models.Post, userID string, now time.Time) (string, error) {
		joined, err := p.ToggleVolunteer(userID, now)
		if err != nil {
			return "", err
		}
		if joined {
			return "You are now volunteering", nil
		}
		return "You are no longer volunteering", nil
	})
}

func (s *server) resolve(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	s.mutate(w, r, events.PostResolved, func(p *models.Post, userID string, now time.Time) (string, error) {
		if err := p.Resolve(userID, input.ImageURL, now); err != nil {
			return "", err
		}
		return "Post resolved", nil
	})
}

func (s *server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxImageBytes+1<<20)
	if err := r.ParseMultipartForm(storage.MaxImageBytes); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid upload", err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Missing image field", err.Error())
		return
	}
	defer file.Close()

	if header.Size > storage.MaxImageBytes {
		response.Error(w, http.StatusRequestEntityTooLarge, "Image too large", "")
		return
	}

	imageURL, err := s.images.Upload(r.Context(), file, header.Size, header.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, storage.ErrUnsupportedImage):
		response.Error(w, http.StatusUnsupportedMediaType, "Unsupported image type", err.Error())
		return
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Failed to upload image", err.Error())
		return
	}
	response.Success(w, http.StatusCreated, "Image uploaded", map[string]string{"url": imageURL})
}
