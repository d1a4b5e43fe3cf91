package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"community-issue-feed/pkg/events"
	"community-issue-feed/pkg/geo"
	"community-issue-feed/pkg/issue"
	"community-issue-feed/pkg/middleware"
	"community-issue-feed/pkg/storage"
	"community-issue-feed/pkg/urgency"
	"community-issue-feed/services/post-service/models"
)

var (
	testSecret = []byte("test-secret")
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	downtown   = geo.Location{Latitude: 34.0522, Longitude: -118.2437}
)

type memStore struct {
	mu       sync.Mutex
	posts    map[primitive.ObjectID]models.Post
	conflict bool
}

func newMemStore() *memStore {
	return &memStore{posts: map[primitive.ObjectID]models.Post{}}
}

func (m *memStore) Insert(_ context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = clonePost(*p)
	return nil
}

func (m *memStore) Get(_ context.Context, id primitive.ObjectID) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, errNotFound
	}
	p = clonePost(p)
	return &p, nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, clonePost(p))
	}
	slices.SortFunc(out, func(a, b models.Post) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ByAuthor(_ context.Context, authorID string) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Post{}
	for _, p := range m.posts {
		if p.AuthorID == authorID {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (m *memStore) Replace(_ context.Context, p *models.Post, prev time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.posts[p.ID]
	if !ok {
		return errNotFound
	}
	if m.conflict || !stored.UpdatedAt.Equal(prev) {
		return errConflict
	}
	m.posts[p.ID] = clonePost(*p)
	return nil
}

func (m *memStore) Stats(context.Context, time.Time) (postStats, error) {
	return postStats{}, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) stored(t *testing.T, id string) models.Post {
	t.Helper()
	oid, err := primitive.ObjectIDFromHex(id)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[oid]
	require.True(t, ok, "post %s not stored", id)
	return p
}

func clonePost(p models.Post) models.Post {
	p.UpvotedBy = slices.Clone(p.UpvotedBy)
	p.VolunteerIDs = slices.Clone(p.VolunteerIDs)
	return p
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PostEvent
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := payload.(events.PostEvent)
	if event.Type != routingKey {
		return fmt.Errorf("routing key %q does not match event type %q", routingKey, event.Type)
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fakeImages struct {
	err error
}

func (f *fakeImages) Upload(_ context.Context, r io.Reader, _ int64, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if contentType != "image/png" {
		return "", storage.ErrUnsupportedImage
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "https://cdn.example.com/post-images/posts/2026-03-01/x.png", nil
}

func (f *fakeImages) HealthCheck(context.Context) error { return nil }

type fixture struct {
	store     *memStore
	events    *recordingPublisher
	images    *fakeImages
	calls     *atomic.Int32
	handler   http.Handler
	classify  func(urgency.Report) (urgency.Classification, error)
	classifyM sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(),
		events: &recordingPublisher{},
		images: &fakeImages{},
		calls:  &atomic.Int32{},
	}
	f.classify = func(urgency.Report) (urgency.Classification, error) {
		return urgency.Classification{Level: urgency.LevelMedium, Reason: "affects traffic"}, nil
	}

	srv := &server{
		posts:  f.store,
		events: f.events,
		images: f.images,
		classifier: urgency.ClassifierFunc(func(_ context.Context, r urgency.Report) (urgency.Classification, error) {
			f.calls.Add(1)
			f.classifyM.Lock()
			defer f.classifyM.Unlock()
			return f.classify(r)
		}),
		classifyTimeout: time.Second,
		fetchLimit:      50,
		now:             func() time.Time { return testNow },
	}
	f.handler = srv.routes(testSecret)
	return f
}

func token(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: userID,
		Email:  userID + "@example.com",
		Name:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Notice  string          `json:"notice"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, body, user string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

const validPost = `{"category":"Potholes","title":"Deep pothole on Main St","description":"A deep pothole near the crosswalk is damaging cars.","latitude":34.0522,"longitude":-118.2437}`

func (f *fixture) create(t *testing.T, body, user string) models.Post {
	t.Helper()
	rec, env := f.do(t, http.MethodPost, "/api/posts", body, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p models.Post
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

// seed stores a post directly, bypassing classification.
func (f *fixture) seed(p models.Post) models.Post {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.Status == "" {
		p.Status = issue.StatusOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = testNow.Add(-time.Hour)
	}
	p.UpdatedAt = p.CreatedAt
	_ = f.store.Insert(context.Background(), &p)
	return p
}

func TestCreatePost(t *testing.T) {
	f := newFixture(t)

	p := f.create(t, validPost, "alice")

	assert.Equal(t, "alice", p.AuthorID)
	assert.Equal(t, issue.CategoryPotholes, p.Category)
	assert.Equal(t, urgency.LevelMedium, p.Urgency)
	assert.Equal(t, "affects traffic", p.UrgencyReason)
	assert.Equal(t, issue.StatusOpen, p.Status)
	require.NotNil(t, p.Location)
	assert.Equal(t, downtown, *p.Location)

	stored := f.store.stored(t, p.ID.Hex())
	assert.Equal(t, urgency.LevelMedium, stored.Urgency)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, []string{events.PostCreated}, f.events.types())
}

func TestCreatePost_ClassifierFailureKeepsPost(t *testing.T) {
	f := newFixture(t)
	f.classify = func(urgency.Report) (urgency.Classification, error) {
		return urgency.Classification{}, urgency.ErrUnavailable
	}

	rec, env := f.do(t, http.MethodPost, "/api/posts", validPost, "alice")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, urgencyNotice, env.Notice)

	var p models.Post
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, urgency.LevelNone, p.Urgency)
	assert.Equal(t, urgency.LevelNone, f.store.stored(t, p.ID.Hex()).Urgency)
	assert.EqualValues(t, 1, f.calls.Load(), "classification is not retried")
}

func TestCreatePost_ClassifierGetsReport(t *testing.T) {
	f := newFixture(t)
	var got urgency.Report
	f.classify = func(r urgency.Report) (urgency.Classification, error) {
		got = r
		return urgency.Classification{Level: urgency.LevelHigh}, nil
	}

	f.create(t, validPost, "alice")

	assert.Equal(t, urgency.Report{
		Category:    issue.CategoryPotholes,
		Title:       "Deep pothole on Main St",
		Description: "A deep pothole near the crosswalk is damaging cars.",
	}, got)
}

func TestCreatePost_Validation(t *testing.T) {
	tests := map[string]string{
		"short title":       `{"category":"Potholes","title":"Hole","description":"A deep pothole near the crosswalk.","latitude":1,"longitude":1}`,
		"short description": `{"category":"Potholes","title":"Deep pothole","description":"Big hole","latitude":1,"longitude":1}`,
		"unknown category":  `{"category":"Graffiti","title":"Deep pothole","description":"A deep pothole near the crosswalk.","latitude":1,"longitude":1}`,
		"missing location":  `{"category":"Potholes","title":"Deep pothole","description":"A deep pothole near the crosswalk."}`,
		"invalid latitude":  `{"category":"Potholes","title":"Deep pothole","description":"A deep pothole near the crosswalk.","latitude":123,"longitude":1}`,
		"malformed json":    `{"category":`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			rec, env := f.do(t, http.MethodPost, "/api/posts", body, "alice")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", env.Status)
			assert.Zero(t, f.calls.Load())
			assert.Empty(t, f.events.types())
		})
	}
}

func TestCreatePost_RequiresToken(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/posts", validPost, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type feedResponse struct {
	items []map[string]any
	meta  feedMeta
}

func (f *fixture) feed(t *testing.T, query string) feedResponse {
	t.Helper()
	rec, env := f.do(t, http.MethodGet, "/api/feed"+query, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out feedResponse
	require.NoError(t, json.Unmarshal(env.Data, &out.items))
	require.NoError(t, json.Unmarshal(env.Meta, &out.meta))
	return out
}

func (r feedResponse) titles() []string {
	out := make([]string, len(r.items))
	for i, item := range r.items {
		out[i], _ = item["title"].(string)
	}
	return out
}

func TestFeed_GlobalWithoutLocation(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Post{Title: "quiet", Location: &downtown, CreatedAt: testNow.Add(-2 * time.Hour)})
	f.seed(models.Post{Title: "urgent", Location: &downtown, Urgency: urgency.LevelHigh, CreatedAt: testNow.Add(-3 * time.Hour)})
	f.seed(models.Post{Title: "nowhere", CreatedAt: testNow.Add(-time.Hour)})

	got := f.feed(t, "?sort=distance")

	assert.Equal(t, feedMeta{
		Scope:               "global",
		RequestedSort:       "distance",
		Sort:                "priority",
		DistanceSortEnabled: false,
		RadiusKm:            10,
		Count:               3,
	}, got.meta)
	assert.Equal(t, []string{"urgent", "nowhere", "quiet"}, got.titles())
	for _, item := range got.items {
		assert.NotContains(t, item, "distanceKm")
	}
}

func TestFeed_NearbyFiltersByRadius(t *testing.T) {
	f := newFixture(t)
	far := geo.Location{Latitude: downtown.Latitude + 1, Longitude: downtown.Longitude}
	near := geo.Location{Latitude: downtown.Latitude + 0.02, Longitude: downtown.Longitude}
	f.seed(models.Post{Title: "here", Location: &downtown, CreatedAt: testNow.Add(-2 * time.Hour)})
	f.seed(models.Post{Title: "close", Location: &near, CreatedAt: testNow.Add(-time.Hour)})
	f.seed(models.Post{Title: "far", Location: &far})
	f.seed(models.Post{Title: "nowhere"})

	got := f.feed(t, "?sort=distance&lat=34.0522&lng=-118.2437")

	assert.Equal(t, "nearby", string(got.meta.Scope))
	assert.Equal(t, "distance", string(got.meta.Sort))
	assert.True(t, got.meta.DistanceSortEnabled)
	assert.Equal(t, []string{"here", "close"}, got.titles())
	assert.InDelta(t, 0, got.items[0]["distanceKm"], 1e-9)
	assert.InDelta(t, 2.22, got.items[1]["distanceKm"], 0.01)
}

func TestFeed_UnusableLocationFallsBackToGlobal(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Post{Title: "anything", Location: &downtown})

	for _, query := range []string{"?lat=abc&lng=1", "?lat=34", "?lat=91&lng=0", "?lat=NaN&lng=0"} {
		got := f.feed(t, query)
		assert.Equal(t, "global", string(got.meta.Scope), query)
		assert.Len(t, got.items, 1, query)
	}
}

func TestFeed_UnknownSortIsPriority(t *testing.T) {
	f := newFixture(t)
	got := f.feed(t, "?sort=hot")
	assert.Equal(t, "priority", string(got.meta.RequestedSort))
	assert.Equal(t, "priority", string(got.meta.Sort))
	assert.Empty(t, got.items)
}

func TestFeed_RespectsFetchLimit(t *testing.T) {
	f := newFixture(t)
	for i := range 60 {
		f.seed(models.Post{Title: fmt.Sprintf("post %d", i), CreatedAt: testNow.Add(-time.Duration(i) * time.Minute)})
	}

	got := f.feed(t, "?sort=latest")
	require.Len(t, got.items, 50)
	assert.Equal(t, "post 0", got.titles()[0])
	assert.Equal(t, "post 49", got.titles()[49])
}

func TestGetPost(t *testing.T) {
	f := newFixture(t)
	p := f.seed(models.Post{Title: "lamp out"})

	rec, _ := f.do(t, http.MethodGet, "/api/posts/"+p.ID.Hex(), "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/posts/not-an-id", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/posts/"+primitive.NewObjectID().Hex(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMyPosts(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Post{Title: "mine", AuthorID: "alice"})
	f.seed(models.Post{Title: "theirs", AuthorID: "bob"})

	rec, env := f.do(t, http.MethodGet, "/api/posts/mine", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var posts []models.Post
	require.NoError(t, json.Unmarshal(env.Data, &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "mine", posts[0].Title)
}

func TestUpvoteToggles(t *testing.T) {
	f := newFixture(t)
	p := f.seed(models.Post{Title: "lamp out", AuthorID: "alice"})
	path := "/api/posts/" + p.ID.Hex() + "/upvote"

	rec, env := f.do(t, http.MethodPost, path, "", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Upvote added", env.Message)
	assert.Equal(t, 1, f.store.stored(t, p.ID.Hex()).Upvotes)

	rec, env = f.do(t, http.MethodPost, path, "", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Upvote removed", env.Message)
	assert.Equal(t, 0, f.store.stored(t, p.ID.Hex()).Upvotes)

	assert.Equal(t, []string{events.PostUpdated, events.PostUpdated}, f.events.types())
}

func TestVolunteerThenResolve(t *testing.T) {
	f := newFixture(t)
	p := f.seed(models.Post{Title: "lamp out", AuthorID: "alice"})
	base := "/api/posts/" + p.ID.Hex()

	rec, _ := f.do(t, http.MethodPost, base+"/resolve", "", "alice")
	assert.Equal(t, http.StatusConflict, rec.Code, "open posts cannot be resolved")

	rec, _ = f.do(t, http.MethodPost, base+"/volunteer", "", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, issue.StatusInProgress, f.store.stored(t, p.ID.Hex()).Status)

	rec, _ = f.do(t, http.MethodPost, base+"/upvote", "", "bob")
	assert.Equal(t, http.StatusConflict, rec.Code, "volunteers cannot upvote")

	rec, _ = f.do(t, http.MethodPost, base+"/resolve", "", "carol")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodPost, base+"/resolve", `{"imageUrl":"https://img/fixed.jpg"}`, "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	stored := f.store.stored(t, p.ID.Hex())
	assert.Equal(t, issue.StatusResolved, stored.Status)
	assert.Equal(t, "bob", stored.ResolvedBy)
	assert.Equal(t, "https://img/fixed.jpg", stored.ResolvedImage)

	rec, _ = f.do(t, http.MethodPost, base+"/upvote", "", "dave")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{events.PostUpdated, events.PostResolved}, f.events.types())
}

func TestMutationLosesRace(t *testing.T) {
	f := newFixture(t)
	p := f.seed(models.Post{Title: "lamp out"})
	f.store.conflict = true

	rec, _ := f.do(t, http.MethodPost, "/api/posts/"+p.ID.Hex()+"/upvote", "", "bob")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.events.types())
}

func multipartImage(t *testing.T, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("not really an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	tests := []struct {
		contentType string
		want        int
	}{
		{"image/png", http.StatusCreated},
		{"application/pdf", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			f := newFixture(t)
			body, formType := multipartImage(t, tt.contentType)

			req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
			req.Header.Set("Content-Type", formType)
			req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)
}

func TestStatsWindow(t *testing.T) {
	for in, want := range map[string]int{"7d": 7, "30d": 30, "90d": 90, "": 30, "1y": 30} {
		_, days := statsWindow(in)
		assert.Equal(t, want, days, in)
	}
}

func TestSummarize(t *testing.T) {
	row := func(status, level string, count, upvotes, volunteers int64) statsRow {
		var r statsRow
		r.Key.Status = status
		r.Key.Urgency = level
		r.Count = count
		r.Upvotes = upvotes
		r.Volunteers = volunteers
		return r
	}

	stats := summarize([]statsRow{
		row("open", "high", 2, 10, 0),
		row("resolved", "high", 1, 4, 2),
		row("resolved", "", 1, 0, 1),
	})

	assert.EqualValues(t, 4, stats.Total)
	assert.Equal(t, map[string]int64{"open": 2, "resolved": 2}, stats.ByStatus)
	assert.Equal(t, map[string]int64{"high": 3, "unclassified": 1}, stats.ByUrgency)
	assert.EqualValues(t, 14, stats.Upvotes)
	assert.EqualValues(t, 3, stats.Volunteers)
	assert.InDelta(t, 50, stats.ResolutionRate, 1e-9)
}
