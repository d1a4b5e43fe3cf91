package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"community-issue-feed/pkg/issue"
	"community-issue-feed/services/post-service/models"
)

var (
	errNotFound = errors.New("post not found")
	errConflict = errors.New("post was modified concurrently")
)

// postStore persists posts.
type postStore interface {
	Insert(ctx context.Context, p *models.Post) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Post, error)
	Recent(ctx context.Context, limit int) ([]models.Post, error)
	ByAuthor(ctx context.Context, authorID string) ([]models.Post, error)
	// Replace stores p if the stored copy still carries prevUpdatedAt.
	Replace(ctx context.Context, p *models.Post, prevUpdatedAt time.Time) error
	Stats(ctx context.Context, since time.Time) (postStats, error)
	Ping(ctx context.Context) error
}

type postStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"byStatus"`
	ByUrgency  map[string]int64 `json:"byUrgency"`
	Upvotes    int64            `json:"totalUpvotes"`
	Volunteers int64            `json:"totalVolunteers"`

	// ResolutionRate is the resolved share of Total, in percent.
	ResolutionRate float64 `json:"resolutionRate"`
}

type mongoStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func newMongoStore(db *mongo.Database) *mongoStore {
	return &mongoStore{db: db, coll: db.Collection("posts")}
}

// ensureIndexes creates the indexes the feed and author queries rely on.
func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create post indexes: %w", err)
	}
	return nil
}

func (s *mongoStore) Insert(ctx context.Context, p *models.Post) error {
	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (s *mongoStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	var p models.Post
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch post: %w", err)
	}
	return &p, nil
}

func (s *mongoStore) Recent(ctx context.Context, limit int) ([]models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts)
}

func (s *mongoStore) ByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.find(ctx, bson.M{"author_id": authorID}, opts)
}

func (s *mongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Post, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	defer cursor.Close(ctx)

	posts := []models.Post{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return posts, nil
}

func (s *mongoStore) Replace(ctx context.Context, p *models.Post, prevUpdatedAt time.Time) error {
	result, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID, "updated_at": prevUpdatedAt}, p)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": p.ID})
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if n == 0 {
		return errNotFound
	}
	return errConflict
}

func (s *mongoStore) Stats(ctx context.Context, since time.Time) (postStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":        bson.M{"status": "$status", "urgency": "$urgency"},
			"count":      bson.M{"$sum": 1},
			"upvotes":    bson.M{"$sum": "$upvotes"},
			"volunteers": bson.M{"$sum": "$volunteers"},
		}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return postStats{}, fmt.Errorf("failed to aggregate posts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []statsRow
	if err := cursor.All(ctx, &rows); err != nil {
		return postStats{}, fmt.Errorf("failed to read aggregation: %w", err)
	}
	return summarize(rows), nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

type statsRow struct {
	Key struct {
		Status  string `bson:"status"`
		Urgency string `bson:"urgency"`
	} `bson:"_id"`
	Count      int64 `bson:"count"`
	Upvotes    int64 `bson:"upvotes"`
	Volunteers int64 `bson:"volunteers"`
}

// summarize folds (status, urgency) groups into postStats.
func summarize(rows []statsRow) postStats {
	stats := postStats{
		ByStatus:  map[string]int64{},
		ByUrgency: map[string]int64{},
	}
	for _, row := range rows {
		urgencyKey := row.Key.Urgency
		if urgencyKey == "" {
			urgencyKey = "unclassified"
		}
		stats.Total += row.Count
		stats.ByStatus[row.Key.Status] += row.Count
		stats.ByUrgency[urgencyKey] += row.Count
		stats.Upvotes += row.Upvotes
		stats.Volunteers += row.Volunteers
	}
	if stats.Total > 0 {
		resolved := stats.ByStatus[string(issue.StatusResolved)]
		stats.ResolutionRate = float64(resolved) / float64(stats.Total) * 100
	}
	return stats
}
