package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"community-issue-feed/pkg/geo"
	"community-issue-feed/services/auth-service/models"
)

var (
	errUserNotFound = errors.New("user not found")
	errEmailTaken   = errors.New("email already registered")
)

type userStore interface {
	Create(ctx context.Context, u *models.User) error
	ByEmail(ctx context.Context, email string) (*models.User, error)
	ByID(ctx context.Context, id string) (*models.User, error)
	SetVolunteer(ctx context.Context, id string, volunteer bool) error
	SetLocation(ctx context.Context, id string, loc geo.Location) error
	// Volunteers lists volunteers who shared a location.
	Volunteers(ctx context.Context) ([]models.User, error)
	Count(ctx context.Context, volunteersOnly bool) (int64, error)
	Ping(ctx context.Context) error
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) Create(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *gormStore) ByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *gormStore) ByID(ctx context.Context, id string) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *gormStore) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func (s *gormStore) SetVolunteer(ctx context.Context, id string, volunteer bool) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("is_volunteer", volunteer)
	if result.Error != nil {
		return fmt.Errorf("failed to update role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errUserNotFound
	}
	return nil
}

func (s *gormStore) SetLocation(ctx context.Context, id string, loc geo.Location) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errUserNotFound
	}
	return nil
}

func (s *gormStore) Volunteers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_volunteer = ? AND latitude IS NOT NULL AND longitude IS NOT NULL", true).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list volunteers: %w", err)
	}
	return users, nil
}

func (s *gormStore) Count(ctx context.Context, volunteersOnly bool) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{})
	if volunteersOnly {
		q = q.Where("is_volunteer = ?", true)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
