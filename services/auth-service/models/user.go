package models

import (
	"time"

	"gorm.io/gorm"

	"community-issue-feed/pkg/geo"
)

type User struct {
	ID          string         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email       string         `gorm:"uniqueIndex;not null" json:"email"`
	Password    string         `gorm:"not null" json:"-"`
	Name        string         `gorm:"not null" json:"name"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	IsVolunteer bool           `gorm:"not null;default:false;index" json:"is_volunteer"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Role is the name shown for the user's current role.
func (u *User) Role() string {
	if u.IsVolunteer {
		return "volunteer"
	}
	return "resident"
}

// Location is the user's home location, if they shared one.
func (u *User) Location() *geo.Location {
	if u.Latitude == nil || u.Longitude == nil {
		return nil
	}
	return &geo.Location{Latitude: *u.Latitude, Longitude: *u.Longitude}
}
