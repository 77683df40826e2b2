package model

import "time"

// DefaultAvatar is served whenever a user has no profile picture.
const DefaultAvatar = "/static/images/default_avatar.png"

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"uniqueIndex;type:varchar(150);not null" json:"username"`
	Password       string    `gorm:"type:varchar(128);not null" json:"-"` // bcrypt hash
	ProfilePicture string    `gorm:"type:varchar(255)" json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) DisplayImage() string {
	if u.ProfilePicture == "" {
		return DefaultAvatar
	}
	return u.ProfilePicture
}
