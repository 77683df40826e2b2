package model

import "time"

// UserFollows is the directed edge "UserID follows FollowedUserID".
type UserFollows struct {
	UserID         uint      `gorm:"primaryKey;autoIncrement:false"`
	FollowedUserID uint      `gorm:"primaryKey;autoIncrement:false;index"`
	User           User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	FollowedUser   User      `gorm:"foreignKey:FollowedUserID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
}

func (UserFollows) TableName() string {
	return "user_follows"
}

// UserBlock is the directed edge "UserID blocks BlockedUserID".
type UserBlock struct {
	UserID        uint      `gorm:"primaryKey;autoIncrement:false"`
	BlockedUserID uint      `gorm:"primaryKey;autoIncrement:false;index"`
	User          User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	BlockedUser   User      `gorm:"foreignKey:BlockedUserID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time
}

func (UserBlock) TableName() string {
	return "user_blocks"
}
