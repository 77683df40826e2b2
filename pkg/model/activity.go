package model

import (
	"time"
	"unicode/utf8"
)

const (
	ActivityTicketCreated = "ticket_created"
	ActivityReviewCreated = "review_created"
	ActivityUserFollowed  = "user_followed"
	ActivityUserBlocked   = "user_blocked"
)

// ActivityEvent is published to the activity topic after a successful mutation.
type ActivityEvent struct {
	Type      string    `json:"type"`
	ActorID   uint      `json:"actor_id"`
	SubjectID uint      `json:"subject_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FailedActivity is an event the broker refused. The recover worker resends it.
type FailedActivity struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type        string    `gorm:"type:varchar(32);index" json:"type"`
	ActorID     uint      `gorm:"index" json:"actor_id"`
	Payload     string    `gorm:"type:text" json:"payload"`
	ErrorReason string    `gorm:"type:varchar(255)" json:"error_reason"`
	Attempts    int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (FailedActivity) TableName() string {
	return "failed_activities"
}

const maxErrorReason = 255

// TruncateReason cuts reason to fit ErrorReason, backing off to a rune start.
func TruncateReason(reason string) string {
	if len(reason) <= maxErrorReason {
		return reason
	}
	i := maxErrorReason
	for i > 0 && !utf8.RuneStart(reason[i]) {
		i--
	}
	return reason[:i]
}
