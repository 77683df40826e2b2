package model

import (
	"sort"
	"time"
)

type Ticket struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"type:varchar(128);not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Image       string    `gorm:"type:varchar(255)" json:"image,omitempty"`
	UserID      uint      `gorm:"not null;index:idx_tickets_user_created,priority:1" json:"user_id"`
	User        User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user"`
	CreatedAt   time.Time `gorm:"index:idx_tickets_user_created,priority:2" json:"created_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// Review answers a ticket. A user reviews a given ticket at most once.
type Review struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"not null;uniqueIndex:idx_reviews_ticket_user,priority:1" json:"ticket_id"`
	Ticket    Ticket    `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"ticket"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reviews_ticket_user,priority:2;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user"`
	Headline  string    `gorm:"type:varchar(128);not null" json:"headline"`
	Rating    int       `gorm:"type:smallint;not null" json:"rating"`
	Body      string    `gorm:"type:text" json:"body"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Review) TableName() string {
	return "reviews"
}

const (
	RatingMin = 0
	RatingMax = 5
)

type PostType string

const (
	PostTypeTicket PostType = "ticket"
	PostTypeReview PostType = "review"
)

// Post is a feed entry: exactly one of Ticket or Review is set, matching Type.
type Post struct {
	Type   PostType `json:"type"`
	Ticket *Ticket  `json:"ticket,omitempty"`
	Review *Review  `json:"review,omitempty"`
}

func TicketPost(t *Ticket) Post {
	return Post{Type: PostTypeTicket, Ticket: t}
}

func ReviewPost(r *Review) Post {
	return Post{Type: PostTypeReview, Review: r}
}

func (p Post) CreatedAt() time.Time {
	if p.Type == PostTypeReview {
		return p.Review.CreatedAt
	}
	return p.Ticket.CreatedAt
}

func (p Post) AuthorID() uint {
	if p.Type == PostTypeReview {
		return p.Review.UserID
	}
	return p.Ticket.UserID
}

// MergePosts tags tickets and reviews and sorts them newest first.
// Entries with equal timestamps keep tickets-then-reviews input order.
func MergePosts(tickets []*Ticket, reviews []*Review) []Post {
	posts := make([]Post, 0, len(tickets)+len(reviews))
	for _, t := range tickets {
		posts = append(posts, TicketPost(t))
	}
	for _, r := range reviews {
		posts = append(posts, ReviewPost(r))
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt().After(posts[j].CreatedAt())
	})
	return posts
}
