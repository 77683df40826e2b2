package repository

import (
	"context"
	"fmt"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"gorm.io/gorm"
)

type PostRepository interface {
	CreateTicket(ctx context.Context, ticket *model.Ticket) error
	GetTicket(ctx context.Context, id uint) (*model.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *model.Ticket) error
	DeleteTicket(ctx context.Context, id uint) error

	CreateReview(ctx context.Context, review *model.Review) error
	CreateTicketWithReview(ctx context.Context, ticket *model.Ticket, review *model.Review) error
	GetReview(ctx context.Context, id uint) (*model.Review, error)
	UpdateReview(ctx context.Context, review *model.Review) error
	DeleteReview(ctx context.Context, id uint) error
	HasReviewed(ctx context.Context, ticketID, userID uint) (bool, error)

	ListTicketsByAuthors(ctx context.Context, authorIDs, excludeAuthorIDs []uint) ([]*model.Ticket, error)
	ListFeedReviews(ctx context.Context, userIDs, excludeAuthorIDs []uint) ([]*model.Review, error)
	ListTicketsByUser(ctx context.Context, userID uint) ([]*model.Ticket, error)
	ListReviewsByUser(ctx context.Context, userID uint) ([]*model.Review, error)
	ReviewedTicketIDs(ctx context.Context, ticketIDs []uint) ([]uint, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) CreateTicket(ctx context.Context, ticket *model.Ticket) error {
	return r.db.WithContext(ctx).Omit("User").Create(ticket).Error
}

func (r *postRepository) GetTicket(ctx context.Context, id uint) (*model.Ticket, error) {
	var ticket model.Ticket
	if err := r.db.WithContext(ctx).Preload("User").First(&ticket, id).Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *postRepository) UpdateTicket(ctx context.Context, ticket *model.Ticket) error {
	res := r.db.WithContext(ctx).Model(&model.Ticket{ID: ticket.ID}).
		Select("title", "description", "image").
		Updates(map[string]interface{}{
			"title":       ticket.Title,
			"description": ticket.Description,
			"image":       ticket.Image,
		})
	return res.Error
}

// DeleteTicket removes the ticket together with the reviews answering it.
func (r *postRepository) DeleteTicket(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticket_id = ?", id).Delete(&model.Review{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Ticket{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *postRepository) CreateReview(ctx context.Context, review *model.Review) error {
	return r.db.WithContext(ctx).Omit("User", "Ticket").Create(review).Error
}

// CreateTicketWithReview persists a free-standing review: the ticket first, then the
// review pointing at it. Either both rows exist afterwards or neither does.
func (r *postRepository) CreateTicketWithReview(ctx context.Context, ticket *model.Ticket, review *model.Review) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User").Create(ticket).Error; err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		review.TicketID = ticket.ID
		if err := tx.Omit("User", "Ticket").Create(review).Error; err != nil {
			return fmt.Errorf("create review: %w", err)
		}
		return nil
	})
}

func (r *postRepository) GetReview(ctx context.Context, id uint) (*model.Review, error) {
	var review model.Review
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Ticket.User").
		First(&review, id).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *postRepository) UpdateReview(ctx context.Context, review *model.Review) error {
	res := r.db.WithContext(ctx).Model(&model.Review{ID: review.ID}).
		Select("headline", "rating", "body").
		Updates(map[string]interface{}{
			"headline": review.Headline,
			"rating":   review.Rating,
			"body":     review.Body,
		})
	return res.Error
}

func (r *postRepository) DeleteReview(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.Review{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *postRepository) HasReviewed(ctx context.Context, ticketID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Where("ticket_id = ? AND user_id = ?", ticketID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *postRepository) ListTicketsByAuthors(ctx context.Context, authorIDs, excludeAuthorIDs []uint) ([]*model.Ticket, error) {
	tickets := make([]*model.Ticket, 0)
	if len(authorIDs) == 0 {
		return tickets, nil
	}
	tx := r.db.WithContext(ctx).Preload("User").Where("user_id IN ?", authorIDs)
	if len(excludeAuthorIDs) > 0 {
		tx = tx.Where("user_id NOT IN ?", excludeAuthorIDs)
	}
	err := tx.Order("created_at DESC").Order("id DESC").Find(&tickets).Error
	return tickets, err
}

// ListFeedReviews returns reviews written by userIDs or answering a ticket written by
// userIDs, minus reviews whose author is in excludeAuthorIDs. A review matching both
// conditions is returned once.
func (r *postRepository) ListFeedReviews(ctx context.Context, userIDs, excludeAuthorIDs []uint) ([]*model.Review, error) {
	reviews := make([]*model.Review, 0)
	if len(userIDs) == 0 {
		return reviews, nil
	}
	tx := r.db.WithContext(ctx).
		Select("reviews.*").
		Joins("JOIN tickets ON tickets.id = reviews.ticket_id").
		Where("reviews.user_id IN ? OR tickets.user_id IN ?", userIDs, userIDs)
	if len(excludeAuthorIDs) > 0 {
		tx = tx.Where("reviews.user_id NOT IN ?", excludeAuthorIDs)
	}
	err := tx.Preload("User").
		Preload("Ticket.User").
		Order("reviews.created_at DESC").Order("reviews.id DESC").
		Find(&reviews).Error
	return reviews, err
}

func (r *postRepository) ListTicketsByUser(ctx context.Context, userID uint) ([]*model.Ticket, error) {
	return r.ListTicketsByAuthors(ctx, []uint{userID}, nil)
}

func (r *postRepository) ListReviewsByUser(ctx context.Context, userID uint) ([]*model.Review, error) {
	reviews := make([]*model.Review, 0)
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Ticket.User").
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&reviews).Error
	return reviews, err
}

// ReviewedTicketIDs returns the subset of ticketIDs having at least one review.
func (r *postRepository) ReviewedTicketIDs(ctx context.Context, ticketIDs []uint) ([]uint, error) {
	ids := make([]uint, 0)
	if len(ticketIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Where("ticket_id IN ?", ticketIDs).
		Distinct().
		Pluck("ticket_id", &ids).Error
	return ids, err
}
