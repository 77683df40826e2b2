package service

import (
	"context"
	"strings"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"
	"github.com/C-eorl/P9---LITRevu/pkg/validator"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type TicketInput struct {
	Title       string
	Description string
	// Image is the stored path of an uploaded picture. Empty keeps the current one on update.
	Image string
}

type ReviewInput struct {
	Headline string
	Rating   int
	Body     string
}

func (in TicketInput) validate(prefix string) error {
	p := validator.TicketPayload{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
	}
	if err := p.Validate(); err != nil {
		return newValidationError(err, prefix)
	}
	return nil
}

func (in ReviewInput) validate() error {
	p := validator.ReviewPayload{
		Headline: strings.TrimSpace(in.Headline),
		Rating:   in.Rating,
		Body:     in.Body,
	}
	if err := p.Validate(); err != nil {
		return newValidationError(err, "")
	}
	return nil
}

type PostService struct {
	posts repository.PostRepository
	pub   Publisher
	log   *logrus.Logger
}

func NewPostService(posts repository.PostRepository, pub Publisher, log *logrus.Logger) *PostService {
	return &PostService{posts: posts, pub: pub, log: log}
}

func (s *PostService) CreateTicket(ctx context.Context, actorID uint, in TicketInput) (*model.Ticket, error) {
	if err := in.validate(""); err != nil {
		return nil, err
	}
	ticket := &model.Ticket{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Image:       in.Image,
		UserID:      actorID,
	}
	if err := s.posts.CreateTicket(ctx, ticket); err != nil {
		return nil, errors.Wrap(err, "failed to create ticket")
	}
	s.publish(model.ActivityTicketCreated, actorID, ticket.ID)
	return ticket, nil
}

// GetTicketForEdit loads a ticket only its author may change.
func (s *PostService) GetTicketForEdit(ctx context.Context, actorID, ticketID uint) (*model.Ticket, error) {
	ticket, err := s.posts.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	if err := Authorize(actorID, ticket.UserID); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *PostService) UpdateTicket(ctx context.Context, actorID, ticketID uint, in TicketInput) (*model.Ticket, error) {
	ticket, err := s.GetTicketForEdit(ctx, actorID, ticketID)
	if err != nil {
		return nil, err
	}
	if err := in.validate(""); err != nil {
		return nil, err
	}

	ticket.Title = strings.TrimSpace(in.Title)
	ticket.Description = in.Description
	if in.Image != "" {
		ticket.Image = in.Image
	}
	if err := s.posts.UpdateTicket(ctx, ticket); err != nil {
		return nil, storeErr(err, "ticket")
	}
	return ticket, nil
}

func (s *PostService) DeleteTicket(ctx context.Context, actorID, ticketID uint) error {
	if _, err := s.GetTicketForEdit(ctx, actorID, ticketID); err != nil {
		return err
	}
	if err := s.posts.DeleteTicket(ctx, ticketID); err != nil {
		return storeErr(err, "ticket")
	}
	return nil
}

// GetTicket loads the ticket a reply is being written for.
func (s *PostService) GetTicket(ctx context.Context, ticketID uint) (*model.Ticket, error) {
	ticket, err := s.posts.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	return ticket, nil
}

// CreateReview answers an existing ticket. A user answers a ticket at most once.
func (s *PostService) CreateReview(ctx context.Context, actorID, ticketID uint, in ReviewInput) (*model.Review, error) {
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	reviewed, err := s.posts.HasReviewed(ctx, ticketID, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check existing review")
	}
	if reviewed {
		return nil, ErrAlreadyReviewed
	}

	review := s.newReview(actorID, in)
	review.TicketID = ticketID
	if err := s.posts.CreateReview(ctx, review); err != nil {
		// 并发重复提交由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyReviewed
		}
		return nil, errors.Wrap(err, "failed to create review")
	}
	s.publish(model.ActivityReviewCreated, actorID, review.ID)
	return review, nil
}

// CreateReviewWithTicket writes a free-standing review: a new ticket and its
// review are stored together or not at all.
func (s *PostService) CreateReviewWithTicket(ctx context.Context, actorID uint, tin TicketInput, rin ReviewInput) (*model.Ticket, *model.Review, error) {
	if err := mergeValidation(tin.validate("ticket_"), rin.validate()); err != nil {
		return nil, nil, err
	}

	ticket := &model.Ticket{
		Title:       strings.TrimSpace(tin.Title),
		Description: tin.Description,
		Image:       tin.Image,
		UserID:      actorID,
	}
	review := s.newReview(actorID, rin)
	if err := s.posts.CreateTicketWithReview(ctx, ticket, review); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create ticket with review")
	}
	s.publish(model.ActivityTicketCreated, actorID, ticket.ID)
	s.publish(model.ActivityReviewCreated, actorID, review.ID)
	return ticket, review, nil
}

func (s *PostService) GetReviewForEdit(ctx context.Context, actorID, reviewID uint) (*model.Review, error) {
	review, err := s.posts.GetReview(ctx, reviewID)
	if err != nil {
		return nil, storeErr(err, "review")
	}
	if err := Authorize(actorID, review.UserID); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *PostService) UpdateReview(ctx context.Context, actorID, reviewID uint, in ReviewInput) (*model.Review, error) {
	review, err := s.GetReviewForEdit(ctx, actorID, reviewID)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	review.Headline = strings.TrimSpace(in.Headline)
	review.Rating = in.Rating
	review.Body = in.Body
	if err := s.posts.UpdateReview(ctx, review); err != nil {
		return nil, storeErr(err, "review")
	}
	return review, nil
}

func (s *PostService) DeleteReview(ctx context.Context, actorID, reviewID uint) error {
	if _, err := s.GetReviewForEdit(ctx, actorID, reviewID); err != nil {
		return err
	}
	if err := s.posts.DeleteReview(ctx, reviewID); err != nil {
		return storeErr(err, "review")
	}
	return nil
}

func (s *PostService) newReview(actorID uint, in ReviewInput) *model.Review {
	return &model.Review{
		UserID:   actorID,
		Headline: strings.TrimSpace(in.Headline),
		Rating:   in.Rating,
		Body:     in.Body,
	}
}

func (s *PostService) publish(eventType string, actorID, subjectID uint) {
	s.pub.Push(model.ActivityEvent{
		Type:      eventType,
		ActorID:   actorID,
		SubjectID: subjectID,
		CreatedAt: time.Now(),
	})
}
