package service

import (
	"context"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Feed is what a user sees on the home page.
type Feed struct {
	Posts []model.Post
	// ReviewedTicketIDs holds the ids of feed tickets that already have a review.
	ReviewedTicketIDs map[uint]bool
}

type FeedService struct {
	posts repository.PostRepository
	graph repository.GraphRepository
	log   *logrus.Logger

	requests metric.Int64Counter
}

func NewFeedService(posts repository.PostRepository, graph repository.GraphRepository, log *logrus.Logger) *FeedService {
	s := &FeedService{posts: posts, graph: graph, log: log}
	counter, err := otel.GetMeterProvider().Meter("litrevu.service.feed").
		Int64Counter("litrevu_feed_requests_total", metric.WithDescription("Number of feed builds"))
	if err != nil {
		log.Warnf("failed to create feed counter: %v", err)
	} else {
		s.requests = counter
	}
	return s
}

// Feed merges the tickets and reviews visible to userID, newest first.
// Visible authors are userID and the users it follows. Block edges hide
// content in both directions. Reviews answering a visible author's ticket are included
// even when the reviewer is not followed.
func (s *FeedService) Feed(ctx context.Context, userID uint) (*Feed, error) {
	if s.requests != nil {
		s.requests.Add(ctx, 1)
	}

	following, err := s.graph.FollowingIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load followed users")
	}
	authors := make([]uint, 0, len(following)+1)
	authors = append(authors, following...)
	authors = append(authors, userID)

	blockedMe, err := s.graph.BlockedByIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blocking users")
	}
	blocked, err := s.graph.BlockedIDs(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blocked users")
	}
	hidden := make([]uint, 0, len(blockedMe)+len(blocked))
	hidden = append(hidden, blockedMe...)
	hidden = append(hidden, blocked...)

	var (
		tickets []*model.Ticket
		reviews []*model.Review
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tickets, err = s.posts.ListTicketsByAuthors(gctx, authors, hidden)
		return errors.Wrap(err, "failed to load feed tickets")
	})
	g.Go(func() error {
		var err error
		reviews, err = s.posts.ListFeedReviews(gctx, authors, hidden)
		return errors.Wrap(err, "failed to load feed reviews")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ticketIDs := make([]uint, 0, len(tickets))
	for _, t := range tickets {
		ticketIDs = append(ticketIDs, t.ID)
	}
	reviewed, err := s.posts.ReviewedTicketIDs(ctx, ticketIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load reviewed tickets")
	}
	reviewedSet := make(map[uint]bool, len(reviewed))
	for _, id := range reviewed {
		reviewedSet[id] = true
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"tickets": len(tickets),
		"reviews": len(reviews),
	}).Debug("feed built")

	return &Feed{
		Posts:             model.MergePosts(tickets, reviews),
		ReviewedTicketIDs: reviewedSet,
	}, nil
}

// Posts lists everything userID authored, newest first.
func (s *FeedService) Posts(ctx context.Context, userID uint) ([]model.Post, error) {
	var (
		tickets []*model.Ticket
		reviews []*model.Review
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tickets, err = s.posts.ListTicketsByUser(gctx, userID)
		return errors.Wrap(err, "failed to load own tickets")
	})
	g.Go(func() error {
		var err error
		reviews, err = s.posts.ListReviewsByUser(gctx, userID)
		return errors.Wrap(err, "failed to load own reviews")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return model.MergePosts(tickets, reviews), nil
}
