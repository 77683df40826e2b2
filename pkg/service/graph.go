package service

import (
	"context"
	"strings"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const searchLimit = 10

// Publisher receives activity events after successful writes. It must not block.
type Publisher interface {
	Push(e model.ActivityEvent)
}

// UserResult is one entry of the follow search dropdown.
type UserResult struct {
	Username string `json:"username"`
	Image    string `json:"image"`
}

type Overview struct {
	Following []*model.User
	Followers []*model.User
	Blocked   []*model.User
}

type GraphService struct {
	users repository.UserRepository
	graph repository.GraphRepository
	pub   Publisher
	log   *logrus.Logger
}

func NewGraphService(users repository.UserRepository, graph repository.GraphRepository, pub Publisher, log *logrus.Logger) *GraphService {
	return &GraphService{users: users, graph: graph, pub: pub, log: log}
}

// Follow makes actorID follow the user named username. Following someone
// already followed is a no-op.
func (s *GraphService) Follow(ctx context.Context, actorID uint, username string) error {
	target, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return storeErr(err, "user")
	}
	if target.ID == actorID {
		return ErrSelfFollow
	}

	created, err := s.graph.Follow(ctx, actorID, target.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to follow user %d", target.ID)
	}
	if created {
		s.pub.Push(model.ActivityEvent{
			Type:      model.ActivityUserFollowed,
			ActorID:   actorID,
			SubjectID: target.ID,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

func (s *GraphService) Unfollow(ctx context.Context, actorID, targetID uint) error {
	if _, err := s.users.GetUserByID(ctx, targetID); err != nil {
		return storeErr(err, "user")
	}
	return errors.Wrapf(s.graph.Unfollow(ctx, actorID, targetID), "failed to unfollow user %d", targetID)
}

// Block records that actorID blocks targetID and drops targetID's follow of actorID.
func (s *GraphService) Block(ctx context.Context, actorID, targetID uint) error {
	if targetID == actorID {
		return ErrSelfBlock
	}
	if _, err := s.users.GetUserByID(ctx, targetID); err != nil {
		return storeErr(err, "user")
	}

	created, removed, err := s.graph.Block(ctx, actorID, targetID)
	if err != nil {
		return errors.Wrapf(err, "failed to block user %d", targetID)
	}
	s.log.WithFields(logrus.Fields{
		"blocker":        actorID,
		"blocked":        targetID,
		"created":        created,
		"removed_follow": removed,
	}).Debug("block applied")

	if created {
		s.pub.Push(model.ActivityEvent{
			Type:      model.ActivityUserBlocked,
			ActorID:   actorID,
			SubjectID: targetID,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

func (s *GraphService) Unblock(ctx context.Context, actorID, targetID uint) error {
	if _, err := s.users.GetUserByID(ctx, targetID); err != nil {
		return storeErr(err, "user")
	}
	return errors.Wrapf(s.graph.Unblock(ctx, actorID, targetID), "failed to unblock user %d", targetID)
}

// Search returns up to ten users whose name contains q, ignoring case.
// The actor, users it already follows and users it blocked are left out.
func (s *GraphService) Search(ctx context.Context, actorID uint, q string) ([]UserResult, error) {
	results := make([]UserResult, 0)
	q = strings.TrimSpace(q)
	if q == "" {
		return results, nil
	}

	following, err := s.graph.FollowingIDs(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load followed users")
	}
	blocked, err := s.graph.BlockedIDs(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blocked users")
	}
	exclude := make([]uint, 0, len(following)+len(blocked)+1)
	exclude = append(exclude, actorID)
	exclude = append(exclude, following...)
	exclude = append(exclude, blocked...)

	users, err := s.users.SearchUsers(ctx, q, exclude, searchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search users")
	}
	for _, u := range users {
		results = append(results, UserResult{Username: u.Username, Image: u.DisplayImage()})
	}
	return results, nil
}

// Overview loads the three lists shown on the subscriptions page.
func (s *GraphService) Overview(ctx context.Context, actorID uint) (*Overview, error) {
	following, err := s.graph.ListFollowing(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list followed users")
	}
	followers, err := s.graph.ListFollowers(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list followers")
	}
	blocked, err := s.graph.ListBlocked(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list blocked users")
	}
	return &Overview{Following: following, Followers: followers, Blocked: blocked}, nil
}
