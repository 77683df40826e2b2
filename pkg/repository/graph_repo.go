package repository

import (
	"context"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GraphRepository stores the follow and block edges between users.
// Edge creation is idempotent: inserting an existing edge is a no-op.
type GraphRepository interface {
	Follow(ctx context.Context, followerID, followeeID uint) (bool, error)
	Unfollow(ctx context.Context, followerID, followeeID uint) error
	Block(ctx context.Context, blockerID, blockedID uint) (created bool, removedFollow bool, err error)
	Unblock(ctx context.Context, blockerID, blockedID uint) error

	FollowingIDs(ctx context.Context, userID uint) ([]uint, error)
	BlockedIDs(ctx context.Context, userID uint) ([]uint, error)
	BlockedByIDs(ctx context.Context, userID uint) ([]uint, error)

	ListFollowing(ctx context.Context, userID uint) ([]*model.User, error)
	ListFollowers(ctx context.Context, userID uint) ([]*model.User, error)
	ListBlocked(ctx context.Context, userID uint) ([]*model.User, error)
}

type graphRepository struct {
	db *gorm.DB
}

func NewGraphRepository(db *gorm.DB) GraphRepository {
	return &graphRepository{db: db}
}

func (r *graphRepository) Follow(ctx context.Context, followerID, followeeID uint) (bool, error) {
	edge := &model.UserFollows{UserID: followerID, FollowedUserID: followeeID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(edge)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *graphRepository) Unfollow(ctx context.Context, followerID, followeeID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND followed_user_id = ?", followerID, followeeID).
		Delete(&model.UserFollows{}).Error
}

// Block creates the block edge and drops "blocked follows blocker" in one transaction.
func (r *graphRepository) Block(ctx context.Context, blockerID, blockedID uint) (bool, bool, error) {
	var created, removed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 幂等插入屏蔽关系
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Omit(clause.Associations).
			Create(&model.UserBlock{UserID: blockerID, BlockedUserID: blockedID})
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		// 2. 删除反向关注
		res = tx.Where("user_id = ? AND followed_user_id = ?", blockedID, blockerID).
			Delete(&model.UserFollows{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return created, removed, nil
}

func (r *graphRepository) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND blocked_user_id = ?", blockerID, blockedID).
		Delete(&model.UserBlock{}).Error
}

func (r *graphRepository) FollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids := make([]uint, 0)
	err := r.db.WithContext(ctx).Model(&model.UserFollows{}).
		Where("user_id = ?", userID).
		Pluck("followed_user_id", &ids).Error
	return ids, err
}

func (r *graphRepository) BlockedIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids := make([]uint, 0)
	err := r.db.WithContext(ctx).Model(&model.UserBlock{}).
		Where("user_id = ?", userID).
		Pluck("blocked_user_id", &ids).Error
	return ids, err
}

func (r *graphRepository) BlockedByIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids := make([]uint, 0)
	err := r.db.WithContext(ctx).Model(&model.UserBlock{}).
		Where("blocked_user_id = ?", userID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *graphRepository) ListFollowing(ctx context.Context, userID uint) ([]*model.User, error) {
	return r.listUsers(ctx, "JOIN user_follows ON user_follows.followed_user_id = users.id", "user_follows.user_id = ?", userID)
}

func (r *graphRepository) ListFollowers(ctx context.Context, userID uint) ([]*model.User, error) {
	return r.listUsers(ctx, "JOIN user_follows ON user_follows.user_id = users.id", "user_follows.followed_user_id = ?", userID)
}

func (r *graphRepository) ListBlocked(ctx context.Context, userID uint) ([]*model.User, error) {
	return r.listUsers(ctx, "JOIN user_blocks ON user_blocks.blocked_user_id = users.id", "user_blocks.user_id = ?", userID)
}

func (r *graphRepository) listUsers(ctx context.Context, join, where string, userID uint) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Select("users.*").
		Joins(join).
		Where(where, userID).
		Order("users.username").
		Find(&users).Error
	return users, err
}
