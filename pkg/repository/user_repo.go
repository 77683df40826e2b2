package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"gorm.io/gorm"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateProfilePicture(ctx context.Context, id uint, path string) error
	SearchUsers(ctx context.Context, query string, exclude []uint, limit int) ([]*model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateUser(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpdateProfilePicture(ctx context.Context, id uint, path string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("profile_picture", path).Error
}

// SearchUsers matches usernames containing query, case-insensitively.
// LIKE wildcards in query are matched literally.
func (r *userRepository) SearchUsers(ctx context.Context, query string, exclude []uint, limit int) ([]*model.User, error) {
	var users []*model.User

	likeQuery := fmt.Sprintf("%%%s%%", escapeLike(strings.ToLower(query)))
	tx := r.db.WithContext(ctx).Where("LOWER(username) LIKE ? ESCAPE '!'", likeQuery)
	if len(exclude) > 0 {
		tx = tx.Where("id NOT IN ?", exclude)
	}
	if err := tx.Order("username").Limit(limit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
