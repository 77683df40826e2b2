package service

import (
	"context"
	"strings"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"
	"github.com/C-eorl/P9---LITRevu/pkg/validator"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type tokenClaims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

type AuthService struct {
	users  repository.UserRepository
	secret []byte
	ttl    time.Duration
	log    *logrus.Logger
}

func NewAuthService(users repository.UserRepository, secret string, ttl time.Duration, log *logrus.Logger) *AuthService {
	return &AuthService{users: users, secret: []byte(secret), ttl: ttl, log: log}
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.ttl
}

func (s *AuthService) Signup(ctx context.Context, username, password, confirm string) (*model.User, error) {
	username = strings.TrimSpace(username)

	// 1. 表单校验
	p := validator.SignupPayload{Username: username, Password: password, Confirm: confirm}
	if err := p.Validate(); err != nil {
		return nil, newValidationError(err, "")
	}

	// 2. 用户名查重，唯一索引兜底并发注册
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, usernameTaken()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to check username")
	}

	// 3. 密码加密
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	// 4. 落库
	user := &model.User{Username: username, Password: string(hashedPwd)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, usernameTaken()
		}
		return nil, errors.Wrap(err, "failed to create user")
	}
	s.log.WithField("user_id", user.ID).Info("user signed up")
	return user, nil
}

func usernameTaken() error {
	return &ValidationError{Fields: map[string]string{"username": "A user with that username already exists."}}
}

// Login checks the credentials and returns a signed token for the user.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.User, string, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", errors.Wrap(err, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) issueToken(userID uint) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

func (s *AuthService) VerifyToken(ctx context.Context, tokenStr string) (uint, bool) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.UserID == 0 {
		return 0, false
	}
	return claims.UserID, true
}

func (s *AuthService) GetUser(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return user, nil
}

func (s *AuthService) UpdateProfilePicture(ctx context.Context, userID uint, path string) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	return errors.Wrap(s.users.UpdateProfilePicture(ctx, userID, path), "failed to update profile picture")
}
