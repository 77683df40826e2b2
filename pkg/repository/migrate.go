package repository

import (
	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table owned by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Ticket{},
		&model.Review{},
		&model.UserFollows{},
		&model.UserBlock{},
		&model.FailedActivity{},
	)
}
