package repository

import (
	"context"
	"testing"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mustUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Password: "x"}
	if err := NewUserRepository(db).CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%q): %v", username, err)
	}
	return u
}

func mustTicket(t *testing.T, db *gorm.DB, author *model.User, title string, at time.Time) *model.Ticket {
	t.Helper()
	tk := &model.Ticket{Title: title, UserID: author.ID, CreatedAt: at}
	if err := NewPostRepository(db).CreateTicket(context.Background(), tk); err != nil {
		t.Fatalf("CreateTicket(%q): %v", title, err)
	}
	return tk
}

func mustReview(t *testing.T, db *gorm.DB, author *model.User, ticket *model.Ticket, headline string, at time.Time) *model.Review {
	t.Helper()
	r := &model.Review{TicketID: ticket.ID, UserID: author.ID, Headline: headline, Rating: 4, CreatedAt: at}
	if err := NewPostRepository(db).CreateReview(context.Background(), r); err != nil {
		t.Fatalf("CreateReview(%q): %v", headline, err)
	}
	return r
}

func sameIDs(got, want []uint) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[uint]int, len(got))
	for _, id := range got {
		seen[id]++
	}
	for _, id := range want {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
