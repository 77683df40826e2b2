package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (p *recordingPublisher) Push(e model.ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db    *gorm.DB
	pub   *recordingPublisher
	feed  *FeedService
	posts *PostService
	graph *GraphService
	auth  *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, nil)
}

// newCachedFixture serves the graph through the redis decorator, as main does
// when redis is reachable.
func newCachedFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return buildFixture(t, rdb)
}

// graphStacks runs a test against both graph repository stacks.
var graphStacks = []struct {
	name string
	new  func(*testing.T) *fixture
}{
	{"db", newFixture},
	{"redis", newCachedFixture},
}

func buildFixture(t *testing.T, rdb redis.UniversalClient) *fixture {
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
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	users := repository.NewUserRepository(db)
	posts := repository.NewPostRepository(db)
	graph := repository.NewGraphRepository(db)
	if rdb != nil {
		graph = repository.NewCachedGraphRepo(graph, rdb, log)
	}
	pub := &recordingPublisher{}
	return &fixture{
		db:    db,
		pub:   pub,
		feed:  NewFeedService(posts, graph, log),
		posts: NewPostService(posts, pub, log),
		graph: NewGraphService(users, graph, pub, log),
		auth:  NewAuthService(users, "test-secret", time.Hour, log),
	}
}

func (f *fixture) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Password: "x"}
	if err := repository.NewUserRepository(f.db).CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%q): %v", name, err)
	}
	return u
}

func (f *fixture) ticket(t *testing.T, author *model.User, title string) *model.Ticket {
	t.Helper()
	tk, err := f.posts.CreateTicket(context.Background(), author.ID, TicketInput{Title: title})
	if err != nil {
		t.Fatalf("CreateTicket(%q): %v", title, err)
	}
	return tk
}

func (f *fixture) review(t *testing.T, author *model.User, ticket *model.Ticket, headline string) *model.Review {
	t.Helper()
	r, err := f.posts.CreateReview(context.Background(), author.ID, ticket.ID, ReviewInput{Headline: headline, Rating: 4})
	if err != nil {
		t.Fatalf("CreateReview(%q): %v", headline, err)
	}
	return r
}

func (f *fixture) follow(t *testing.T, actor, target *model.User) {
	t.Helper()
	if err := f.graph.Follow(context.Background(), actor.ID, target.Username); err != nil {
		t.Fatalf("Follow(%s -> %s): %v", actor.Username, target.Username, err)
	}
}

// feedTitles renders a feed as "t:<title>" / "r:<headline>" in feed order.
func (f *fixture) feedTitles(t *testing.T, u *model.User) []string {
	t.Helper()
	feed, err := f.feed.Feed(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Feed(%s): %v", u.Username, err)
	}
	return postTitles(feed.Posts)
}

func postTitles(posts []model.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		switch p.Type {
		case model.PostTypeTicket:
			out = append(out, "t:"+p.Ticket.Title)
		case model.PostTypeReview:
			out = append(out, "r:"+p.Review.Headline)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
