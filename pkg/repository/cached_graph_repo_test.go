package repository

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newCachedGraph(t *testing.T) (GraphRepository, *miniredis.Miniredis, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewCachedGraphRepo(NewGraphRepository(db), rdb, log), mr, db
}

func TestCachedGraphReadThrough(t *testing.T) {
	repo, mr, db := newCachedGraph(t)
	ctx := context.Background()
	alice, bob, carol := mustUser(t, db, "alice"), mustUser(t, db, "bob"), mustUser(t, db, "carol")

	if _, err := repo.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	ids, err := repo.FollowingIDs(ctx, alice.ID)
	if err != nil {
		t.Fatalf("FollowingIDs: %v", err)
	}
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Fatalf("FollowingIDs = %v, want [%d]", ids, bob.ID)
	}
	key := fmt.Sprintf(keyFollowing, alice.ID)
	if !mr.Exists(key) {
		t.Fatalf("key %s not cached after miss", key)
	}

	// a row written behind the cache's back stays invisible until eviction
	db.Omit("User", "FollowedUser").Create(&model.UserFollows{UserID: alice.ID, FollowedUserID: carol.ID})
	ids, _ = repo.FollowingIDs(ctx, alice.ID)
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Errorf("cached FollowingIDs = %v, want [%d]", ids, bob.ID)
	}

	if err := repo.Unfollow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if mr.Exists(key) {
		t.Errorf("key %s still cached after Unfollow", key)
	}
	ids, _ = repo.FollowingIDs(ctx, alice.ID)
	if !sameIDs(ids, []uint{carol.ID}) {
		t.Errorf("FollowingIDs after evict = %v, want [%d]", ids, carol.ID)
	}
}

func TestCachedGraphBlockEvicts(t *testing.T) {
	repo, mr, db := newCachedGraph(t)
	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	if _, err := repo.Follow(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	// warm every key the block touches
	repo.FollowingIDs(ctx, bob.ID)
	repo.BlockedIDs(ctx, alice.ID)
	repo.BlockedByIDs(ctx, bob.ID)

	if _, _, err := repo.Block(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	for _, key := range []string{
		fmt.Sprintf(keyFollowing, bob.ID),
		fmt.Sprintf(keyBlocked, alice.ID),
		fmt.Sprintf(keyBlockedBy, bob.ID),
	} {
		if mr.Exists(key) {
			t.Errorf("key %s still cached after Block", key)
		}
	}

	following, _ := repo.FollowingIDs(ctx, bob.ID)
	if len(following) != 0 {
		t.Errorf("bob FollowingIDs = %v, want empty", following)
	}
	blockedBy, _ := repo.BlockedByIDs(ctx, bob.ID)
	if !sameIDs(blockedBy, []uint{alice.ID}) {
		t.Errorf("bob BlockedByIDs = %v, want [%d]", blockedBy, alice.ID)
	}
}

func TestCachedGraphFallsBackWithoutRedis(t *testing.T) {
	repo, mr, db := newCachedGraph(t)
	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	mr.Close()

	if _, err := repo.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Follow with redis down: %v", err)
	}
	ids, err := repo.FollowingIDs(ctx, alice.ID)
	if err != nil {
		t.Fatalf("FollowingIDs with redis down: %v", err)
	}
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Errorf("FollowingIDs = %v, want [%d]", ids, bob.ID)
	}
}

func TestCachedGraphFailedEvictionIsRetried(t *testing.T) {
	repo, mr, db := newCachedGraph(t)
	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	if ids, _ := repo.BlockedByIDs(ctx, bob.ID); len(ids) != 0 {
		t.Fatalf("BlockedByIDs = %v, want empty", ids)
	}

	mr.SetError("transient")
	if _, _, err := repo.Block(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}

	// redis still failing: reads come from the database
	ids, err := repo.BlockedByIDs(ctx, bob.ID)
	if err != nil {
		t.Fatalf("BlockedByIDs with redis failing: %v", err)
	}
	if !sameIDs(ids, []uint{alice.ID}) {
		t.Errorf("BlockedByIDs with redis failing = %v, want [%d]", ids, alice.ID)
	}

	mr.SetError("")
	ids, err = repo.BlockedByIDs(ctx, bob.ID)
	if err != nil {
		t.Fatalf("BlockedByIDs: %v", err)
	}
	if !sameIDs(ids, []uint{alice.ID}) {
		t.Errorf("BlockedByIDs after redis recovered = %v, want [%d]", ids, alice.ID)
	}
	key := fmt.Sprintf(keyBlockedBy, bob.ID)
	if got, _ := mr.Get(key); got != fmt.Sprintf("[%d]", alice.ID) {
		t.Errorf("cached %s = %q, want [%d]", key, got, alice.ID)
	}
}

// racingGraph runs onLoad once, after BlockedByIDs has read the database.
type racingGraph struct {
	GraphRepository
	onLoad func()
}

func (r *racingGraph) BlockedByIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids, err := r.GraphRepository.BlockedByIDs(ctx, userID)
	if r.onLoad != nil {
		fn := r.onLoad
		r.onLoad = nil
		fn()
	}
	return ids, err
}

func TestCachedGraphFillDoesNotOutliveWrite(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	inner := &racingGraph{GraphRepository: NewGraphRepository(db)}
	repo := NewCachedGraphRepo(inner, rdb, log)
	inner.onLoad = func() {
		if _, _, err := repo.Block(ctx, alice.ID, bob.ID); err != nil {
			t.Errorf("Block: %v", err)
		}
	}

	// the first read loaded the set from before the block
	if ids, _ := repo.BlockedByIDs(ctx, bob.ID); len(ids) != 0 {
		t.Fatalf("BlockedByIDs = %v, want empty", ids)
	}
	if mr.Exists(fmt.Sprintf(keyBlockedBy, bob.ID)) {
		t.Errorf("set loaded before Block was cached")
	}
	ids, _ := repo.BlockedByIDs(ctx, bob.ID)
	if !sameIDs(ids, []uint{alice.ID}) {
		t.Errorf("BlockedByIDs = %v, want [%d]", ids, alice.ID)
	}
}
