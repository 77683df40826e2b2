package repository

import (
	"context"
	"testing"
)

func TestFollowIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewGraphRepository(db)
	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	created, err := repo.Follow(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if !created {
		t.Errorf("first Follow created = false, want true")
	}
	created, err = repo.Follow(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("second Follow: %v", err)
	}
	if created {
		t.Errorf("second Follow created = true, want false")
	}

	ids, err := repo.FollowingIDs(ctx, alice.ID)
	if err != nil {
		t.Fatalf("FollowingIDs: %v", err)
	}
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Errorf("FollowingIDs = %v, want [%d]", ids, bob.ID)
	}
}

func TestUnfollowWithoutEdge(t *testing.T) {
	db := newTestDB(t)
	repo := NewGraphRepository(db)
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	if err := repo.Unfollow(context.Background(), alice.ID, bob.ID); err != nil {
		t.Fatalf("Unfollow on missing edge: %v", err)
	}
}

func TestBlockRemovesReverseFollow(t *testing.T) {
	db := newTestDB(t)
	repo := NewGraphRepository(db)
	ctx := context.Background()
	alice, bob := mustUser(t, db, "alice"), mustUser(t, db, "bob")

	if _, err := repo.Follow(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if _, err := repo.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	created, removed, err := repo.Block(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !created || !removed {
		t.Errorf("Block = (created %v, removed %v), want (true, true)", created, removed)
	}

	ids, _ := repo.FollowingIDs(ctx, bob.ID)
	if len(ids) != 0 {
		t.Errorf("bob still follows %v after being blocked", ids)
	}
	// the blocker keeps following the blocked user
	ids, _ = repo.FollowingIDs(ctx, alice.ID)
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Errorf("alice FollowingIDs = %v, want [%d]", ids, bob.ID)
	}
	ids, _ = repo.BlockedIDs(ctx, alice.ID)
	if !sameIDs(ids, []uint{bob.ID}) {
		t.Errorf("BlockedIDs = %v, want [%d]", ids, bob.ID)
	}
	ids, _ = repo.BlockedByIDs(ctx, bob.ID)
	if !sameIDs(ids, []uint{alice.ID}) {
		t.Errorf("BlockedByIDs = %v, want [%d]", ids, alice.ID)
	}

	created, removed, err = repo.Block(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("second Block: %v", err)
	}
	if created || removed {
		t.Errorf("second Block = (created %v, removed %v), want (false, false)", created, removed)
	}

	if err := repo.Unblock(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	ids, _ = repo.BlockedIDs(ctx, alice.ID)
	if len(ids) != 0 {
		t.Errorf("BlockedIDs after Unblock = %v, want empty", ids)
	}
}

func TestListGraphUsers(t *testing.T) {
	db := newTestDB(t)
	repo := NewGraphRepository(db)
	ctx := context.Background()
	alice, bob, carol := mustUser(t, db, "alice"), mustUser(t, db, "bob"), mustUser(t, db, "carol")

	repo.Follow(ctx, alice.ID, carol.ID)
	repo.Follow(ctx, alice.ID, bob.ID)
	repo.Follow(ctx, carol.ID, alice.ID)
	repo.Block(ctx, alice.ID, carol.ID)

	following, err := repo.ListFollowing(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListFollowing: %v", err)
	}
	if len(following) != 2 || following[0].Username != "bob" || following[1].Username != "carol" {
		t.Errorf("ListFollowing = %v, want [bob carol]", usernames(following))
	}

	followers, err := repo.ListFollowers(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 0 {
		t.Errorf("ListFollowers = %v, want empty (carol was blocked)", usernames(followers))
	}

	blocked, err := repo.ListBlocked(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListBlocked: %v", err)
	}
	if len(blocked) != 1 || blocked[0].Username != "carol" {
		t.Errorf("ListBlocked = %v, want [carol]", usernames(blocked))
	}
}
