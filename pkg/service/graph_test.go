package service

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/C-eorl/P9---LITRevu/pkg/model"

	"github.com/pkg/errors"
)

func TestFollowIdempotentAndPublishedOnce(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	f.follow(t, a, b)
	f.follow(t, a, b)

	var count int64
	f.db.Model(&model.UserFollows{}).Where("user_id = ? AND followed_user_id = ?", a.ID, b.ID).Count(&count)
	if count != 1 {
		t.Errorf("follow edges = %d, want 1", count)
	}
	if got := f.pub.types(); !reflect.DeepEqual(got, []string{model.ActivityUserFollowed}) {
		t.Errorf("events = %v, want one user_followed", got)
	}
}

func TestFollowErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a")

	if err := f.graph.Follow(ctx, a.ID, "a"); !errors.Is(err, ErrSelfFollow) {
		t.Errorf("self follow err = %v, want ErrSelfFollow", err)
	}
	if err := f.graph.Follow(ctx, a.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown follow err = %v, want ErrNotFound", err)
	}
	if err := f.graph.Unfollow(ctx, a.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown unfollow err = %v, want ErrNotFound", err)
	}
}

func TestUnfollowWithoutEdgeIsNoop(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "a"), f.user(t, "b")
	if err := f.graph.Unfollow(context.Background(), a.ID, b.ID); err != nil {
		t.Errorf("Unfollow: %v", err)
	}
}

func TestBlockIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	f.follow(t, b, a)

	for i := 0; i < 2; i++ {
		if err := f.graph.Block(ctx, a.ID, b.ID); err != nil {
			t.Fatalf("Block #%d: %v", i+1, err)
		}
	}
	var blocks, follows int64
	f.db.Model(&model.UserBlock{}).Count(&blocks)
	f.db.Model(&model.UserFollows{}).Count(&follows)
	if blocks != 1 || follows != 0 {
		t.Errorf("blocks = %d, follows = %d, want 1 and 0", blocks, follows)
	}
	if got := f.pub.types(); !reflect.DeepEqual(got, []string{model.ActivityUserFollowed, model.ActivityUserBlocked}) {
		t.Errorf("events = %v", got)
	}

	if err := f.graph.Unblock(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if err := f.graph.Unblock(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("second Unblock: %v", err)
	}
	f.db.Model(&model.UserBlock{}).Count(&blocks)
	if blocks != 0 {
		t.Errorf("blocks after unblock = %d, want 0", blocks)
	}
}

func TestBlockErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a")
	if err := f.graph.Block(ctx, a.ID, a.ID); !errors.Is(err, ErrSelfBlock) {
		t.Errorf("self block err = %v, want ErrSelfBlock", err)
	}
	if err := f.graph.Block(ctx, a.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown block err = %v, want ErrNotFound", err)
	}
	if err := f.graph.Unblock(ctx, a.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown unblock err = %v, want ErrNotFound", err)
	}
}

func TestSearchExclusions(t *testing.T) {
	for _, stack := range graphStacks {
		t.Run(stack.name, func(t *testing.T) {
			f := stack.new(t)
			ctx := context.Background()
			me := f.user(t, "reader")
			followed := f.user(t, "reader_followed")
			blocked := f.user(t, "reader_blocked")
			f.user(t, "Reader_other")
			f.user(t, "unrelated")
			if got, err := f.graph.Search(ctx, me.ID, "reader"); err != nil || len(got) != 3 {
				t.Fatalf("Search before follow = %v, %v; want 3 users", got, err)
			}
			f.follow(t, me, followed)
			if err := f.graph.Block(ctx, me.ID, blocked.ID); err != nil {
				t.Fatalf("Block: %v", err)
			}

			got, err := f.graph.Search(ctx, me.ID, "READER")
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			want := []UserResult{{Username: "Reader_other", Image: model.DefaultAvatar}}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Search = %v, want %v", got, want)
			}
		})
	}
}

func TestSearchBlankAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := f.user(t, "me")
	for i := 0; i < 12; i++ {
		f.user(t, fmt.Sprintf("bookworm%02d", i))
	}

	got, err := f.graph.Search(ctx, me.ID, "   ")
	if err != nil {
		t.Fatalf("Search blank: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Search blank = %#v, want empty non-nil", got)
	}

	got, err = f.graph.Search(ctx, me.ID, "bookworm")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("len(Search) = %d, want 10", len(got))
	}
}
