package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"github.com/google/go-cmp/cmp"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func postTexts(posts []*dbtypes.Post) []string {
	var out []string
	for _, p := range posts {
		out = append(out, p.Text)
	}
	return out
}

func TestListPostsNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(fixedClock(now)))

	for _, text := range []string{"one", "two", "three"} {
		if err := s.CreatePost(ctx, &dbtypes.Post{UserID: "u1", Text: text}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	posts, err := s.ListPosts(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(postTexts(posts), []string{"three", "two", "one"}); diff != "" {
		t.Errorf("Bad post order; diff (-got +want)\n%s", diff)
	}
}

func TestCreatePostDefaults(t *testing.T) {
	ctx := context.Background()
	s := New()

	post := &dbtypes.Post{UserID: "u1", Text: "hello"}
	if err := s.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if post.ID == "" {
		t.Errorf("CreatePost did not assign an ID")
	}

	got, err := s.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Likes == nil || len(got.Likes) != 0 {
		t.Errorf("Bad likes on new post; got %#v, want empty set", got.Likes)
	}
}

func TestLikesAreASet(t *testing.T) {
	ctx := context.Background()
	s := New()

	post := &dbtypes.Post{UserID: "u1", Text: "hello"}
	if err := s.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, id := range []string{"a", "b", "a"} {
		if err := s.AddLike(ctx, post.ID, id); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	got, _ := s.GetPost(ctx, post.ID)
	if diff := cmp.Diff(got.Likes, []string{"a", "b"}); diff != "" {
		t.Errorf("Bad likes; diff (-got +want)\n%s", diff)
	}

	if err := s.RemoveLike(ctx, post.ID, "a"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got, _ = s.GetPost(ctx, post.ID)
	if diff := cmp.Diff(got.Likes, []string{"b"}); diff != "" {
		t.Errorf("Bad likes; diff (-got +want)\n%s", diff)
	}
}

func TestMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.GetPost(ctx, "nope"); !errors.Is(err, feed.ErrPostNotFound) {
		t.Errorf("GetPost: got err %v, want %v", err, feed.ErrPostNotFound)
	}
	if err := s.AddLike(ctx, "nope", "u1"); !errors.Is(err, feed.ErrPostNotFound) {
		t.Errorf("AddLike: got err %v, want %v", err, feed.ErrPostNotFound)
	}
	if _, err := s.GetProfile(ctx, "nope"); !errors.Is(err, feed.ErrProfileNotFound) {
		t.Errorf("GetProfile: got err %v, want %v", err, feed.ErrProfileNotFound)
	}
	status, err := s.GetUserStatus(ctx, "nope")
	if err != nil || status != nil {
		t.Errorf("GetUserStatus: got (%v, %v), want (nil, nil)", status, err)
	}
}

func TestWatchPosts(t *testing.T) {
	ctx := context.Background()
	s := New()

	st := s.WatchPosts(ctx)
	defer st.Cancel()

	first := <-st.Updates()
	if first.Err != nil || len(first.Items) != 0 {
		t.Fatalf("Bad initial update; got %+v", first)
	}

	if err := s.CreatePost(ctx, &dbtypes.Post{UserID: "u1", Text: "hello"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	select {
	case u := <-st.Updates():
		if diff := cmp.Diff(postTexts(u.Items), []string{"hello"}); diff != "" {
			t.Errorf("Bad update; diff (-got +want)\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for update")
	}
}

func TestWatchCommentsCancel(t *testing.T) {
	ctx := context.Background()
	s := New()

	st := s.WatchComments(ctx, "p1")
	<-st.Updates()
	st.Cancel()

	if _, ok := <-st.Updates(); ok {
		t.Errorf("Updates channel still open after Cancel")
	}

	s.mu.Lock()
	n := len(s.watchers)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("Watcher leaked after Cancel; %d topics still watched", n)
	}

	// Writes after cancellation must not block.
	if err := s.AddComment(ctx, "p1", &dbtypes.Comment{UserID: "u1", Text: "hi"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestCommentsOldestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(fixedClock(now)))

	for _, text := range []string{"first", "second"} {
		if err := s.AddComment(ctx, "p1", &dbtypes.Comment{UserID: "u1", Text: text}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	comments, err := s.ListComments(ctx, "p1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var got []string
	for _, c := range comments {
		got = append(got, c.Text)
		if c.PostID != "p1" {
			t.Errorf("Bad PostID on comment; got %q, want %q", c.PostID, "p1")
		}
	}
	if diff := cmp.Diff(got, []string{"first", "second"}); diff != "" {
		t.Errorf("Bad comment order; diff (-got +want)\n%s", diff)
	}
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &dbtypes.Account{Email: "ann@example.com"}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.CreateAccount(ctx, &dbtypes.Account{Email: "ann@example.com"}); !errors.Is(err, feed.ErrEmailTaken) {
		t.Errorf("Duplicate CreateAccount: got err %v, want %v", err, feed.ErrEmailTaken)
	}

	got, err := s.AccountByEmail(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("Bad account; got ID %q, want %q", got.ID, a.ID)
	}

	reset := &dbtypes.PasswordReset{Token: "tok", UserID: a.ID}
	if err := s.CreatePasswordReset(ctx, reset); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok"); !errors.Is(err, feed.ErrPasswordResetNotFound) {
		t.Errorf("Second ConsumePasswordReset: got err %v, want %v", err, feed.ErrPasswordResetNotFound)
	}
}
