package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
)

// newTestStore connects to the database named by SOCIALFEED_TEST_POSTGRES_DSN
// and empties it.  Tests are skipped when it is not set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SOCIALFEED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOCIALFEED_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(s.Close)

	for _, table := range []string{"posts", "post_likes", "comments", "users", "user_status", "accounts", "sessions", "password_resets"} {
		if _, err := s.pool.Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	return s
}

func TestLikes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	post := &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: "hello"}
	if err := s.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, id := range []string{"bob", "carol", "bob"} {
		if err := s.AddLike(ctx, post.ID, id); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if err := s.RemoveLike(ctx, post.ID, "carol"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := s.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(got.Likes, []string{"bob"}); diff != "" {
		t.Errorf("Bad likes; diff (-got +want)\n%s", diff)
	}

	if err := s.AddLike(ctx, "missing", "bob"); !errors.Is(err, feed.ErrPostNotFound) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrPostNotFound)
	}
}

func TestNewPostHasEmptyLikes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	post := &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: "hello"}
	if err := s.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	posts, err := s.ListPosts(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(posts) != 1 || posts[0].Likes == nil || len(posts[0].Likes) != 0 || posts[0].ImageURL != "" {
		t.Errorf("Bad posts: %+v", posts)
	}
}

func TestWatchPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st := s.WatchPosts(ctx)
	defer st.Cancel()

	if u := <-st.Updates(); u.Err != nil || len(u.Items) != 0 {
		t.Fatalf("Bad initial update %+v", u)
	}

	if err := s.CreatePost(ctx, &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: "hello"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	select {
	case u := <-st.Updates():
		if u.Err != nil || len(u.Items) != 1 || u.Items[0].Text != "hello" {
			t.Errorf("Bad update %+v", u)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Timed out waiting for update")
	}
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &dbtypes.Account{Email: "ann@example.com", PasswordHash: "x", CreatedAt: time.Now()}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	dup := &dbtypes.Account{Email: "ann@example.com", PasswordHash: "y", CreatedAt: time.Now()}
	if err := s.CreateAccount(ctx, dup); !errors.Is(err, feed.ErrEmailTaken) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrEmailTaken)
	}

	if _, err := s.AccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, feed.ErrAccountNotFound) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrAccountNotFound)
	}

	reset := &dbtypes.PasswordReset{Token: "tok", UserID: a.ID, Expires: time.Now().Add(time.Hour)}
	if err := s.CreatePasswordReset(ctx, reset); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok"); !errors.Is(err, feed.ErrPasswordResetNotFound) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrPasswordResetNotFound)
	}
}

func TestNotificationTopic(t *testing.T) {
	tests := []struct {
		n    *pgconn.Notification
		want string
	}{
		{&pgconn.Notification{Channel: postsChannel, Payload: "p1"}, postsChannel},
		{&pgconn.Notification{Channel: commentsChannel, Payload: "p1"}, commentsTopic("p1")},
	}
	for _, tt := range tests {
		if got := notificationTopic(tt.n); got != tt.want {
			t.Errorf("notificationTopic(%+v) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestWatchersAreWokenByTopic(t *testing.T) {
	s := &Store{watchers: map[string]map[int]chan struct{}{}}

	posts, stopPosts := s.watch(postsChannel)
	comments, stopComments := s.watch(commentsTopic("p1"))
	defer stopComments()

	s.mu.Lock()
	s.changedLocked(postsChannel)
	s.changedLocked(postsChannel)
	s.mu.Unlock()

	select {
	case <-posts:
	default:
		t.Fatalf("Posts watcher not woken")
	}
	select {
	case <-posts:
		t.Errorf("Unread changes were not coalesced")
	default:
	}
	select {
	case <-comments:
		t.Errorf("Comments watcher woken by a posts change")
	default:
	}

	s.changedAll()
	select {
	case <-comments:
	default:
		t.Errorf("Comments watcher not woken by changedAll")
	}

	stopPosts()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[postsChannel]; ok {
		t.Errorf("Stopped watcher still registered")
	}
}

// Each live query must give its connection back while it waits, or a feed
// with more posts than the pool has connections stops updating.
func TestLiveQueriesOutnumberPool(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n := int(s.pool.Config().MaxConns) + 2
	var postIDs []string
	for i := 0; i < n; i++ {
		post := &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: fmt.Sprintf("post %d", i)}
		if err := s.CreatePost(ctx, post); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		postIDs = append(postIDs, post.ID)
	}

	posts := s.WatchPosts(ctx)
	defer posts.Cancel()
	var comments []*feed.Stream[*dbtypes.Comment]
	for _, id := range postIDs {
		st := s.WatchComments(ctx, id)
		defer st.Cancel()
		comments = append(comments, st)
	}

	timeout := time.After(10 * time.Second)
	select {
	case u := <-posts.Updates():
		if u.Err != nil || len(u.Items) != n {
			t.Fatalf("Bad initial posts update %+v", u)
		}
	case <-timeout:
		t.Fatalf("Timed out waiting for posts")
	}
	for i, st := range comments {
		select {
		case u := <-st.Updates():
			if u.Err != nil || len(u.Items) != 0 {
				t.Fatalf("Bad initial comments update for post %d: %+v", i, u)
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for comments of post %d", i)
		}
	}

	// Ordinary queries still get a connection.
	if _, err := s.AccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, feed.ErrAccountNotFound) {
		t.Fatalf("Bad error; got %v, want %v", err, feed.ErrAccountNotFound)
	}

	last := postIDs[n-1]
	if err := s.AddComment(ctx, last, &dbtypes.Comment{UserID: "bob", UserName: "bob", Text: "hi"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	select {
	case u := <-comments[n-1].Updates():
		if u.Err != nil || len(u.Items) != 1 || u.Items[0].Text != "hi" {
			t.Errorf("Bad comments update %+v", u)
		}
	case <-timeout:
		t.Fatalf("Timed out waiting for the new comment")
	}
}
