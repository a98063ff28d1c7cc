package dblayer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"cloud.google.com/go/firestore"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// newTestDB connects to the Firestore emulator.  Tests are skipped when it
// is not running.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), "socialfeed-test-"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestPostLikes(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	post := &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: "hello"}
	if err := db.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, id := range []string{"bob", "carol", "bob"} {
		if err := db.AddLike(ctx, post.ID, id); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if err := db.RemoveLike(ctx, post.ID, "carol"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := db.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(got.Likes, []string{"bob"}); diff != "" {
		t.Errorf("Bad likes; diff (-got +want)\n%s", diff)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("createdAt was not set by the server")
	}

	if _, err := db.GetPost(ctx, "missing"); !errors.Is(err, feed.ErrPostNotFound) {
		t.Errorf("Bad error for missing post; got %v, want %v", err, feed.ErrPostNotFound)
	}
}

func TestWatchComments(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	st := db.WatchComments(ctx, "p1")
	defer st.Cancel()

	if err := db.AddComment(ctx, "p1", &dbtypes.Comment{UserID: "ann", Text: "hi"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	timeout := time.After(10 * time.Second)
	for {
		select {
		case u := <-st.Updates():
			if u.Err != nil {
				t.Fatalf("Unexpected error: %v", u.Err)
			}
			if len(u.Items) == 1 && u.Items[0].Text == "hi" && u.Items[0].PostID == "p1" {
				return
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for comment snapshot")
		}
	}
}

func TestAccountEmailUnique(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.CreateAccount(ctx, &dbtypes.Account{Email: "ann@example.com"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := db.CreateAccount(ctx, &dbtypes.Account{Email: "ann@example.com"}); !errors.Is(err, feed.ErrEmailTaken) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrEmailTaken)
	}
}
