package feed_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"
	"socialfeed/memstore"

	"github.com/google/go-cmp/cmp"
)

var (
	ann = &feed.User{ID: "ann", Email: "ann@example.com", DisplayName: "Ann"}
	bob = &feed.User{ID: "bob", Email: "bob@example.com"}
)

// waitFor blocks until cond holds for s, failing the test after a timeout.
func waitFor(t *testing.T, s *feed.State, what string, cond func() bool) {
	t.Helper()
	changes, stop := s.Changes()
	defer stop()

	timeout := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-changes:
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", what)
		}
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Notify(ctx context.Context, to *feed.Recipient, n *feed.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to.UserID+": "+n.Body)
	return nil
}

func (r *recordingNotifier) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.sent...)
}

// failingStore fails every like write.
type failingStore struct {
	*memstore.Store
}

func (f *failingStore) AddLike(ctx context.Context, postID, userID string) error {
	return errors.New("backend unavailable")
}

// scriptedStore serves post snapshots pushed by the test.  An error pushed
// on errs ends the current stream with that error.
type scriptedStore struct {
	*memstore.Store
	snapshots chan []*dbtypes.Post
	errs      chan error
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		Store:     memstore.New(),
		snapshots: make(chan []*dbtypes.Post),
		errs:      make(chan error),
	}
}

func (s *scriptedStore) WatchPosts(ctx context.Context) *feed.Stream[*dbtypes.Post] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Post]) error {
		for {
			select {
			case snap := <-s.snapshots:
				if err := emit(snap); err != nil {
					return err
				}
			case err := <-s.errs:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func signedIn(t *testing.T, store feed.Store, user *feed.User, opts ...feed.Option) *feed.State {
	t.Helper()
	s := feed.New(store, opts...)
	t.Cleanup(s.Close)
	s.SetUser(context.Background(), user)
	waitFor(t, s, "initial posts", func() bool { return !s.PostsLoading() })
	return s
}

func TestCreatePostWithoutImage(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	post, err := s.CreatePost(ctx, "hello world", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	stored, err := store.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stored.ImageURL != "" {
		t.Errorf("Bad imageUrl; got %q, want empty", stored.ImageURL)
	}
	if stored.Likes == nil || len(stored.Likes) != 0 {
		t.Errorf("Bad likes; got %#v, want empty set", stored.Likes)
	}
	if stored.UserID != "ann" || stored.UserName != "Ann" {
		t.Errorf("Bad author; got (%q, %q), want (%q, %q)", stored.UserID, stored.UserName, "ann", "Ann")
	}

	waitFor(t, s, "post in feed", func() bool { return len(s.Posts()) == 1 })
}

func TestCreatePostRejectsBlankText(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	if _, err := s.CreatePost(ctx, "  \n\t ", ""); !errors.Is(err, feed.ErrEmptyPost) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrEmptyPost)
	}
	posts, _ := store.ListPosts(ctx)
	if len(posts) != 0 {
		t.Errorf("Blank post was written: %+v", posts)
	}
}

func TestCreatePostRequiresUser(t *testing.T) {
	s := feed.New(memstore.New())
	defer s.Close()

	if _, err := s.CreatePost(context.Background(), "hi", ""); !errors.Is(err, feed.ErrNotSignedIn) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrNotSignedIn)
	}
}

func TestToggleLikeTwice(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, bob)

	post, err := s.CreatePost(ctx, "hello", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	waitFor(t, s, "post in feed", func() bool { return len(s.Posts()) == 1 })

	liked, err := s.ToggleLike(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !liked {
		t.Errorf("First toggle should like the post")
	}
	stored, _ := store.GetPost(ctx, post.ID)
	if diff := cmp.Diff(stored.Likes, []string{"bob"}); diff != "" {
		t.Errorf("Bad likes after first toggle; diff (-got +want)\n%s", diff)
	}
	waitFor(t, s, "like in feed", func() bool {
		posts := s.Posts()
		return len(posts) == 1 && posts[0].LikedBy("bob")
	})

	liked, err = s.ToggleLike(ctx, post.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if liked {
		t.Errorf("Second toggle should unlike the post")
	}
	stored, _ = store.GetPost(ctx, post.ID)
	if len(stored.Likes) != 0 {
		t.Errorf("Bad likes after second toggle; got %v, want empty", stored.Likes)
	}
}

func TestLikeNotifiesAuthor(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &recordingNotifier{}

	if err := store.SetProfile(ctx, &dbtypes.Profile{ID: "ann", DisplayName: "Ann", Email: "ann@example.com"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	post := &dbtypes.Post{UserID: "ann", UserName: "Ann", Text: "my post"}
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s := signedIn(t, store, bob, feed.WithNotifier(notifier))
	if err := s.LikePost(ctx, post.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{`ann: bob@example.com liked your post: "my post"`}
	if diff := cmp.Diff(notifier.Sent(), want); diff != "" {
		t.Errorf("Bad notifications; diff (-got +want)\n%s", diff)
	}
}

func TestSelfLikeAndDisabledRecipientAreSilent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &recordingNotifier{}

	if err := store.SetProfile(ctx, &dbtypes.Profile{ID: "ann", Email: "ann@example.com", NotificationsDisabled: true}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	post := &dbtypes.Post{UserID: "ann", Text: "my post"}
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	annState := signedIn(t, store, ann, feed.WithNotifier(notifier))
	if err := annState.LikePost(ctx, post.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	bobState := signedIn(t, store, bob, feed.WithNotifier(notifier))
	if _, err := bobState.AddComment(ctx, post.ID, "nice"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if sent := notifier.Sent(); len(sent) != 0 {
		t.Errorf("Unexpected notifications: %v", sent)
	}
}

func TestLikeMissingPostIsNoop(t *testing.T) {
	s := signedIn(t, memstore.New(), bob)
	if err := s.LikePost(context.Background(), "gone"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if msg := s.Error(); msg != "" {
		t.Errorf("Unexpected error message %q", msg)
	}
}

func TestLikeFailureSetsError(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New()}
	post := &dbtypes.Post{UserID: "ann", Text: "hi"}
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s := signedIn(t, store, bob)
	if err := s.LikePost(ctx, post.ID); err == nil {
		t.Fatalf("LikePost succeeded against a failing store")
	}
	if got, want := s.Error(), "Failed to like post"; got != want {
		t.Errorf("Bad error message; got %q, want %q", got, want)
	}

	s.ClearError()
	if got := s.Error(); got != "" {
		t.Errorf("ClearError left %q", got)
	}
}

func TestWhitespaceCommentRejected(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	post, err := s.CreatePost(ctx, "hello", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := s.AddComment(ctx, post.ID, "   "); !errors.Is(err, feed.ErrEmptyComment) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrEmptyComment)
	}
	if _, err := s.AddComment(ctx, post.ID, strings.Repeat("x", 201)); !errors.Is(err, feed.ErrCommentTooLong) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrCommentTooLong)
	}

	comments, _ := store.ListComments(ctx, post.ID)
	if len(comments) != 0 {
		t.Errorf("Rejected comments were written: %+v", comments)
	}
}

func TestAddCommentShowsInFeed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, bob)

	post, err := s.CreatePost(ctx, "hello", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	waitFor(t, s, "post in feed", func() bool { return len(s.Posts()) == 1 })

	comment, err := s.AddComment(ctx, post.ID, "  first!  ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if comment.Text != "first!" || comment.UserName != "bob" {
		t.Errorf("Bad comment; got (%q, %q), want (%q, %q)", comment.Text, comment.UserName, "first!", "bob")
	}

	waitFor(t, s, "comment in feed", func() bool { return len(s.CommentsForPost(post.ID)) == 1 })
}

func TestPostsUpdateReplacesListWithoutDuplicates(t *testing.T) {
	store := newScriptedStore()
	s := feed.New(store)
	defer s.Close()
	s.SetUser(context.Background(), ann)

	store.snapshots <- []*dbtypes.Post{{ID: "a", Text: "a"}, {ID: "b", Text: "b"}}
	waitFor(t, s, "first snapshot", func() bool { return len(s.Posts()) == 2 })

	store.snapshots <- []*dbtypes.Post{{ID: "c", Text: "c"}, {ID: "b", Text: "b"}, {ID: "c", Text: "dup"}}
	waitFor(t, s, "second snapshot", func() bool {
		posts := s.Posts()
		return len(posts) > 0 && posts[0].ID == "c"
	})

	var got []string
	for _, p := range s.Posts() {
		got = append(got, p.ID+":"+p.Text)
	}
	if diff := cmp.Diff(got, []string{"c:c", "b:b"}); diff != "" {
		t.Errorf("Bad post list; diff (-got +want)\n%s", diff)
	}
}

func TestEditProfileEmptyNameUsesEmail(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	auth := feed.NewAuth(store, store)

	user, err := auth.SignUp(ctx, "Carol", "carol@example.com", "secret123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s := signedIn(t, store, user, feed.WithProfileUpdater(auth))
	profile, err := s.EditProfile(ctx, "   ", "hi there", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if profile.Name != "carol" || profile.DisplayName != "carol" {
		t.Errorf("Bad profile name; got (%q, %q), want %q", profile.Name, profile.DisplayName, "carol")
	}
	if got := s.User().DisplayName; got != "carol" {
		t.Errorf("Bad user display name; got %q, want %q", got, "carol")
	}

	account, err := store.AccountByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if account.DisplayName != "carol" {
		t.Errorf("Auth profile not updated; got %q", account.DisplayName)
	}

	if _, err := s.EditProfile(ctx, "Carol", strings.Repeat("b", 151), ""); !errors.Is(err, feed.ErrBioTooLong) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrBioTooLong)
	}
}

func TestProfileFallsBackToAccount(t *testing.T) {
	s := signedIn(t, memstore.New(), ann)
	profile, err := s.Profile(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if profile.DisplayName != "Ann" || profile.Email != "ann@example.com" {
		t.Errorf("Bad fallback profile %+v", profile)
	}
}

func TestSignOutClearsState(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	post, err := s.CreatePost(ctx, "hello", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.AddComment(ctx, post.ID, "hi"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	waitFor(t, s, "post and comment", func() bool {
		return len(s.Posts()) == 1 && len(s.CommentsForPost(post.ID)) == 1
	})

	s.SignOut(ctx)

	if s.User() != nil {
		t.Errorf("User still set after sign-out")
	}
	if n := len(s.Posts()); n != 0 {
		t.Errorf("%d posts still cached after sign-out", n)
	}
	if n := len(s.CommentsForPost(post.ID)); n != 0 {
		t.Errorf("%d comments still cached after sign-out", n)
	}

	status, err := store.GetUserStatus(ctx, "ann")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status == nil || status.Online {
		t.Errorf("Bad status after sign-out; got %+v, want offline", status)
	}
}

func TestSetUserMarksOnline(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	signedIn(t, store, ann)

	status, err := store.GetUserStatus(ctx, "ann")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status == nil || !status.Online || status.UserName != "Ann" {
		t.Errorf("Bad status; got %+v", status)
	}
}

func TestRealTimeOff(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	s.SetRealTime(false)
	if s.RealTime() {
		t.Fatalf("RealTime still on")
	}

	if err := store.CreatePost(ctx, &dbtypes.Post{UserID: "bob", Text: "while away"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(s.Posts()); n != 0 {
		t.Errorf("Got %d posts with live updates off, want 0", n)
	}

	s.RefreshPosts()
	waitFor(t, s, "refreshed posts", func() bool { return len(s.Posts()) == 1 })

	s.SetRealTime(true)
	if err := store.CreatePost(ctx, &dbtypes.Post{UserID: "bob", Text: "live again"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	waitFor(t, s, "live posts", func() bool { return len(s.Posts()) == 2 })
}

func TestUserProfile(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	if err := store.SetProfile(ctx, &dbtypes.Profile{ID: "bob", Name: "Bob"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := store.CreatePost(ctx, &dbtypes.Post{UserID: "bob", Text: "by bob"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := store.CreatePost(ctx, &dbtypes.Post{UserID: "ann", Text: "by ann"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s := signedIn(t, store, ann)
	up, err := s.UserProfile(ctx, "bob")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(up.Posts) != 1 || up.Posts[0].Text != "by bob" {
		t.Errorf("Bad posts on profile: %+v", up.Posts)
	}
	if up.Status != nil {
		t.Errorf("Bob has never been online; got status %+v", up.Status)
	}

	if _, err := s.UserProfile(ctx, "nobody"); !errors.Is(err, feed.ErrProfileNotFound) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrProfileNotFound)
	}
}

func TestSetNotificationsEnabled(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := signedIn(t, store, ann)

	if err := s.SetNotificationsEnabled(ctx, false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	enabled, err := s.NotificationsEnabled(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if enabled {
		t.Errorf("Notifications still enabled")
	}

	noEmail := signedIn(t, store, &feed.User{ID: "anon"})
	if err := noEmail.SetNotificationsEnabled(ctx, true); !errors.Is(err, feed.ErrNotificationsUnavailable) {
		t.Errorf("Bad error; got %v, want %v", err, feed.ErrNotificationsUnavailable)
	}
}

func TestPostsStreamErrorAndRefresh(t *testing.T) {
	store := newScriptedStore()
	s := feed.New(store)
	defer s.Close()
	s.SetUser(context.Background(), ann)

	store.errs <- errors.New("listener broke")
	waitFor(t, s, "stream error", func() bool { return s.Error() != "" })
	if got, want := s.Error(), "Failed to load posts"; got != want {
		t.Errorf("Bad error message; got %q, want %q", got, want)
	}
	if s.PostsLoading() {
		t.Errorf("Posts still loading after a stream error")
	}

	s.RefreshPosts()
	if got := s.Error(); got != "" {
		t.Errorf("RefreshPosts left error %q", got)
	}
	if !s.PostsLoading() {
		t.Errorf("Posts not loading after RefreshPosts")
	}

	store.snapshots <- []*dbtypes.Post{{ID: "a", Text: "a"}}
	waitFor(t, s, "posts after refresh", func() bool { return len(s.Posts()) == 1 && !s.PostsLoading() })
}

// offer tries to hand snap to a live posts stream, giving up shortly if no
// stream is listening.
func offer(store *scriptedStore, snap []*dbtypes.Post) bool {
	select {
	case store.snapshots <- snap:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestUpdatesAfterTeardownAreDiscarded(t *testing.T) {
	store := newScriptedStore()
	s := feed.New(store)
	defer s.Close()
	s.SetUser(context.Background(), ann)

	store.snapshots <- []*dbtypes.Post{{ID: "a", Text: "a"}}
	waitFor(t, s, "first snapshot", func() bool { return len(s.Posts()) == 1 })

	s.SetRealTime(false)
	if offer(store, []*dbtypes.Post{{ID: "b", Text: "b"}}) {
		t.Errorf("Posts stream still listening with live updates off")
	}
	var got []string
	for _, p := range s.Posts() {
		got = append(got, p.ID)
	}
	if diff := cmp.Diff(got, []string{"a"}); diff != "" {
		t.Errorf("Bad posts with live updates off; diff (-got +want)\n%s", diff)
	}

	s.SetRealTime(true)
	store.snapshots <- []*dbtypes.Post{{ID: "c", Text: "c"}}
	waitFor(t, s, "live snapshot", func() bool {
		posts := s.Posts()
		return len(posts) == 1 && posts[0].ID == "c"
	})

	s.SignOut(context.Background())
	if offer(store, []*dbtypes.Post{{ID: "d", Text: "d"}}) {
		t.Errorf("Posts stream still listening after sign-out")
	}
	if n := len(s.Posts()); n != 0 {
		t.Errorf("Got %d posts after sign-out, want 0", n)
	}
}

func TestToggleLikeOnVanishedPost(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore()
	s := feed.New(store)
	defer s.Close()
	s.SetUser(ctx, ann)

	// The feed still shows a post the backend has already deleted.
	store.snapshots <- []*dbtypes.Post{{ID: "gone", UserID: "bob", Text: "bye", Likes: []string{}}}
	waitFor(t, s, "stale post", func() bool { return len(s.Posts()) == 1 })

	liked, err := s.ToggleLike(ctx, "gone")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if liked {
		t.Errorf("ToggleLike reported a like on a vanished post")
	}
	if posts := s.Posts(); len(posts) != 1 || posts[0].LikedBy("ann") {
		t.Errorf("Optimistic like kept on a vanished post: %+v", posts)
	}
	if msg := s.Error(); msg != "" {
		t.Errorf("Unexpected error message %q", msg)
	}
}
