package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"socialfeed/dbtypes"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	maxCommentLength = 200
	maxBioLength     = 150

	maxConcurrentFetches = 8
)

// ProfileUpdater updates the authentication provider's view of a user.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, userID, displayName, photoURL string) (*User, error)
}

// UserProfile is everything shown on another user's profile page.
type UserProfile struct {
	Profile *dbtypes.Profile
	Posts   []*dbtypes.Post
	// Status is nil if the user has never been online.
	Status *dbtypes.UserStatus
}

type Option func(*State)

// WithNotifier makes the State notify post authors of likes and comments.
func WithNotifier(n Notifier) Option {
	return func(s *State) {
		s.notifier = n
	}
}

// WithProfileUpdater makes profile edits update the authentication provider
// as well as the profile document.
func WithProfileUpdater(p ProfileUpdater) Option {
	return func(s *State) {
		s.profiles = p
	}
}

// State is the shared client-side state of one signed-in client: the current
// user, the live post list, per-post comment lists, and a user-visible error
// string.  Screens read it and call its mutation methods.
//
// State is safe for concurrent use.
type State struct {
	store    Store
	notifier Notifier
	profiles ProfileUpdater

	// ctx scopes the live subscriptions; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	loading      bool
	realTime     bool
	user         *User
	posts        []*dbtypes.Post
	postsLoading bool
	comments     map[string][]*dbtypes.Comment
	errMsg       string

	postsStream    *Stream[*dbtypes.Post]
	commentStreams map[string]*Stream[*dbtypes.Comment]

	listeners    map[int]chan struct{}
	nextListener int
}

// New creates a State with no user.  Call SetUser once the login state is
// known.
func New(store Store, opts ...Option) *State {
	ctx, cancel := context.WithCancel(context.Background())
	s := &State{
		store:          store,
		ctx:            ctx,
		cancel:         cancel,
		loading:        true,
		realTime:       true,
		comments:       map[string][]*dbtypes.Comment{},
		commentStreams: map[string]*Stream[*dbtypes.Comment]{},
		listeners:      map[int]chan struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUser records a change of login state.  All live subscriptions are torn
// down and locally cached posts and comments are dropped.  With a non-nil
// user, the post subscription is restarted and the user is marked online; the
// previous user, if any, is marked offline.
func (s *State) SetUser(ctx context.Context, user *User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	prev := s.user
	s.loading = false
	s.teardownLocked()
	s.posts = nil
	s.comments = map[string][]*dbtypes.Comment{}
	s.postsLoading = false
	s.errMsg = ""
	s.user = nil
	if user != nil {
		u := *user
		s.user = &u
		s.subscribeLocked()
	}
	s.notifyLocked()
	s.mu.Unlock()

	if prev != nil && (user == nil || prev.ID != user.ID) {
		s.writeStatus(ctx, prev, false)
	}
	if user != nil && (prev == nil || prev.ID != user.ID) {
		s.writeStatus(ctx, user, true)
	}
}

// SignOut marks the user offline and clears all locally cached state.
func (s *State) SignOut(ctx context.Context) {
	s.SetUser(ctx, nil)
}

// Close tears down all subscriptions.  The State must not be used afterwards.
func (s *State) Close() {
	s.mu.Lock()
	s.closed = true
	s.teardownLocked()
	s.mu.Unlock()
	s.cancel()
}

// User returns a copy of the current user, or nil.
func (s *State) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Loading is true until the login state is first known.
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Posts returns a copy of the visible post list, newest first.
func (s *State) Posts() []*dbtypes.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dbtypes.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p.Clone())
	}
	return out
}

// PostsLoading is true while the post list is being (re)loaded.
func (s *State) PostsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.postsLoading
}

// CommentsForPost returns a copy of the known comments on a post, oldest
// first.  Unknown posts have no comments.
func (s *State) CommentsForPost(postID string) []*dbtypes.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dbtypes.Comment, 0, len(s.comments[postID]))
	for _, c := range s.comments[postID] {
		cc := *c
		out = append(out, &cc)
	}
	return out
}

// Error returns the current user-visible error message, if any.
func (s *State) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *State) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
	s.notifyLocked()
}

// RealTime reports whether live subscriptions are enabled.
func (s *State) RealTime() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realTime
}

// Changes returns a channel that receives a value after every state change,
// coalescing changes the reader has not caught up with.  Call the returned
// function to stop receiving.
func (s *State) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// RefreshPosts clears the error and reloads the post list.
func (s *State) RefreshPosts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.user == nil {
		return
	}
	s.errMsg = ""
	s.teardownLocked()
	s.subscribeLocked()
	s.notifyLocked()
}

// SetRealTime turns live subscriptions on or off.  While off, the last known
// posts and comments stay visible and RefreshPosts fetches them once.
func (s *State) SetRealTime(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.realTime == enabled {
		return
	}
	s.realTime = enabled
	s.teardownLocked()
	s.postsLoading = false
	if enabled && s.user != nil {
		s.subscribeLocked()
	}
	s.notifyLocked()
}

// CreatePost publishes a post by the current user.  imageURL may be empty.
func (s *State) CreatePost(ctx context.Context, text, imageURL string) (*dbtypes.Post, error) {
	user := s.User()
	if user == nil {
		return nil, ErrNotSignedIn
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPost
	}

	post := &dbtypes.Post{
		UserID:   user.ID,
		UserName: user.Name(),
		Text:     text,
		ImageURL: imageURL,
		Likes:    []string{},
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		slog.ErrorContext(ctx, "Error creating post", slog.Any("err", err))
		s.setError("Failed to create post")
		return nil, fmt.Errorf("while creating post: %w", err)
	}

	return post, nil
}

// LikePost adds the current user to a post's likers and notifies the post's
// author.  Liking a post that no longer exists does nothing.
func (s *State) LikePost(ctx context.Context, postID string) error {
	user := s.User()
	if user == nil {
		return ErrNotSignedIn
	}
	_, err := s.likePost(ctx, user, postID)
	return err
}

// likePost reports whether the like was written.
func (s *State) likePost(ctx context.Context, user *User, postID string) (bool, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, ErrPostNotFound) {
		return false, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "Error liking post", slog.String("post", postID), slog.Any("err", err))
		s.setError("Failed to like post")
		return false, fmt.Errorf("while reading post %s: %w", postID, err)
	}

	if err := s.store.AddLike(ctx, postID, user.ID); err != nil {
		slog.ErrorContext(ctx, "Error liking post", slog.String("post", postID), slog.Any("err", err))
		s.setError("Failed to like post")
		return false, fmt.Errorf("while liking post %s: %w", postID, err)
	}

	if post.UserID != user.ID {
		s.notify(ctx, post.UserID, LikeNotification(user.Name(), post.Text))
	}

	return true, nil
}

// UnlikePost removes the current user from a post's likers.
func (s *State) UnlikePost(ctx context.Context, postID string) error {
	user := s.User()
	if user == nil {
		return ErrNotSignedIn
	}

	if err := s.store.RemoveLike(ctx, postID, user.ID); err != nil {
		slog.ErrorContext(ctx, "Error unliking post", slog.String("post", postID), slog.Any("err", err))
		s.setError("Failed to unlike post")
		return fmt.Errorf("while unliking post %s: %w", postID, err)
	}

	return nil
}

// ToggleLike likes the post if the current user does not like it yet, and
// unlikes it otherwise.  The local post list reflects the change right away;
// the next live update replaces it.  It returns whether the user now likes
// the post.  A post that no longer exists is left unliked.
func (s *State) ToggleLike(ctx context.Context, postID string) (bool, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return false, ErrNotSignedIn
	}
	user := *s.user

	idx := -1
	for i, p := range s.posts {
		if p.ID == postID {
			idx = i
			break
		}
	}

	var liked bool
	if idx >= 0 {
		p := s.posts[idx].Clone()
		liked = p.LikedBy(user.ID)
		if liked {
			p.Likes = removeID(p.Likes, user.ID)
		} else {
			p.Likes = append(p.Likes, user.ID)
		}
		s.posts[idx] = p
		s.notifyLocked()
	}
	s.mu.Unlock()

	if idx < 0 {
		post, err := s.store.GetPost(ctx, postID)
		if errors.Is(err, ErrPostNotFound) {
			return false, nil
		}
		if err != nil {
			s.setError("Failed to like post")
			return false, fmt.Errorf("while reading post %s: %w", postID, err)
		}
		liked = post.LikedBy(user.ID)
	}

	if liked {
		return false, s.UnlikePost(ctx, postID)
	}

	wrote, err := s.likePost(ctx, &user, postID)
	if err != nil {
		return false, err
	}
	if !wrote {
		s.undoLocalLike(postID, user.ID)
		return false, nil
	}
	return true, nil
}

// undoLocalLike takes back an optimistic like from the local post list.
func (s *State) undoLocalLike(postID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.posts {
		if p.ID == postID && p.LikedBy(userID) {
			p = p.Clone()
			p.Likes = removeID(p.Likes, userID)
			s.posts[i] = p
			s.notifyLocked()
			return
		}
	}
}

// AddComment appends a comment by the current user to a post and notifies
// the post's author.  Whitespace-only text is rejected without a write.
func (s *State) AddComment(ctx context.Context, postID, text string) (*dbtypes.Comment, error) {
	user := s.User()
	if user == nil {
		return nil, ErrNotSignedIn
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyComment
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	comment := &dbtypes.Comment{
		UserID:   user.ID,
		UserName: user.ShortName(),
		Text:     text,
	}
	if err := s.store.AddComment(ctx, postID, comment); err != nil {
		slog.ErrorContext(ctx, "Error adding comment", slog.String("post", postID), slog.Any("err", err))
		return nil, fmt.Errorf("while adding comment to post %s: %w", postID, err)
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		slog.WarnContext(ctx, "Could not read post to notify its author", slog.String("post", postID), slog.Any("err", err))
		return comment, nil
	}
	if post.UserID != user.ID {
		s.notify(ctx, post.UserID, CommentNotification(comment.UserName, text, post.Text))
	}

	return comment, nil
}

// SetOnlineStatus records whether the current user is online.  Failures are
// logged and otherwise ignored.
func (s *State) SetOnlineStatus(ctx context.Context, online bool) {
	user := s.User()
	if user == nil {
		return
	}
	s.writeStatus(ctx, user, online)
}

// Profile returns the current user's profile.  Users without a profile
// document get one derived from their account.
func (s *State) Profile(ctx context.Context) (*dbtypes.Profile, error) {
	user := s.User()
	if user == nil {
		return nil, ErrNotSignedIn
	}

	profile, err := s.store.GetProfile(ctx, user.ID)
	if errors.Is(err, ErrProfileNotFound) {
		return &dbtypes.Profile{
			ID:          user.ID,
			Name:        user.DisplayName,
			DisplayName: user.DisplayName,
			PhotoURL:    user.PhotoURL,
			Email:       user.Email,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while reading profile: %w", err)
	}
	return profile, nil
}

// EditProfile saves the current user's name, bio and photo.  An empty name
// falls back to one derived from the user's email.
func (s *State) EditProfile(ctx context.Context, name, bio, photoURL string) (*dbtypes.Profile, error) {
	user := s.User()
	if user == nil {
		return nil, ErrNotSignedIn
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = EmailDefaultName(user.Email)
	}
	if utf8.RuneCountInString(bio) > maxBioLength {
		return nil, ErrBioTooLong
	}

	if s.profiles != nil {
		if _, err := s.profiles.UpdateProfile(ctx, user.ID, name, photoURL); err != nil {
			slog.ErrorContext(ctx, "Error updating auth profile", slog.Any("err", err))
			return nil, fmt.Errorf("while updating auth profile: %w", err)
		}
	}

	profile, err := s.Profile(ctx)
	if err != nil {
		return nil, err
	}
	profile.Name = name
	profile.DisplayName = name
	profile.Bio = bio
	profile.PhotoURL = photoURL
	profile.Email = user.Email
	profile.UpdatedAt = time.Now()
	if err := s.store.SetProfile(ctx, profile); err != nil {
		slog.ErrorContext(ctx, "Error saving profile", slog.Any("err", err))
		return nil, fmt.Errorf("while saving profile: %w", err)
	}

	s.mu.Lock()
	if s.user != nil && s.user.ID == user.ID {
		s.user.DisplayName = name
		s.user.PhotoURL = photoURL
		s.notifyLocked()
	}
	s.mu.Unlock()

	return profile, nil
}

// UserProfile loads another user's profile, posts and online status.
func (s *State) UserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("while reading profile of %s: %w", userID, err)
	}

	posts, err := s.store.ListPostsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("while listing posts of %s: %w", userID, err)
	}

	status, err := s.store.GetUserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("while reading status of %s: %w", userID, err)
	}

	return &UserProfile{
		Profile: profile,
		Posts:   posts,
		Status:  status,
	}, nil
}

// NotificationsEnabled reports whether the current user receives
// notifications.
func (s *State) NotificationsEnabled(ctx context.Context) (bool, error) {
	profile, err := s.Profile(ctx)
	if err != nil {
		return false, err
	}
	return !profile.NotificationsDisabled, nil
}

// SetNotificationsEnabled turns notifications for the current user on or
// off.  Turning them on requires an address to deliver to.
func (s *State) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	user := s.User()
	if user == nil {
		return ErrNotSignedIn
	}
	if enabled && user.Email == "" {
		return ErrNotificationsUnavailable
	}

	profile, err := s.Profile(ctx)
	if err != nil {
		return err
	}
	profile.NotificationsDisabled = !enabled
	if err := s.store.SetProfile(ctx, profile); err != nil {
		return fmt.Errorf("while saving notification preference: %w", err)
	}
	return nil
}

func (s *State) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.notifyLocked()
}

func (s *State) notifyLocked() {
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *State) writeStatus(ctx context.Context, user *User, online bool) {
	status := &dbtypes.UserStatus{
		UserID:   user.ID,
		UserName: user.Name(),
		Online:   online,
		LastSeen: time.Now(),
	}
	if err := s.store.SetUserStatus(ctx, status); err != nil {
		slog.ErrorContext(ctx, "Error setting user status", slog.String("user", user.ID), slog.Any("err", err))
	}
}

func (s *State) notify(ctx context.Context, recipientID string, n *Notification) {
	if s.notifier == nil {
		return
	}

	profile, err := s.store.GetProfile(ctx, recipientID)
	if err != nil {
		slog.WarnContext(ctx, "Could not look up notification recipient", slog.String("user", recipientID), slog.Any("err", err))
		return
	}
	if profile.NotificationsDisabled {
		return
	}

	to := &Recipient{
		UserID: recipientID,
		Name:   profile.DisplayName,
		Email:  profile.Email,
	}
	if err := s.notifier.Notify(ctx, to, n); err != nil {
		slog.ErrorContext(ctx, "Error sending notification", slog.String("kind", n.Kind), slog.String("user", recipientID), slog.Any("err", err))
	}
}

// subscribeLocked starts the post subscription.  Comment subscriptions follow
// the post list.  With live updates off, it fetches everything once instead.
func (s *State) subscribeLocked() {
	s.postsLoading = true
	if !s.realTime {
		go s.fetchOnce(s.user.ID)
		return
	}
	st := s.store.WatchPosts(s.ctx)
	s.postsStream = st
	go s.consumePosts(st)
}

// teardownLocked cancels every live subscription.  Cached data is kept.
func (s *State) teardownLocked() {
	if s.postsStream != nil {
		s.postsStream.Cancel()
		s.postsStream = nil
	}
	for id, st := range s.commentStreams {
		st.Cancel()
		delete(s.commentStreams, id)
	}
}

func (s *State) consumePosts(st *Stream[*dbtypes.Post]) {
	for u := range st.Updates() {
		s.mu.Lock()
		if s.postsStream != st {
			// Torn down while this update was in flight.
			s.mu.Unlock()
			continue
		}

		if u.Err != nil {
			slog.ErrorContext(s.ctx, "Posts listener error", slog.Any("err", u.Err))
			s.errMsg = "Failed to load posts"
		} else {
			s.posts = dedupePosts(u.Items)
			s.syncCommentStreamsLocked()
		}
		s.postsLoading = false
		s.notifyLocked()
		s.mu.Unlock()
	}
}

// syncCommentStreamsLocked keeps exactly one comment subscription per visible
// post.
func (s *State) syncCommentStreamsLocked() {
	visible := make(map[string]bool, len(s.posts))
	for _, p := range s.posts {
		visible[p.ID] = true
	}

	for id, st := range s.commentStreams {
		if !visible[id] {
			st.Cancel()
			delete(s.commentStreams, id)
			delete(s.comments, id)
		}
	}

	for _, p := range s.posts {
		if _, ok := s.commentStreams[p.ID]; ok {
			continue
		}
		st := s.store.WatchComments(s.ctx, p.ID)
		s.commentStreams[p.ID] = st
		go s.consumeComments(p.ID, st)
	}
}

func (s *State) consumeComments(postID string, st *Stream[*dbtypes.Comment]) {
	for u := range st.Updates() {
		s.mu.Lock()
		if s.commentStreams[postID] != st {
			s.mu.Unlock()
			continue
		}

		if u.Err != nil {
			slog.ErrorContext(s.ctx, "Comments listener error", slog.String("post", postID), slog.Any("err", u.Err))
		} else {
			s.comments[postID] = u.Items
			s.notifyLocked()
		}
		s.mu.Unlock()
	}
}

// fetchOnce loads posts and their comments without subscribing.
func (s *State) fetchOnce(userID string) {
	posts, err := s.store.ListPosts(s.ctx)

	comments := map[string][]*dbtypes.Comment{}
	if err == nil {
		comments, err = s.fetchComments(posts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != userID || s.realTime {
		return
	}
	s.postsLoading = false
	if err != nil {
		slog.ErrorContext(s.ctx, "Error fetching posts", slog.Any("err", err))
		s.errMsg = "Failed to load posts"
	} else {
		s.posts = dedupePosts(posts)
		s.comments = comments
	}
	s.notifyLocked()
}

// fetchComments loads the comments of every post, a few posts at a time.
func (s *State) fetchComments(posts []*dbtypes.Post) (map[string][]*dbtypes.Comment, error) {
	var mu sync.Mutex
	comments := make(map[string][]*dbtypes.Comment, len(posts))

	eg, ctx := errgroup.WithContext(s.ctx)
	sem := semaphore.NewWeighted(maxConcurrentFetches)
	for _, p := range posts {
		postID := p.ID

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)

			cs, err := s.store.ListComments(ctx, postID)
			if err != nil {
				return fmt.Errorf("while listing comments of post %s: %w", postID, err)
			}

			mu.Lock()
			defer mu.Unlock()
			comments[postID] = cs
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	// Wait cancels ctx itself, so only the parent tells whether the loop
	// was cut short.
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}

func dedupePosts(in []*dbtypes.Post) []*dbtypes.Post {
	seen := make(map[string]bool, len(in))
	out := make([]*dbtypes.Post, 0, len(in))
	for _, p := range in {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
