// Package memstore is an in-process backend with the same live-query
// semantics as the hosted ones.  It backs tests and local development.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"github.com/google/uuid"
)

const postsTopic = "posts"

func commentsTopic(postID string) string {
	return "comments/" + postID
}

type postRecord struct {
	post *dbtypes.Post
	seq  int64
}

type commentRecord struct {
	comment *dbtypes.Comment
	seq     int64
}

// Store implements feed.Store and feed.AccountStore in memory.
type Store struct {
	now func() time.Time

	mu       sync.Mutex
	seq      int64
	posts    map[string]*postRecord
	comments map[string][]*commentRecord
	profiles map[string]*dbtypes.Profile
	statuses map[string]*dbtypes.UserStatus
	accounts map[string]*dbtypes.Account
	sessions map[string]*dbtypes.Session
	resets   map[string]*dbtypes.PasswordReset

	watchers    map[string]map[int]chan struct{}
	nextWatcher int
}

var _ feed.Store = (*Store)(nil)
var _ feed.AccountStore = (*Store)(nil)

type Opt func(*Store)

// WithClock sets the source of creation timestamps.
func WithClock(now func() time.Time) Opt {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Opt) *Store {
	s := &Store{
		now:      time.Now,
		posts:    map[string]*postRecord{},
		comments: map[string][]*commentRecord{},
		profiles: map[string]*dbtypes.Profile{},
		statuses: map[string]*dbtypes.UserStatus{},
		accounts: map[string]*dbtypes.Account{},
		sessions: map[string]*dbtypes.Session{},
		resets:   map[string]*dbtypes.PasswordReset{},
		watchers: map[string]map[int]chan struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// watch registers interest in a topic.  The returned channel receives a
// value after every change to the topic, coalescing unread changes.
func (s *Store) watch(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	if s.watchers[topic] == nil {
		s.watchers[topic] = map[int]chan struct{}{}
	}
	s.watchers[topic][id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers[topic], id)
		if len(s.watchers[topic]) == 0 {
			delete(s.watchers, topic)
		}
		s.mu.Unlock()
	}
}

func (s *Store) changedLocked(topic string) {
	for _, ch := range s.watchers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) CreatePost(ctx context.Context, post *dbtypes.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post.ID = uuid.NewString()
	post.CreatedAt = s.now()
	if post.Likes == nil {
		post.Likes = []string{}
	}

	s.seq++
	s.posts[post.ID] = &postRecord{post: post.Clone(), seq: s.seq}
	s.changedLocked(postsTopic)
	return nil
}

func (s *Store) GetPost(ctx context.Context, postID string) (*dbtypes.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("while retrieving post %s: %w", postID, feed.ErrPostNotFound)
	}
	return rec.post.Clone(), nil
}

func (s *Store) ListPosts(ctx context.Context) ([]*dbtypes.Post, error) {
	return s.listPosts(func(*dbtypes.Post) bool { return true }), nil
}

func (s *Store) ListPostsByUser(ctx context.Context, userID string) ([]*dbtypes.Post, error) {
	return s.listPosts(func(p *dbtypes.Post) bool { return p.UserID == userID }), nil
}

func (s *Store) listPosts(keep func(*dbtypes.Post) bool) []*dbtypes.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*postRecord, 0, len(s.posts))
	for _, rec := range s.posts {
		if keep(rec.post) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].post.CreatedAt.Equal(recs[j].post.CreatedAt) {
			return recs[i].post.CreatedAt.After(recs[j].post.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	out := make([]*dbtypes.Post, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.post.Clone())
	}
	return out
}

func (s *Store) AddLike(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("while liking post %s: %w", postID, feed.ErrPostNotFound)
	}
	if rec.post.LikedBy(userID) {
		return nil
	}
	rec.post.Likes = append(rec.post.Likes, userID)
	s.changedLocked(postsTopic)
	return nil
}

func (s *Store) RemoveLike(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("while unliking post %s: %w", postID, feed.ErrPostNotFound)
	}
	likes := make([]string, 0, len(rec.post.Likes))
	for _, id := range rec.post.Likes {
		if id != userID {
			likes = append(likes, id)
		}
	}
	rec.post.Likes = likes
	s.changedLocked(postsTopic)
	return nil
}

func (s *Store) AddComment(ctx context.Context, postID string, comment *dbtypes.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment.ID = uuid.NewString()
	comment.PostID = postID
	comment.CreatedAt = s.now()

	s.seq++
	c := *comment
	s.comments[postID] = append(s.comments[postID], &commentRecord{comment: &c, seq: s.seq})
	s.changedLocked(commentsTopic(postID))
	return nil
}

func (s *Store) ListComments(ctx context.Context, postID string) ([]*dbtypes.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := append([]*commentRecord{}, s.comments[postID]...)
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].comment.CreatedAt.Equal(recs[j].comment.CreatedAt) {
			return recs[i].comment.CreatedAt.Before(recs[j].comment.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})

	out := make([]*dbtypes.Comment, 0, len(recs))
	for _, rec := range recs {
		c := *rec.comment
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*dbtypes.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("while retrieving profile %s: %w", userID, feed.ErrProfileNotFound)
	}
	out := *p
	return &out, nil
}

func (s *Store) SetProfile(ctx context.Context, profile *dbtypes.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *profile
	s.profiles[profile.ID] = &p
	return nil
}

func (s *Store) SetUserStatus(ctx context.Context, status *dbtypes.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := *status
	s.statuses[status.UserID] = &st
	return nil
}

func (s *Store) GetUserStatus(ctx context.Context, userID string) (*dbtypes.UserStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[userID]
	if !ok {
		return nil, nil
	}
	out := *st
	return &out, nil
}

func (s *Store) WatchPosts(ctx context.Context) *feed.Stream[*dbtypes.Post] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Post]) error {
		changed, stop := s.watch(postsTopic)
		defer stop()
		for {
			posts, err := s.ListPosts(ctx)
			if err != nil {
				return err
			}
			if err := emit(posts); err != nil {
				return err
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (s *Store) WatchComments(ctx context.Context, postID string) *feed.Stream[*dbtypes.Comment] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Comment]) error {
		changed, stop := s.watch(commentsTopic(postID))
		defer stop()
		for {
			comments, err := s.ListComments(ctx, postID)
			if err != nil {
				return err
			}
			if err := emit(comments); err != nil {
				return err
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (s *Store) CreateAccount(ctx context.Context, account *dbtypes.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == account.Email {
			return feed.ErrEmailTaken
		}
	}
	account.ID = uuid.NewString()
	a := *account
	s.accounts[account.ID] = &a
	return nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*dbtypes.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == email {
			out := *a
			return &out, nil
		}
	}
	return nil, feed.ErrAccountNotFound
}

func (s *Store) AccountByID(ctx context.Context, id string) (*dbtypes.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("while retrieving account %s: %w", id, feed.ErrAccountNotFound)
	}
	out := *a
	return &out, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *dbtypes.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return fmt.Errorf("while updating account %s: %w", account.ID, feed.ErrAccountNotFound)
	}
	a := *account
	s.accounts[account.ID] = &a
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *dbtypes.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := *session
	s.sessions[session.Cookie] = &sess
	return nil
}

func (s *Store) SessionByCookie(ctx context.Context, cookie string) (*dbtypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cookie]
	if !ok {
		return nil, feed.ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

func (s *Store) DeleteSession(ctx context.Context, cookie string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, cookie)
	return nil
}

func (s *Store) CreatePasswordReset(ctx context.Context, reset *dbtypes.PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *reset
	s.resets[reset.Token] = &r
	return nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, token string) (*dbtypes.PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resets[token]
	if !ok {
		return nil, feed.ErrPasswordResetNotFound
	}
	delete(s.resets, token)
	return r, nil
}
