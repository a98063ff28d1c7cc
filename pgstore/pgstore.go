// Package pgstore is the Postgres backend.  Likes are stored as one edge row
// per user.  A single listener connection outside the pool LISTENs for
// changes and wakes the live queries they affect, which then re-run their
// query through the pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postsChannel    = "socialfeed_posts"
	commentsChannel = "socialfeed_comments"

	uniqueViolation = "23505"

	reconnectDelay = time.Second
)

type Store struct {
	pool *pgxpool.Pool

	stopListener context.CancelFunc
	listenerDone chan struct{}

	mu          sync.Mutex
	watchers    map[string]map[int]chan struct{}
	nextWatcher int
}

var _ feed.Store = (*Store)(nil)
var _ feed.AccountStore = (*Store)(nil)

// New connects to the database at connStr and creates any missing tables.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("while connecting to database: %w", err)
	}

	s := &Store{
		pool:     pool,
		watchers: map[string]map[int]chan struct{}{},
	}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	conn, err := s.connectListener(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	listenerCtx, stop := context.WithCancel(context.Background())
	s.stopListener = stop
	s.listenerDone = make(chan struct{})
	go s.runListener(listenerCtx, conn)

	return s, nil
}

func (s *Store) Close() {
	s.stopListener()
	<-s.listenerDone
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			text TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS posts_created_at ON posts (created_at DESC, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS posts_user_id ON posts (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS post_likes (
			post_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			liked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (post_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			post_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS comments_post_id ON comments (post_id, created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			notifications_disabled BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_status (
			user_id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			online BOOLEAN NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			cookie TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS password_resets (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("while initializing schema: %w", err)
		}
	}
	return nil
}

const selectPosts = `
SELECT p.id, p.user_id, p.user_name, p.text, p.image_url, p.created_at,
	COALESCE(array_agg(l.user_id ORDER BY l.liked_at, l.user_id) FILTER (WHERE l.user_id IS NOT NULL), '{}')
FROM posts p
LEFT JOIN post_likes l ON l.post_id = p.id
`

const postsOrder = `
GROUP BY p.id
ORDER BY p.created_at DESC, p.seq DESC
`

func scanPosts(rows pgx.Rows) ([]*dbtypes.Post, error) {
	defer rows.Close()

	posts := []*dbtypes.Post{}
	for rows.Next() {
		p := &dbtypes.Post{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.UserName, &p.Text, &p.ImageURL, &p.CreatedAt, &p.Likes); err != nil {
			return nil, fmt.Errorf("while scanning post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("while reading posts: %w", err)
	}
	return posts, nil
}

// notify signals listeners of channel.  Inside a transaction the signal is
// delivered on commit.
func notify(ctx context.Context, tx pgx.Tx, channel, payload string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return fmt.Errorf("while notifying %s: %w", channel, err)
	}
	return nil
}

func (s *Store) CreatePost(ctx context.Context, post *dbtypes.Post) error {
	post.ID = uuid.NewString()
	if post.Likes == nil {
		post.Likes = []string{}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO posts (id, user_id, user_name, text, image_url) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
			post.ID, post.UserID, post.UserName, post.Text, post.ImageURL).Scan(&post.CreatedAt)
		if err != nil {
			return err
		}
		return notify(ctx, tx, postsChannel, post.ID)
	})
	if err != nil {
		return fmt.Errorf("while creating post: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, postID string) (*dbtypes.Post, error) {
	rows, err := s.pool.Query(ctx, selectPosts+`WHERE p.id = $1`+postsOrder, postID)
	if err != nil {
		return nil, fmt.Errorf("while retrieving post %s: %w", postID, err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("while retrieving post %s: %w", postID, err)
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("while retrieving post %s: %w", postID, feed.ErrPostNotFound)
	}
	return posts[0], nil
}

func (s *Store) ListPosts(ctx context.Context) ([]*dbtypes.Post, error) {
	rows, err := s.pool.Query(ctx, selectPosts+postsOrder)
	if err != nil {
		return nil, fmt.Errorf("while listing posts: %w", err)
	}
	return scanPosts(rows)
}

func (s *Store) ListPostsByUser(ctx context.Context, userID string) ([]*dbtypes.Post, error) {
	rows, err := s.pool.Query(ctx, selectPosts+`WHERE p.user_id = $1`+postsOrder, userID)
	if err != nil {
		return nil, fmt.Errorf("while listing posts of %s: %w", userID, err)
	}
	return scanPosts(rows)
}

func postExists(ctx context.Context, tx pgx.Tx, postID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists)
	return exists, err
}

func (s *Store) AddLike(ctx context.Context, postID, userID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		exists, err := postExists(ctx, tx, postID)
		if err != nil {
			return err
		}
		if !exists {
			return feed.ErrPostNotFound
		}
		tag, err := tx.Exec(ctx, `INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, postID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, postsChannel, postID)
	})
	if err != nil {
		return fmt.Errorf("while liking post %s: %w", postID, err)
	}
	return nil
}

func (s *Store) RemoveLike(ctx context.Context, postID, userID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		exists, err := postExists(ctx, tx, postID)
		if err != nil {
			return err
		}
		if !exists {
			return feed.ErrPostNotFound
		}
		tag, err := tx.Exec(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, postsChannel, postID)
	})
	if err != nil {
		return fmt.Errorf("while unliking post %s: %w", postID, err)
	}
	return nil
}

func (s *Store) AddComment(ctx context.Context, postID string, comment *dbtypes.Comment) error {
	comment.ID = uuid.NewString()
	comment.PostID = postID

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO comments (id, post_id, user_id, user_name, text) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
			comment.ID, postID, comment.UserID, comment.UserName, comment.Text).Scan(&comment.CreatedAt)
		if err != nil {
			return err
		}
		return notify(ctx, tx, commentsChannel, postID)
	})
	if err != nil {
		return fmt.Errorf("while adding comment to post %s: %w", postID, err)
	}
	return nil
}

func (s *Store) ListComments(ctx context.Context, postID string) ([]*dbtypes.Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, user_name, text, created_at FROM comments WHERE post_id = $1 ORDER BY created_at, seq`,
		postID)
	if err != nil {
		return nil, fmt.Errorf("while listing comments of post %s: %w", postID, err)
	}
	defer rows.Close()

	comments := []*dbtypes.Comment{}
	for rows.Next() {
		c := &dbtypes.Comment{PostID: postID}
		if err := rows.Scan(&c.ID, &c.UserID, &c.UserName, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("while scanning comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("while listing comments of post %s: %w", postID, err)
	}
	return comments, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*dbtypes.Profile, error) {
	p := &dbtypes.Profile{ID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, display_name, bio, photo_url, email, notifications_disabled, updated_at FROM users WHERE id = $1`,
		userID).Scan(&p.Name, &p.DisplayName, &p.Bio, &p.PhotoURL, &p.Email, &p.NotificationsDisabled, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("while retrieving profile %s: %w", userID, feed.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving profile %s: %w", userID, err)
	}
	return p, nil
}

func (s *Store) SetProfile(ctx context.Context, p *dbtypes.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, display_name, bio, photo_url, email, notifications_disabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		 name = $2, display_name = $3, bio = $4, photo_url = $5, email = $6, notifications_disabled = $7, updated_at = $8`,
		p.ID, p.Name, p.DisplayName, p.Bio, p.PhotoURL, p.Email, p.NotificationsDisabled, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("while writing profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) SetUserStatus(ctx context.Context, st *dbtypes.UserStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_status (user_id, user_name, online, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET user_name = $2, online = $3, last_seen = $4`,
		st.UserID, st.UserName, st.Online, st.LastSeen)
	if err != nil {
		return fmt.Errorf("while writing status of %s: %w", st.UserID, err)
	}
	return nil
}

func (s *Store) GetUserStatus(ctx context.Context, userID string) (*dbtypes.UserStatus, error) {
	st := &dbtypes.UserStatus{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT user_name, online, last_seen FROM user_status WHERE user_id = $1`,
		userID).Scan(&st.UserName, &st.Online, &st.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving status of %s: %w", userID, err)
	}
	return st, nil
}

func commentsTopic(postID string) string {
	return commentsChannel + "/" + postID
}

// notificationTopic maps a notification to the watchers it concerns.
func notificationTopic(n *pgconn.Notification) string {
	if n.Channel == commentsChannel {
		return commentsTopic(n.Payload)
	}
	return n.Channel
}

// connectListener opens the listener connection.  It is configured like the
// pool's connections but is not part of the pool.
func (s *Store) connectListener(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig)
	if err != nil {
		return nil, fmt.Errorf("while connecting listener: %w", err)
	}
	for _, channel := range []string{postsChannel, commentsChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Close(context.Background())
			return nil, fmt.Errorf("while listening on %s: %w", channel, err)
		}
	}
	return conn, nil
}

// runListener wakes watchers on every notification until ctx is cancelled.
// A lost connection is re-established, and every watcher is woken since
// notifications sent in between are gone.
func (s *Store) runListener(ctx context.Context, conn *pgx.Conn) {
	defer close(s.listenerDone)

	for {
		err := s.dispatch(ctx, conn)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		slog.ErrorContext(ctx, "Lost notification listener", slog.Any("err", err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			conn, err = s.connectListener(ctx)
			if err == nil {
				break
			}
			slog.ErrorContext(ctx, "Error reconnecting notification listener", slog.Any("err", err))
		}
		s.changedAll()
	}
}

func (s *Store) dispatch(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("while waiting for notification: %w", err)
		}

		s.mu.Lock()
		s.changedLocked(notificationTopic(n))
		s.mu.Unlock()
	}
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

func (s *Store) changedAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic := range s.watchers {
		s.changedLocked(topic)
	}
}

// follow runs query once, then again every time topic changes.  It holds no
// connection while waiting.
func follow[T any](ctx context.Context, s *Store, topic string, query func(ctx context.Context) ([]T, error), emit feed.EmitFunc[T]) error {
	changed, stop := s.watch(topic)
	defer stop()

	for {
		items, err := query(ctx)
		if err != nil {
			return err
		}
		if err := emit(items); err != nil {
			return err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) WatchPosts(ctx context.Context) *feed.Stream[*dbtypes.Post] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Post]) error {
		return follow(ctx, s, postsChannel, s.ListPosts, emit)
	})
}

func (s *Store) WatchComments(ctx context.Context, postID string) *feed.Stream[*dbtypes.Comment] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Comment]) error {
		query := func(ctx context.Context) ([]*dbtypes.Comment, error) {
			return s.ListComments(ctx, postID)
		}
		return follow(ctx, s, commentsTopic(postID), query, emit)
	})
}

func (s *Store) CreateAccount(ctx context.Context, a *dbtypes.Account) error {
	a.ID = uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, display_name, photo_url, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.PhotoURL, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		a.ID = ""
		return feed.ErrEmailTaken
	}
	if err != nil {
		a.ID = ""
		return fmt.Errorf("while creating account: %w", err)
	}
	return nil
}

const selectAccount = `SELECT id, email, password_hash, display_name, photo_url, created_at FROM accounts `

func scanAccount(row pgx.Row) (*dbtypes.Account, error) {
	a := &dbtypes.Account{}
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.PhotoURL, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, feed.ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*dbtypes.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, selectAccount+`WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("while looking up user with email %q: %w", email, err)
	}
	return a, nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (*dbtypes.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, selectAccount+`WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("while retrieving account %s: %w", id, err)
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *dbtypes.Account) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, display_name = $3, photo_url = $4 WHERE id = $1`,
		a.ID, a.PasswordHash, a.DisplayName, a.PhotoURL)
	if err != nil {
		return fmt.Errorf("while updating account %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("while updating account %s: %w", a.ID, feed.ErrAccountNotFound)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *dbtypes.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (cookie, user_id, expires) VALUES ($1, $2, $3)`,
		session.Cookie, session.UserID, session.Expires)
	if err != nil {
		return fmt.Errorf("while storing session cookie: %w", err)
	}
	return nil
}

func (s *Store) SessionByCookie(ctx context.Context, cookie string) (*dbtypes.Session, error) {
	session := &dbtypes.Session{Cookie: cookie}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, expires FROM sessions WHERE cookie = $1`,
		cookie).Scan(&session.UserID, &session.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, feed.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while looking up session: %w", err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, cookie string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE cookie = $1`, cookie); err != nil {
		return fmt.Errorf("while deleting session: %w", err)
	}
	return nil
}

func (s *Store) CreatePasswordReset(ctx context.Context, reset *dbtypes.PasswordReset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO password_resets (token, user_id, expires) VALUES ($1, $2, $3)`,
		reset.Token, reset.UserID, reset.Expires)
	if err != nil {
		return fmt.Errorf("while storing password reset: %w", err)
	}
	return nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, token string) (*dbtypes.PasswordReset, error) {
	reset := &dbtypes.PasswordReset{Token: token}
	err := s.pool.QueryRow(ctx,
		`DELETE FROM password_resets WHERE token = $1 RETURNING user_id, expires`,
		token).Scan(&reset.UserID, &reset.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, feed.ErrPasswordResetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while consuming password reset: %w", err)
	}
	return reset, nil
}
