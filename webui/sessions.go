package webui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"socialfeed/feed"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultMutationRate  = 2
	defaultMutationBurst = 10
)

// session is the server-side half of one logged-in browser.
type session struct {
	state   *feed.State
	limiter *rate.Limiter

	// Guarded by Sessions.mu.
	lastUsed time.Time
	streams  int
}

// Sessions maps session cookies to the feed.State serving them.  A State is
// created the first time its cookie is seen and lives until the cookie logs
// out or the session sits idle for longer than the idle timeout.
type Sessions struct {
	newState     func() *feed.State
	idleTimeout  time.Duration
	mutationRate rate.Limit
	burst        int
	now          func() time.Time

	mu       sync.Mutex
	byCookie map[string]*session
}

type SessionsOpt func(*Sessions)

func WithIdleTimeout(d time.Duration) SessionsOpt {
	return func(s *Sessions) {
		s.idleTimeout = d
	}
}

// WithMutationRate limits each session to perSecond mutations, with bursts
// of up to burst.
func WithMutationRate(perSecond float64, burst int) SessionsOpt {
	return func(s *Sessions) {
		s.mutationRate = rate.Limit(perSecond)
		s.burst = burst
	}
}

func WithSessionClock(now func() time.Time) SessionsOpt {
	return func(s *Sessions) {
		s.now = now
	}
}

func NewSessions(newState func() *feed.State, opts ...SessionsOpt) *Sessions {
	s := &Sessions{
		newState:     newState,
		idleTimeout:  defaultIdleTimeout,
		mutationRate: defaultMutationRate,
		burst:        defaultMutationBurst,
		now:          time.Now,
		byCookie:     map[string]*session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// get returns the session for cookie, creating it for user if needed.  A
// session is only published once its State has a user, and a session whose
// State was signed out is replaced.
func (s *Sessions) get(ctx context.Context, cookie string, user *feed.User) *session {
	s.mu.Lock()
	sess, ok := s.byCookie[cookie]
	if ok && sess.state.User() != nil {
		sess.lastUsed = s.now()
		s.mu.Unlock()
		return sess
	}
	if ok {
		delete(s.byCookie, cookie)
	}
	s.mu.Unlock()

	if ok {
		sess.state.Close()
	}

	slog.InfoContext(ctx, "Starting session", slog.String("user", user.ID))
	state := s.newState()
	state.SetUser(ctx, user)

	s.mu.Lock()
	if winner, ok := s.byCookie[cookie]; ok && winner.state.User() != nil {
		// A concurrent request for the same cookie got there first.
		winner.lastUsed = s.now()
		s.mu.Unlock()
		state.Close()
		return winner
	}
	sess = &session{
		state:    state,
		limiter:  rate.NewLimiter(s.mutationRate, s.burst),
		lastUsed: s.now(),
	}
	s.byCookie[cookie] = sess
	s.mu.Unlock()
	return sess
}

// openStream records an open event stream on the session.  Sessions with open
// streams are never evicted.
func (s *Sessions) openStream(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.streams++
	sess.lastUsed = s.now()
}

// closeStream records a closed event stream and returns how many remain
// open on the session.
func (s *Sessions) closeStream(sess *session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.streams--
	sess.lastUsed = s.now()
	return sess.streams
}

// drop signs the session's user out and forgets the session.
func (s *Sessions) drop(ctx context.Context, cookie string) {
	s.mu.Lock()
	sess, ok := s.byCookie[cookie]
	delete(s.byCookie, cookie)
	s.mu.Unlock()

	if !ok {
		return
	}
	sess.state.SignOut(ctx)
	sess.state.Close()
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCookie)
}

// Run evicts idle sessions every period until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
		}

		s.evictIdle(ctx)
	}
}

func (s *Sessions) evictIdle(ctx context.Context) {
	cutoff := s.now().Add(-s.idleTimeout)

	var idle []*session
	s.mu.Lock()
	for cookie, sess := range s.byCookie {
		if sess.streams == 0 && sess.lastUsed.Before(cutoff) {
			idle = append(idle, sess)
			delete(s.byCookie, cookie)
		}
	}
	s.mu.Unlock()

	if len(idle) == 0 {
		return
	}
	slog.InfoContext(ctx, "Evicting idle sessions", slog.Int("count", len(idle)))
	for _, sess := range idle {
		sess.state.SetOnlineStatus(ctx, false)
		sess.state.Close()
	}
}

// closeAll marks every session's user offline and closes all sessions.
func (s *Sessions) closeAll(ctx context.Context) {
	s.mu.Lock()
	all := s.byCookie
	s.byCookie = map[string]*session{}
	s.mu.Unlock()

	for _, sess := range all {
		sess.state.SetOnlineStatus(ctx, false)
		sess.state.Close()
	}
}
