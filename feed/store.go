// Package feed is the client-side state layer of the social feed: live
// post and comment subscriptions, the mutations users perform, and the
// authentication flows in front of them.
//
// The data itself lives in an external backend reached through Store and
// AccountStore.
package feed

import (
	"context"

	"socialfeed/dbtypes"
)

// Store is the data-access interface to the document backend.
type Store interface {
	// CreatePost stores a new post.  It assigns post.ID and post.CreatedAt.
	CreatePost(ctx context.Context, post *dbtypes.Post) error
	GetPost(ctx context.Context, postID string) (*dbtypes.Post, error)
	// ListPosts returns all posts, newest first.
	ListPosts(ctx context.Context) ([]*dbtypes.Post, error)
	// ListPostsByUser returns the posts written by userID, newest first.
	ListPostsByUser(ctx context.Context, userID string) ([]*dbtypes.Post, error)

	// AddLike adds userID to the post's liker set.  Adding an ID that is
	// already present is not an error.
	AddLike(ctx context.Context, postID, userID string) error
	// RemoveLike removes userID from the post's liker set.
	RemoveLike(ctx context.Context, postID, userID string) error

	// AddComment appends a comment to a post.  It assigns comment.ID,
	// comment.PostID and comment.CreatedAt.
	AddComment(ctx context.Context, postID string, comment *dbtypes.Comment) error
	// ListComments returns a post's comments, oldest first.
	ListComments(ctx context.Context, postID string) ([]*dbtypes.Comment, error)

	GetProfile(ctx context.Context, userID string) (*dbtypes.Profile, error)
	SetProfile(ctx context.Context, profile *dbtypes.Profile) error

	SetUserStatus(ctx context.Context, status *dbtypes.UserStatus) error
	// GetUserStatus returns nil and no error if the user has no status
	// record.
	GetUserStatus(ctx context.Context, userID string) (*dbtypes.UserStatus, error)

	// WatchPosts is the live version of ListPosts.
	WatchPosts(ctx context.Context) *Stream[*dbtypes.Post]
	// WatchComments is the live version of ListComments.
	WatchComments(ctx context.Context, postID string) *Stream[*dbtypes.Comment]
}

// AccountStore holds the authentication provider's records.
type AccountStore interface {
	// CreateAccount stores a new account, assigning account.ID.  It returns
	// ErrEmailTaken if the email is already registered.
	CreateAccount(ctx context.Context, account *dbtypes.Account) error
	AccountByEmail(ctx context.Context, email string) (*dbtypes.Account, error)
	AccountByID(ctx context.Context, id string) (*dbtypes.Account, error)
	UpdateAccount(ctx context.Context, account *dbtypes.Account) error

	CreateSession(ctx context.Context, session *dbtypes.Session) error
	SessionByCookie(ctx context.Context, cookie string) (*dbtypes.Session, error)
	DeleteSession(ctx context.Context, cookie string) error

	CreatePasswordReset(ctx context.Context, reset *dbtypes.PasswordReset) error
	// ConsumePasswordReset looks up and deletes a reset token.
	ConsumePasswordReset(ctx context.Context, token string) (*dbtypes.PasswordReset, error)
}
