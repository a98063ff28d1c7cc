// Package dblayer packages up most actual firestore accesses.
package dblayer

import (
	"context"
	"errors"
	"fmt"

	"socialfeed/dbtypes"
	"socialfeed/feed"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	postsCollection          = "posts"
	commentsCollection       = "comments"
	usersCollection          = "users"
	userStatusCollection     = "userStatus"
	accountsCollection       = "accounts"
	sessionsCollection       = "sessions"
	passwordResetsCollection = "passwordResets"
)

type DB struct {
	firestoreClient *firestore.Client
}

var _ feed.Store = (*DB)(nil)
var _ feed.AccountStore = (*DB)(nil)

func New(firestoreClient *firestore.Client) *DB {
	return &DB{
		firestoreClient: firestoreClient,
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := otel.Tracer("socialfeed/dblayer")
	return tracer.Start(ctx, name)
}

// fail records err on the span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (db *DB) postRef(postID string) *firestore.DocumentRef {
	return db.firestoreClient.Collection(postsCollection).Doc(postID)
}

func (db *DB) commentsRef(postID string) *firestore.CollectionRef {
	return db.postRef(postID).Collection(commentsCollection)
}

func postFromSnapshot(snap *firestore.DocumentSnapshot) (*dbtypes.Post, error) {
	post := &dbtypes.Post{}
	if err := snap.DataTo(post); err != nil {
		return nil, fmt.Errorf("while unmarshaling post %s: %w", snap.Ref.ID, err)
	}
	post.ID = snap.Ref.ID
	if post.Likes == nil {
		post.Likes = []string{}
	}
	return post, nil
}

func postsFromSnapshots(snaps []*firestore.DocumentSnapshot) ([]*dbtypes.Post, error) {
	posts := make([]*dbtypes.Post, 0, len(snaps))
	for _, snap := range snaps {
		post, err := postFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func commentsFromSnapshots(postID string, snaps []*firestore.DocumentSnapshot) ([]*dbtypes.Comment, error) {
	comments := make([]*dbtypes.Comment, 0, len(snaps))
	for _, snap := range snaps {
		comment := &dbtypes.Comment{}
		if err := snap.DataTo(comment); err != nil {
			return nil, fmt.Errorf("while unmarshaling comment %s: %w", snap.Ref.ID, err)
		}
		comment.ID = snap.Ref.ID
		comment.PostID = postID
		comments = append(comments, comment)
	}
	return comments, nil
}

func (db *DB) CreatePost(ctx context.Context, post *dbtypes.Post) error {
	ctx, span := startSpan(ctx, "DB.CreatePost")
	defer span.End()

	if post.Likes == nil {
		post.Likes = []string{}
	}

	ref := db.firestoreClient.Collection(postsCollection).NewDoc()
	post.ID = ref.ID
	wr, err := ref.Create(ctx, post)
	if err != nil {
		return fail(span, fmt.Errorf("while creating post: %w", err))
	}
	post.CreatedAt = wr.UpdateTime

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) GetPost(ctx context.Context, postID string) (*dbtypes.Post, error) {
	ctx, span := startSpan(ctx, "DB.GetPost")
	defer span.End()

	snap, err := db.postRef(postID).Get(ctx)
	if isNotFound(err) {
		span.SetStatus(otelcodes.Ok, "")
		return nil, fmt.Errorf("while retrieving post %s: %w", postID, feed.ErrPostNotFound)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("while retrieving post %s: %w", postID, err))
	}

	post, err := postFromSnapshot(snap)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return post, nil
}

func (db *DB) postsQuery() firestore.Query {
	return db.firestoreClient.Collection(postsCollection).OrderBy("createdAt", firestore.Desc)
}

func (db *DB) ListPosts(ctx context.Context) ([]*dbtypes.Post, error) {
	ctx, span := startSpan(ctx, "DB.ListPosts")
	defer span.End()

	snaps, err := db.postsQuery().Documents(ctx).GetAll()
	if err != nil {
		return nil, fail(span, fmt.Errorf("while listing posts: %w", err))
	}
	posts, err := postsFromSnapshots(snaps)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return posts, nil
}

func (db *DB) ListPostsByUser(ctx context.Context, userID string) ([]*dbtypes.Post, error) {
	ctx, span := startSpan(ctx, "DB.ListPostsByUser")
	defer span.End()

	q := db.firestoreClient.Collection(postsCollection).
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc)
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fail(span, fmt.Errorf("while listing posts of %s: %w", userID, err))
	}
	posts, err := postsFromSnapshots(snaps)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return posts, nil
}

func (db *DB) updateLikes(ctx context.Context, spanName, postID string, value interface{}) error {
	ctx, span := startSpan(ctx, spanName)
	defer span.End()

	_, err := db.postRef(postID).Update(ctx, []firestore.Update{{Path: "likes", Value: value}})
	if isNotFound(err) {
		return fmt.Errorf("while updating likes of post %s: %w", postID, feed.ErrPostNotFound)
	}
	if err != nil {
		return fail(span, fmt.Errorf("while updating likes of post %s: %w", postID, err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) AddLike(ctx context.Context, postID, userID string) error {
	return db.updateLikes(ctx, "DB.AddLike", postID, firestore.ArrayUnion(userID))
}

func (db *DB) RemoveLike(ctx context.Context, postID, userID string) error {
	return db.updateLikes(ctx, "DB.RemoveLike", postID, firestore.ArrayRemove(userID))
}

func (db *DB) AddComment(ctx context.Context, postID string, comment *dbtypes.Comment) error {
	ctx, span := startSpan(ctx, "DB.AddComment")
	defer span.End()

	ref := db.commentsRef(postID).NewDoc()
	comment.ID = ref.ID
	comment.PostID = postID
	wr, err := ref.Create(ctx, comment)
	if err != nil {
		return fail(span, fmt.Errorf("while adding comment to post %s: %w", postID, err))
	}
	comment.CreatedAt = wr.UpdateTime

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) commentsQuery(postID string) firestore.Query {
	return db.commentsRef(postID).OrderBy("createdAt", firestore.Asc)
}

func (db *DB) ListComments(ctx context.Context, postID string) ([]*dbtypes.Comment, error) {
	ctx, span := startSpan(ctx, "DB.ListComments")
	defer span.End()

	snaps, err := db.commentsQuery(postID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fail(span, fmt.Errorf("while listing comments of post %s: %w", postID, err))
	}
	comments, err := commentsFromSnapshots(postID, snaps)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return comments, nil
}

func (db *DB) GetProfile(ctx context.Context, userID string) (*dbtypes.Profile, error) {
	ctx, span := startSpan(ctx, "DB.GetProfile")
	defer span.End()

	snap, err := db.firestoreClient.Collection(usersCollection).Doc(userID).Get(ctx)
	if isNotFound(err) {
		span.SetStatus(otelcodes.Ok, "")
		return nil, fmt.Errorf("while retrieving profile %s: %w", userID, feed.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("while retrieving profile %s: %w", userID, err))
	}

	profile := &dbtypes.Profile{}
	if err := snap.DataTo(profile); err != nil {
		return nil, fail(span, fmt.Errorf("while unmarshaling profile %s: %w", userID, err))
	}
	profile.ID = userID

	span.SetStatus(otelcodes.Ok, "")
	return profile, nil
}

func (db *DB) SetProfile(ctx context.Context, profile *dbtypes.Profile) error {
	ctx, span := startSpan(ctx, "DB.SetProfile")
	defer span.End()

	if _, err := db.firestoreClient.Collection(usersCollection).Doc(profile.ID).Set(ctx, profile); err != nil {
		return fail(span, fmt.Errorf("while writing profile %s: %w", profile.ID, err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) SetUserStatus(ctx context.Context, st *dbtypes.UserStatus) error {
	ctx, span := startSpan(ctx, "DB.SetUserStatus")
	defer span.End()

	if _, err := db.firestoreClient.Collection(userStatusCollection).Doc(st.UserID).Set(ctx, st); err != nil {
		return fail(span, fmt.Errorf("while writing status of %s: %w", st.UserID, err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) GetUserStatus(ctx context.Context, userID string) (*dbtypes.UserStatus, error) {
	ctx, span := startSpan(ctx, "DB.GetUserStatus")
	defer span.End()

	snap, err := db.firestoreClient.Collection(userStatusCollection).Doc(userID).Get(ctx)
	if isNotFound(err) {
		span.SetStatus(otelcodes.Ok, "")
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("while retrieving status of %s: %w", userID, err))
	}

	st := &dbtypes.UserStatus{}
	if err := snap.DataTo(st); err != nil {
		return nil, fail(span, fmt.Errorf("while unmarshaling status of %s: %w", userID, err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return st, nil
}

// watchQuery follows a query's snapshot listener, passing every result set to
// emit after converting it with conv.
func watchQuery[T any](ctx context.Context, q firestore.Query, emit feed.EmitFunc[T], conv func([]*firestore.DocumentSnapshot) ([]T, error)) error {
	iter := q.Snapshots(ctx)
	defer iter.Stop()

	for {
		qs, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return ctx.Err()
			}
			return fmt.Errorf("while waiting for query snapshot: %w", err)
		}

		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("while reading query snapshot: %w", err)
		}
		items, err := conv(snaps)
		if err != nil {
			return err
		}
		if err := emit(items); err != nil {
			return err
		}
	}
}

func (db *DB) WatchPosts(ctx context.Context) *feed.Stream[*dbtypes.Post] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Post]) error {
		return watchQuery(ctx, db.postsQuery(), emit, postsFromSnapshots)
	})
}

func (db *DB) WatchComments(ctx context.Context, postID string) *feed.Stream[*dbtypes.Comment] {
	return feed.NewStream(ctx, func(ctx context.Context, emit feed.EmitFunc[*dbtypes.Comment]) error {
		return watchQuery(ctx, db.commentsQuery(postID), emit, func(snaps []*firestore.DocumentSnapshot) ([]*dbtypes.Comment, error) {
			return commentsFromSnapshots(postID, snaps)
		})
	})
}

// CreateAccount stores a new account.  Email uniqueness is enforced inside a
// transaction.
func (db *DB) CreateAccount(ctx context.Context, account *dbtypes.Account) error {
	ctx, span := startSpan(ctx, "DB.CreateAccount")
	defer span.End()

	accounts := db.firestoreClient.Collection(accountsCollection)
	ref := accounts.NewDoc()
	err := db.firestoreClient.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(accounts.Where("email", "==", account.Email).Limit(1)).GetAll()
		if err != nil {
			return fmt.Errorf("while looking up user with email %q: %w", account.Email, err)
		}
		if len(existing) != 0 {
			return feed.ErrEmailTaken
		}
		return tx.Create(ref, account)
	})
	if errors.Is(err, feed.ErrEmailTaken) {
		return err
	}
	if err != nil {
		return fail(span, fmt.Errorf("while creating account: %w", err))
	}
	account.ID = ref.ID

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func accountFromSnapshot(snap *firestore.DocumentSnapshot) (*dbtypes.Account, error) {
	account := &dbtypes.Account{}
	if err := snap.DataTo(account); err != nil {
		return nil, fmt.Errorf("while unmarshaling account: %w", err)
	}
	account.ID = snap.Ref.ID
	return account, nil
}

func (db *DB) AccountByEmail(ctx context.Context, email string) (*dbtypes.Account, error) {
	ctx, span := startSpan(ctx, "DB.AccountByEmail")
	defer span.End()

	var accountSnapshot *firestore.DocumentSnapshot
	accountIter := db.firestoreClient.Collection(accountsCollection).Where("email", "==", email).Documents(ctx)
	defer accountIter.Stop()
	for {
		var err error
		accountSnapshot, err = accountIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fail(span, fmt.Errorf("while looking up user with email %q: %w", email, err))
		}

		// We only consider a single account.
		break
	}

	if accountSnapshot == nil {
		span.SetStatus(otelcodes.Ok, "")
		return nil, feed.ErrAccountNotFound
	}

	account, err := accountFromSnapshot(accountSnapshot)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return account, nil
}

func (db *DB) AccountByID(ctx context.Context, id string) (*dbtypes.Account, error) {
	ctx, span := startSpan(ctx, "DB.AccountByID")
	defer span.End()

	snap, err := db.firestoreClient.Collection(accountsCollection).Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("while retrieving account %s: %w", id, feed.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("while retrieving account %s: %w", id, err))
	}

	account, err := accountFromSnapshot(snap)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetStatus(otelcodes.Ok, "")
	return account, nil
}

func (db *DB) UpdateAccount(ctx context.Context, account *dbtypes.Account) error {
	ctx, span := startSpan(ctx, "DB.UpdateAccount")
	defer span.End()

	_, err := db.firestoreClient.Collection(accountsCollection).Doc(account.ID).Update(ctx, []firestore.Update{
		{Path: "passwordHash", Value: account.PasswordHash},
		{Path: "displayName", Value: account.DisplayName},
		{Path: "photoURL", Value: account.PhotoURL},
	})
	if isNotFound(err) {
		return fmt.Errorf("while updating account %s: %w", account.ID, feed.ErrAccountNotFound)
	}
	if err != nil {
		return fail(span, fmt.Errorf("while updating account %s: %w", account.ID, err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) CreateSession(ctx context.Context, session *dbtypes.Session) error {
	ctx, span := startSpan(ctx, "DB.CreateSession")
	defer span.End()

	if _, _, err := db.firestoreClient.Collection(sessionsCollection).Add(ctx, session); err != nil {
		return fail(span, fmt.Errorf("while storing session cookie: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

// SessionByCookie looks up a session from its cookie.
func (db *DB) SessionByCookie(ctx context.Context, cookie string) (*dbtypes.Session, error) {
	ctx, span := startSpan(ctx, "DB.SessionByCookie")
	defer span.End()

	var sessionSnapshot *firestore.DocumentSnapshot
	sessionIter := db.firestoreClient.Collection(sessionsCollection).Where("cookie", "==", cookie).Documents(ctx)
	defer sessionIter.Stop()
	for {
		var err error
		sessionSnapshot, err = sessionIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fail(span, fmt.Errorf("while looking up session: %w", err))
		}

		// We only consider a single session.
		break
	}
	if sessionSnapshot == nil {
		// Session object must have been cleaned up due to expiration.
		span.SetStatus(otelcodes.Ok, "")
		return nil, feed.ErrSessionNotFound
	}

	session := &dbtypes.Session{}
	if err := sessionSnapshot.DataTo(session); err != nil {
		return nil, fail(span, fmt.Errorf("while unmarshaling session: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return session, nil
}

// DeleteSession deletes a session by its cookie.
func (db *DB) DeleteSession(ctx context.Context, cookie string) error {
	ctx, span := startSpan(ctx, "DB.DeleteSession")
	defer span.End()

	sessionIter := db.firestoreClient.Collection(sessionsCollection).Where("cookie", "==", cookie).Documents(ctx)
	defer sessionIter.Stop()
	for {
		sessionSnapshot, err := sessionIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fail(span, fmt.Errorf("while looking up session: %w", err))
		}

		_, err = sessionSnapshot.Ref.Delete(ctx, firestore.LastUpdateTime(sessionSnapshot.UpdateTime))
		if err != nil {
			return fail(span, fmt.Errorf("while deleting session: %w", err))
		}
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

func (db *DB) CreatePasswordReset(ctx context.Context, reset *dbtypes.PasswordReset) error {
	ctx, span := startSpan(ctx, "DB.CreatePasswordReset")
	defer span.End()

	ref := db.firestoreClient.Collection(passwordResetsCollection).Doc(reset.Token)
	if _, err := ref.Create(ctx, reset); err != nil {
		return fail(span, fmt.Errorf("while storing password reset: %w", err))
	}

	span.SetStatus(otelcodes.Ok, "")
	return nil
}

// ConsumePasswordReset reads and deletes a reset token in one transaction, so
// a token can be used at most once.
func (db *DB) ConsumePasswordReset(ctx context.Context, token string) (*dbtypes.PasswordReset, error) {
	ctx, span := startSpan(ctx, "DB.ConsumePasswordReset")
	defer span.End()

	ref := db.firestoreClient.Collection(passwordResetsCollection).Doc(token)
	reset := &dbtypes.PasswordReset{}
	err := db.firestoreClient.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return feed.ErrPasswordResetNotFound
		}
		if err != nil {
			return fmt.Errorf("while retrieving password reset: %w", err)
		}
		if err := snap.DataTo(reset); err != nil {
			return fmt.Errorf("while unmarshaling password reset: %w", err)
		}
		return tx.Delete(ref)
	})
	if errors.Is(err, feed.ErrPasswordResetNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fail(span, err)
	}
	reset.Token = token

	span.SetStatus(otelcodes.Ok, "")
	return reset, nil
}
