// Package dbtypes holds the records mirrored from the backend's documents.
package dbtypes

import (
	"time"
)

// Post is a user-authored feed entry.
type Post struct {
	ID string `firestore:"-"`

	// UserID and UserName identify the author at the time of posting.
	UserID   string `firestore:"userId"`
	UserName string `firestore:"userName"`

	Text string `firestore:"text"`

	// ImageURL is empty when the post has no image.
	ImageURL string `firestore:"imageUrl"`

	// Likes is the set of user IDs that like the post.  It is never nil for
	// posts created by this application.
	Likes []string `firestore:"likes"`

	CreatedAt time.Time `firestore:"createdAt,serverTimestamp"`
}

// LikedBy reports whether userID is in the post's liker set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	c := *p
	c.Likes = append([]string{}, p.Likes...)
	return &c
}

// Comment is a reply attached to a post.
type Comment struct {
	ID     string `firestore:"-"`
	PostID string `firestore:"-"`

	UserID    string    `firestore:"userId"`
	UserName  string    `firestore:"userName"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp"`
}

// Profile is the public profile document of a user, keyed by auth subject.
type Profile struct {
	ID string `firestore:"-"`

	Name        string `firestore:"name"`
	DisplayName string `firestore:"displayName"`
	Bio         string `firestore:"bio"`
	PhotoURL    string `firestore:"photoURL"`
	Email       string `firestore:"email"`

	// NotificationsDisabled is set when the user turned notifications off in
	// settings.  The zero value means notifications are delivered.
	NotificationsDisabled bool `firestore:"notificationsDisabled"`

	UpdatedAt time.Time `firestore:"updatedAt"`
}

// UserStatus is the online-status record of a user.  It is overwritten whole
// on every change.
type UserStatus struct {
	UserID   string    `firestore:"userId"`
	UserName string    `firestore:"userName"`
	Online   bool      `firestore:"online"`
	LastSeen time.Time `firestore:"lastSeen"`
}

// Account is the authentication provider's record of a user.
type Account struct {
	ID           string    `firestore:"-"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	DisplayName  string    `firestore:"displayName"`
	PhotoURL     string    `firestore:"photoURL"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// Session represents a log-in session for an Account.
type Session struct {
	Cookie  string    `firestore:"cookie"`
	UserID  string    `firestore:"userId"`
	Expires time.Time `firestore:"expires"`
}

// PasswordReset is an outstanding password reset token.
type PasswordReset struct {
	Token   string    `firestore:"-"`
	UserID  string    `firestore:"userId"`
	Expires time.Time `firestore:"expires"`
}
