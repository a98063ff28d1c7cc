package feed

import "errors"

// Errors returned by stores.  Backends wrap them; test with errors.Is.
var (
	ErrPostNotFound          = errors.New("post not found")
	ErrProfileNotFound       = errors.New("user not found")
	ErrAccountNotFound       = errors.New("no account with that email")
	ErrEmailTaken            = errors.New("an account with that email already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrPasswordResetNotFound = errors.New("password reset link is invalid or has expired")
)

// Errors returned by State operations.
var (
	ErrNotSignedIn              = errors.New("user is not signed in")
	ErrEmptyPost                = errors.New("post text must not be empty")
	ErrEmptyComment             = errors.New("comment text must not be empty")
	ErrCommentTooLong           = errors.New("comment is too long")
	ErrBioTooLong               = errors.New("bio is too long")
	ErrNotificationsUnavailable = errors.New("notifications need an email address on the account")
)

// Errors returned by Auth.
var (
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrInvalidCredentials = errors.New("unknown user or wrong password")
)
