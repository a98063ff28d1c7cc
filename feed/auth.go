package feed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"socialfeed/dbtypes"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"
)

const (
	minPasswordLength = 6
	sessionLifetime   = 18 * time.Hour
	resetLifetime     = 1 * time.Hour
)

// ResetMailer delivers password reset links.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// ProfileWriter stores profile documents.  Store satisfies it.
type ProfileWriter interface {
	SetProfile(ctx context.Context, profile *dbtypes.Profile) error
}

// TokenValidator checks a Google identity token.  idtoken.Validate satisfies
// it.
type TokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Auth is the email/password authentication provider.
type Auth struct {
	accounts AccountStore
	profiles ProfileWriter
	mailer   ResetMailer

	// resetLinkBase is the URL that reset tokens are appended to.
	resetLinkBase       string
	googleOAuthClientID string
	validateToken       TokenValidator

	now func() time.Time
}

type AuthOpt func(*Auth)

// WithResetMailer sets how password reset links are delivered, and the URL
// the reset token is appended to as the "token" query parameter.
func WithResetMailer(m ResetMailer, linkBase string) AuthOpt {
	return func(a *Auth) {
		a.mailer = m
		a.resetLinkBase = linkBase
	}
}

// WithGoogleSignIn enables signing in with Google identity tokens issued to
// clientID.
func WithGoogleSignIn(clientID string) AuthOpt {
	return func(a *Auth) {
		a.googleOAuthClientID = clientID
	}
}

// WithTokenValidator replaces idtoken.Validate.
func WithTokenValidator(v TokenValidator) AuthOpt {
	return func(a *Auth) {
		a.validateToken = v
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AuthOpt {
	return func(a *Auth) {
		a.now = now
	}
}

func NewAuth(accounts AccountStore, profiles ProfileWriter, opts ...AuthOpt) *Auth {
	a := &Auth{
		accounts:      accounts,
		profiles:      profiles,
		validateToken: idtoken.Validate,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ValidateEmail checks that email is present and well-formed.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword checks the password length rules.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("while hashing password: %w", err)
	}
	return string(hash), nil
}

// SignUp registers a new account and creates the user's profile document.
func (a *Auth) SignUp(ctx context.Context, name, email, password string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	account := &dbtypes.Account{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
		CreatedAt:    a.now(),
	}
	if err := a.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("while creating account for %q: %w", email, err)
	}

	profile := &dbtypes.Profile{
		ID:          account.ID,
		Name:        name,
		DisplayName: name,
		Email:       email,
		UpdatedAt:   a.now(),
	}
	if err := a.profiles.SetProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("while creating profile for %q: %w", email, err)
	}

	slog.InfoContext(ctx, "Signed up new user", slog.String("user", account.ID))
	return userFromAccount(account), nil
}

// SignIn runs the password-based login process, returning a new session.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*dbtypes.Session, *User, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}
	if password == "" {
		return nil, nil, ErrPasswordRequired
	}

	account, err := a.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("while looking up user with email %q: %w", email, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := a.newSession(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, userFromAccount(account), nil
}

// SignInWithGoogle signs in the account whose email matches a Google identity
// token returned from the "Sign in with Google" process.
func (a *Auth) SignInWithGoogle(ctx context.Context, idToken string) (*dbtypes.Session, *User, error) {
	if a.googleOAuthClientID == "" {
		return nil, nil, errors.New("sign in with Google is not configured")
	}

	payload, err := a.validateToken(ctx, idToken, a.googleOAuthClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("while validating ID token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, nil, ErrInvalidCredentials
	}

	account, err := a.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("while looking up user with email %q: %w", email, err)
	}

	session, err := a.newSession(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, userFromAccount(account), nil
}

func (a *Auth) newSession(ctx context.Context, userID string) (*dbtypes.Session, error) {
	cookieBytes := make([]byte, 32)
	if _, err := rand.Read(cookieBytes); err != nil {
		return nil, fmt.Errorf("while generating session cookie: %w", err)
	}

	session := &dbtypes.Session{
		Cookie:  base64.RawURLEncoding.EncodeToString(cookieBytes),
		UserID:  userID,
		Expires: a.now().Add(sessionLifetime),
	}
	if err := a.accounts.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("while storing session cookie: %w", err)
	}
	return session, nil
}

// UserFromSession looks up a session from its cookie, and then returns the
// corresponding user.  Unknown and expired sessions yield a nil user.
func (a *Auth) UserFromSession(ctx context.Context, cookie string) (*User, error) {
	session, err := a.accounts.SessionByCookie(ctx, cookie)
	if errors.Is(err, ErrSessionNotFound) {
		slog.InfoContext(ctx, "No logged-in user because there was no session object corresponding to the cookie in the database.")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while looking up session: %w", err)
	}

	if session.Expires.Before(a.now()) {
		slog.InfoContext(ctx, "No logged-in user because the session object in the database was expired.")
		return nil, nil
	}

	account, err := a.accounts.AccountByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("while getting user linked from session: %w", err)
	}
	return userFromAccount(account), nil
}

// SignOut ends a session.
func (a *Auth) SignOut(ctx context.Context, cookie string) error {
	if err := a.accounts.DeleteSession(ctx, cookie); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("while deleting session: %w", err)
	}
	return nil
}

// SendPasswordReset mails a password reset link to the account's address.
func (a *Auth) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}

	account, err := a.accounts.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("while looking up user with email %q: %w", email, err)
	}

	reset := &dbtypes.PasswordReset{
		Token:   uuid.NewString(),
		UserID:  account.ID,
		Expires: a.now().Add(resetLifetime),
	}
	if err := a.accounts.CreatePasswordReset(ctx, reset); err != nil {
		return fmt.Errorf("while storing password reset: %w", err)
	}

	if a.mailer == nil {
		slog.WarnContext(ctx, "No mailer configured; dropping password reset link", slog.String("user", account.ID))
		return nil
	}
	link := a.resetLinkBase + "?token=" + reset.Token
	if err := a.mailer.SendPasswordReset(ctx, account.Email, link); err != nil {
		return fmt.Errorf("while sending password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a token from SendPasswordReset.
func (a *Auth) ResetPassword(ctx context.Context, token, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}

	reset, err := a.accounts.ConsumePasswordReset(ctx, token)
	if errors.Is(err, ErrPasswordResetNotFound) {
		return ErrPasswordResetNotFound
	}
	if err != nil {
		return fmt.Errorf("while looking up password reset: %w", err)
	}
	if reset.Expires.Before(a.now()) {
		return ErrPasswordResetNotFound
	}

	account, err := a.accounts.AccountByID(ctx, reset.UserID)
	if err != nil {
		return fmt.Errorf("while getting user linked from password reset: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	if err := a.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("while updating password: %w", err)
	}
	return nil
}

// UpdateProfile sets the display name and photo the authentication provider
// hands out for a user.
func (a *Auth) UpdateProfile(ctx context.Context, userID, displayName, photoURL string) (*User, error) {
	account, err := a.accounts.AccountByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("while getting user %s: %w", userID, err)
	}

	account.DisplayName = displayName
	account.PhotoURL = photoURL
	if err := a.accounts.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("while updating user %s: %w", userID, err)
	}
	return userFromAccount(account), nil
}
