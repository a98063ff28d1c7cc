package feed

import (
	"strings"

	"socialfeed/dbtypes"
)

// User is the signed-in user as seen by the authentication provider.
type User struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

func userFromAccount(a *dbtypes.Account) *User {
	return &User{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
	}
}

// Name is the name stamped on posts and status records: the display name,
// else the email, else "User".
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return "User"
}

// ShortName is the name stamped on comments and used as the default profile
// name: the display name, else the local part of the email, else "User".
func (u *User) ShortName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return EmailDefaultName(u.Email)
}

// EmailDefaultName derives a name from an email address.
func EmailDefaultName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "User"
	}
	return local
}
