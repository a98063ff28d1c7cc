package uitemplates

// ActiveUserParams holds information about the active user.
type ActiveUserParams struct {
	// LoggedIn is true if the current user is logged in.
	LoggedIn bool

	// Name is the user's display name, or one derived from their email.
	Name string

	// Email is the user's email.
	Email string
}
