package webui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socialfeed/dbtypes"
	"socialfeed/feed"
	"socialfeed/media"
	"socialfeed/webui/uitemplates"

	"github.com/golang/glog"
)

const sessionCookieName = "SocialFeed-Session"

// ImageUploader stores an uploaded post image and returns its URL.
type ImageUploader interface {
	Upload(ctx context.Context, userID string, r io.Reader) (string, error)
}

type WebUI struct {
	auth           *feed.Auth
	sessions       *Sessions
	uploader       ImageUploader
	googleClientID string
}

type Opt func(*WebUI)

// WithUploader enables image uploads on the post composer.  Without it,
// posts can only reference images by URL.
func WithUploader(up ImageUploader) Opt {
	return func(u *WebUI) {
		u.uploader = up
	}
}

// WithGoogleClientID shows the Sign in with Google button on the log-in page.
func WithGoogleClientID(clientID string) Opt {
	return func(u *WebUI) {
		u.googleClientID = clientID
	}
}

func New(auth *feed.Auth, sessions *Sessions, opts ...Opt) *WebUI {
	u := &WebUI{
		auth:     auth,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *WebUI) Register(m *http.ServeMux) {
	m.HandleFunc("/", u.homeHandler)
	m.HandleFunc("/create-post", u.createPostHandler)
	m.HandleFunc("/toggle-like", u.toggleLikeHandler)
	m.HandleFunc("/retry", u.retryHandler)
	m.HandleFunc("/dismiss-error", u.dismissErrorHandler)
	m.HandleFunc("/comments", u.commentsHandler)
	m.HandleFunc("/profile", u.profileHandler)
	m.HandleFunc("/user", u.userProfileHandler)
	m.HandleFunc("/settings", u.settingsHandler)
	m.HandleFunc("/events", u.eventsHandler)
	m.HandleFunc("/log-in", u.logInHandler)
	m.HandleFunc("/sign-up", u.signUpHandler)
	m.HandleFunc("/forgot-password", u.forgotPasswordHandler)
	m.HandleFunc("/reset-password", u.resetPasswordHandler)
	m.HandleFunc("/sign-in-with-google", u.signInWithGoogleHandler)
	m.HandleFunc("/log-out", u.logOutHandler)
}

func sessionCookie(r *http.Request) string {
	for _, cookie := range r.Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie.Value
		}
	}
	return ""
}

// getLoggedInUser returns the live session for the request's session cookie,
// or nil if the request is not logged in.
func (u *WebUI) getLoggedInUser(ctx context.Context, r *http.Request) (*session, error) {
	cookie := sessionCookie(r)
	if cookie == "" {
		// No session cookie; user is not logged in.
		return nil, nil
	}

	user, err := u.auth.UserFromSession(ctx, cookie)
	if err != nil {
		return nil, fmt.Errorf("while looking up session: %w", err)
	}
	if user == nil {
		// Session expired or was deleted elsewhere.
		u.sessions.drop(ctx, cookie)
		return nil, nil
	}

	return u.sessions.get(ctx, cookie, user), nil
}

// requireUser is getLoggedInUser for pages that need a logged-in user.  It
// writes the response and returns nil if the request cannot continue.  The
// returned user is read once, so it stays usable if the session is signed out
// while the request is running.
func (u *WebUI) requireUser(w http.ResponseWriter, r *http.Request) (*session, *feed.User) {
	sess, err := u.getLoggedInUser(r.Context(), r)
	if err != nil {
		glog.Errorf("Error while getting logged-in user: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return nil, nil
	}

	var user *feed.User
	if sess != nil {
		user = sess.state.User()
	}
	if user == nil {
		// User is not logged in, or was logged out concurrently.  Send them
		// to log in.
		http.Redirect(w, r, "/log-in", http.StatusFound)
		return nil, nil
	}

	return sess, user
}

// requireMutation checks the method and the session's mutation rate limit.
func requireMutation(w http.ResponseWriter, r *http.Request, sess *session) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return false
	}
	if !sess.limiter.Allow() {
		glog.Warningf("Rate limiting %s", r.URL.Path)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return false
	}
	return true
}

func writePage(w http.ResponseWriter, content []byte, err error) {
	if err != nil {
		glog.Errorf("Error while executing template: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		// It's too late to write an error to the HTTP response.
		glog.Errorf("Error while writing output: %v", err)
		return
	}
}

func activeUser(user *feed.User) uitemplates.ActiveUserParams {
	if user == nil {
		return uitemplates.ActiveUserParams{}
	}
	return uitemplates.ActiveUserParams{
		LoggedIn: true,
		Name:     user.Name(),
		Email:    user.Email,
	}
}

// userErrors are the errors whose message is shown to the user as-is.
var userErrors = []error{
	feed.ErrNameRequired,
	feed.ErrEmailRequired,
	feed.ErrInvalidEmail,
	feed.ErrPasswordRequired,
	feed.ErrPasswordTooShort,
	feed.ErrInvalidCredentials,
	feed.ErrEmailTaken,
	feed.ErrAccountNotFound,
	feed.ErrPasswordResetNotFound,
	feed.ErrEmptyPost,
	feed.ErrEmptyComment,
	feed.ErrCommentTooLong,
	feed.ErrBioTooLong,
	feed.ErrNotificationsUnavailable,
	media.ErrNotAnImage,
	media.ErrImageTooLarge,
}

// userError returns the message to show for err, or "" if err is not the
// user's doing.
func userError(err error) string {
	for _, ue := range userErrors {
		if errors.Is(err, ue) {
			msg := ue.Error()
			return strings.ToUpper(msg[:1]) + msg[1:]
		}
	}
	return ""
}

func withUserError(path string, q url.Values, userErr string) string {
	if q == nil {
		q = url.Values{}
	}
	if userErr != "" {
		q.Set("user-error", userErr)
	}
	link := &url.URL{
		Path:     path,
		RawQuery: q.Encode(),
	}
	return link.String()
}

func UserLink(userID string) string {
	q := url.Values{}
	q.Add("id", userID)
	return withUserError("/user", q, "")
}

func CommentsLink(postID, userErr string) string {
	q := url.Values{}
	q.Add("post-id", postID)
	return withUserError("/comments", q, userErr)
}

func likeLabel(n int) string {
	if n == 1 {
		return "1 Like"
	}
	return fmt.Sprintf("%d Likes", n)
}

func commentLabel(n int) string {
	if n == 1 {
		return "1 Comment"
	}
	return fmt.Sprintf("%d Comments", n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006 3:04 PM")
}

func homePost(p *dbtypes.Post, userID string, comments int) *uitemplates.HomePost {
	return &uitemplates.HomePost{
		ID:           p.ID,
		UserName:     p.UserName,
		UserLink:     UserLink(p.UserID),
		Text:         p.Text,
		ImageURL:     p.ImageURL,
		PostedAt:     formatTime(p.CreatedAt),
		Liked:        p.LikedBy(userID),
		LikeLabel:    likeLabel(len(p.Likes)),
		CommentLabel: commentLabel(comments),
		CommentsLink: CommentsLink(p.ID, ""),
	}
}

// homeHandler renders the feed.
func (u *WebUI) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}
	params := &uitemplates.HomeParams{
		ActiveUser:  activeUser(user),
		Error:       sess.state.Error(),
		UserError:   r.URL.Query().Get("user-error"),
		AllowUpload: u.uploader != nil,
		Loading:     sess.state.PostsLoading(),
	}
	for _, p := range sess.state.Posts() {
		params.Posts = append(params.Posts, homePost(p, user.ID, len(sess.state.CommentsForPost(p.ID))))
	}

	content, err := uitemplates.HomePage(params)
	writePage(w, content, err)
}

func (u *WebUI) createPostHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/create-post" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil || !requireMutation(w, r, sess) {
		return
	}
	ctx := r.Context()

	if err := r.ParseMultipartForm(media.MaxImageBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	imageURL := strings.TrimSpace(r.FormValue("image-url"))
	if u.uploader != nil && r.MultipartForm != nil {
		file, _, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			glog.Errorf("Error while reading uploaded image: %v", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		default:
			defer file.Close()
			imageURL, err = u.uploader.Upload(ctx, user.ID, file)
			if err != nil {
				if msg := userError(err); msg != "" {
					http.Redirect(w, r, withUserError("/", nil, msg), http.StatusFound)
					return
				}
				glog.Errorf("Error while uploading image: %v", err)
				http.Redirect(w, r, withUserError("/", nil, "Failed to upload image"), http.StatusFound)
				return
			}
		}
	}

	if _, err := sess.state.CreatePost(ctx, r.FormValue("text"), imageURL); err != nil {
		if msg := userError(err); msg != "" {
			http.Redirect(w, r, withUserError("/", nil, msg), http.StatusFound)
			return
		}
		// The state carries the error banner.
		glog.Errorf("Error while creating post: %v", err)
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// returnTo picks where to send the user after a form post.  Only local paths
// are honored.
func returnTo(r *http.Request) string {
	to := r.PostFormValue("return-to")
	if !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") {
		return "/"
	}
	return to
}

func (u *WebUI) toggleLikeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/toggle-like" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, _ := u.requireUser(w, r)
	if sess == nil || !requireMutation(w, r, sess) {
		return
	}

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	if _, err := sess.state.ToggleLike(r.Context(), r.PostForm.Get("post-id")); err != nil {
		// The state carries the error banner.
		glog.Errorf("Error while toggling like: %v", err)
	}

	http.Redirect(w, r, returnTo(r), http.StatusFound)
}

func (u *WebUI) retryHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/retry" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, _ := u.requireUser(w, r)
	if sess == nil || !requireMutation(w, r, sess) {
		return
	}

	sess.state.RefreshPosts()
	http.Redirect(w, r, "/", http.StatusFound)
}

func (u *WebUI) dismissErrorHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/dismiss-error" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, _ := u.requireUser(w, r)
	if sess == nil {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sess.state.ClearError()
	http.Redirect(w, r, "/", http.StatusFound)
}

func (u *WebUI) commentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/comments" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	postID := r.Form.Get("post-id")

	if r.Method == http.MethodPost {
		if !requireMutation(w, r, sess) {
			return
		}
		if _, err := sess.state.AddComment(ctx, postID, r.PostForm.Get("text")); err != nil {
			userErr := userError(err)
			if userErr == "" {
				glog.Errorf("Error while adding comment: %v", err)
				userErr = "Failed to add comment"
			}
			http.Redirect(w, r, CommentsLink(postID, userErr), http.StatusFound)
			return
		}
		http.Redirect(w, r, CommentsLink(postID, ""), http.StatusFound)
		return
	}

	var post *dbtypes.Post
	for _, p := range sess.state.Posts() {
		if p.ID == postID {
			post = p
			break
		}
	}
	if post == nil {
		glog.Errorf("Returning Not Found because post %q is not in the feed", postID)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	comments := sess.state.CommentsForPost(postID)
	params := &uitemplates.CommentsParams{
		ActiveUser: activeUser(user),
		SelfLink:   CommentsLink(postID, ""),
		UserError:  r.Form.Get("user-error"),
		Post:       homePost(post, user.ID, len(comments)),
	}
	for _, c := range comments {
		params.Comments = append(params.Comments, &uitemplates.CommentsComment{
			UserName: c.UserName,
			UserLink: UserLink(c.UserID),
			Text:     c.Text,
			PostedAt: formatTime(c.CreatedAt),
		})
	}

	content, err := uitemplates.CommentsPage(params)
	writePage(w, content, err)
}

func (u *WebUI) profileHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/profile" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	params := &uitemplates.ProfileParams{
		ActiveUser: activeUser(user),
		Editing:    r.URL.Query().Get("edit") != "",
	}

	if r.Method == http.MethodPost {
		if !requireMutation(w, r, sess) {
			return
		}
		if err := r.ParseForm(); err != nil {
			glog.Errorf("Error while parsing form: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		name, bio, photoURL := r.PostForm.Get("name"), r.PostForm.Get("bio"), strings.TrimSpace(r.PostForm.Get("photo-url"))
		if _, err := sess.state.EditProfile(ctx, name, bio, photoURL); err != nil {
			params.UserError = userError(err)
			if params.UserError == "" {
				glog.Errorf("Error while editing profile: %v", err)
				params.UserError = "Failed to update profile"
			}
			// Re-render the form with what the user typed.
			params.Editing = true
			params.Name, params.Bio, params.PhotoURL = name, bio, photoURL
			params.Email = user.Email
			content, err := uitemplates.ProfilePage(params)
			writePage(w, content, err)
			return
		}

		http.Redirect(w, r, "/profile", http.StatusFound)
		return
	}

	profile, err := sess.state.Profile(ctx)
	if err != nil {
		glog.Errorf("Error while loading profile: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	params.Name = profile.DisplayName
	if params.Name == "" {
		params.Name = profile.Name
	}
	params.Bio = profile.Bio
	params.PhotoURL = profile.PhotoURL
	params.Email = profile.Email

	content, err := uitemplates.ProfilePage(params)
	writePage(w, content, err)
}

func statusLabel(status *dbtypes.UserStatus) string {
	switch {
	case status == nil:
		return ""
	case status.Online:
		return "Online"
	case status.LastSeen.IsZero():
		return "Offline"
	default:
		return "Last seen " + formatTime(status.LastSeen)
	}
}

func (u *WebUI) userProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/user" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}

	userID := r.URL.Query().Get("id")
	up, err := sess.state.UserProfile(r.Context(), userID)
	if errors.Is(err, feed.ErrProfileNotFound) {
		glog.Errorf("Returning Not Found because user %q has no profile", userID)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		glog.Errorf("Error while loading user profile: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	params := &uitemplates.UserProfileParams{
		ActiveUser: activeUser(user),
		SelfLink:   UserLink(userID),
		Name:       up.Profile.DisplayName,
		Bio:        up.Profile.Bio,
		PhotoURL:   up.Profile.PhotoURL,
		Status:     statusLabel(up.Status),
	}
	if params.Name == "" {
		params.Name = up.Profile.Name
	}
	for _, p := range up.Posts {
		params.Posts = append(params.Posts, homePost(p, user.ID, len(sess.state.CommentsForPost(p.ID))))
	}

	content, err := uitemplates.UserProfilePage(params)
	writePage(w, content, err)
}

func (u *WebUI) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/settings" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	params := &uitemplates.SettingsParams{}

	if r.Method == http.MethodPost {
		if !requireMutation(w, r, sess) {
			return
		}
		if err := r.ParseForm(); err != nil {
			glog.Errorf("Error while parsing form: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		enabled := r.PostForm.Get("enabled") == "true"
		switch r.PostForm.Get("action") {
		case "notifications":
			if err := sess.state.SetNotificationsEnabled(ctx, enabled); err != nil {
				params.UserError = userError(err)
				if params.UserError == "" {
					glog.Errorf("Error while saving notification preference: %v", err)
					params.UserError = "Failed to save notification preference"
				}
			}
		case "real-time":
			sess.state.SetRealTime(enabled)
		case "clear-cache":
			params.Toast = "Cache cleared."
		case "reset-app":
			params.Toast = "App reset."
		default:
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
	}

	notificationsEnabled, err := sess.state.NotificationsEnabled(ctx)
	if err != nil {
		glog.Errorf("Error while reading notification preference: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	params.ActiveUser = activeUser(user)
	params.Email = user.Email
	params.UserID = user.ID
	params.NotificationsEnabled = notificationsEnabled
	params.RealTime = sess.state.RealTime()

	content, err := uitemplates.SettingsPage(params)
	writePage(w, content, err)
}

// eventsHandler streams an "update" event whenever the session's state
// changes.  While at least one stream is open the user is shown as online.
func (u *WebUI) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/events" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	sess, err := u.getLoggedInUser(ctx, r)
	if err != nil {
		glog.Errorf("Error while getting logged-in user: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rc := http.NewResponseController(w)
	// Event streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		glog.Warningf("Could not clear write deadline on event stream: %v", err)
	}

	changes, stop := sess.state.Changes()
	defer stop()

	u.sessions.openStream(sess)
	sess.state.SetOnlineStatus(ctx, true)
	defer func() {
		if u.sessions.closeStream(sess) == 0 {
			sess.state.SetOnlineStatus(context.WithoutCancel(ctx), false)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		glog.Errorf("Error while flushing event stream: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		if _, err := io.WriteString(w, "event: update\ndata: {}\n\n"); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func newSessionCookie(s *dbtypes.Session) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.Cookie,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  s.Expires,
	}
}

// redirectIfLoggedIn sends logged-in users home.  It returns true if it
// wrote a response.
func (u *WebUI) redirectIfLoggedIn(w http.ResponseWriter, r *http.Request) bool {
	sess, err := u.getLoggedInUser(r.Context(), r)
	if err != nil {
		glog.Errorf("Error while getting logged-in user: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return true
	}

	if sess != nil {
		// User is already logged in.  Send them back home.
		http.Redirect(w, r, "/", http.StatusFound)
		return true
	}
	return false
}

// logInHandler renders the login page.
func (u *WebUI) logInHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/log-in" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if u.redirectIfLoggedIn(w, r) {
		return
	}

	params := &uitemplates.LogInParams{
		GoogleClientID: u.googleClientID,
	}

	if r.Method == http.MethodPost {
		// The user is submitting a login form.

		if err := r.ParseForm(); err != nil {
			glog.Errorf("Error while parsing form: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		email := r.PostForm.Get("email")
		dbSession, _, err := u.auth.SignIn(r.Context(), email, r.PostForm.Get("password"))
		if err != nil {
			params.UserError = userError(err)
			if params.UserError == "" {
				glog.Errorf("Error while processing log in form: %v", err)
				http.Error(w, "Internal Error", http.StatusInternalServerError)
				return
			}
			params.Email = email
			content, err := uitemplates.LogInPage(params)
			writePage(w, content, err)
			return
		}

		// User successfully logged in
		http.SetCookie(w, newSessionCookie(dbSession))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// Otherwise, render login form.
	content, err := uitemplates.LogInPage(params)
	writePage(w, content, err)
}

func (u *WebUI) signUpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/sign-up" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if u.redirectIfLoggedIn(w, r) {
		return
	}

	params := &uitemplates.SignUpParams{}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			glog.Errorf("Error while parsing form: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		ctx := r.Context()
		params.Name = r.PostForm.Get("name")
		params.Email = r.PostForm.Get("email")
		password := r.PostForm.Get("password")

		if password != r.PostForm.Get("confirm-password") {
			params.UserError = "Passwords do not match"
			content, err := uitemplates.SignUpPage(params)
			writePage(w, content, err)
			return
		}

		if _, err := u.auth.SignUp(ctx, params.Name, params.Email, password); err != nil {
			params.UserError = userError(err)
			if params.UserError == "" {
				glog.Errorf("Error while processing sign up form: %v", err)
				http.Error(w, "Internal Error", http.StatusInternalServerError)
				return
			}
			content, err := uitemplates.SignUpPage(params)
			writePage(w, content, err)
			return
		}

		dbSession, _, err := u.auth.SignIn(ctx, params.Email, password)
		if err != nil {
			glog.Errorf("Error while logging in new user: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, newSessionCookie(dbSession))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	content, err := uitemplates.SignUpPage(params)
	writePage(w, content, err)
}

func (u *WebUI) forgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/forgot-password" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	params := &uitemplates.ForgotPasswordParams{}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			glog.Errorf("Error while parsing form: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		params.Email = r.PostForm.Get("email")
		if err := u.auth.SendPasswordReset(r.Context(), params.Email); err != nil {
			params.UserError = userError(err)
			if params.UserError == "" {
				glog.Errorf("Error while sending password reset: %v", err)
				params.UserError = "Failed to send reset email"
			}
		} else {
			params.Toast = "Password reset link sent to " + params.Email + "."
		}
	}

	content, err := uitemplates.ForgotPasswordPage(params)
	writePage(w, content, err)
}

func (u *WebUI) resetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/reset-password" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	params := &uitemplates.ResetPasswordParams{
		Token: r.Form.Get("token"),
	}

	if r.Method == http.MethodPost {
		if err := u.auth.ResetPassword(r.Context(), params.Token, r.PostForm.Get("password")); err != nil {
			params.UserError = userError(err)
			if params.UserError == "" {
				glog.Errorf("Error while resetting password: %v", err)
				http.Error(w, "Internal Error", http.StatusInternalServerError)
				return
			}
			content, err := uitemplates.ResetPasswordPage(params)
			writePage(w, content, err)
			return
		}

		content, err := uitemplates.LogInPage(&uitemplates.LogInParams{
			Toast:          "Password updated.  Log in with your new password.",
			GoogleClientID: u.googleClientID,
		})
		writePage(w, content, err)
		return
	}

	content, err := uitemplates.ResetPasswordPage(params)
	writePage(w, content, err)
}

// signInWithGoogleHandler receives the credential posted back by Google's
// sign-in button.
func (u *WebUI) signInWithGoogleHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/sign-in-with-google" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/log-in", http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	// Google double-submits a CSRF token in a cookie and the form body.
	csrfCookie, err := r.Cookie("g_csrf_token")
	if err != nil || csrfCookie.Value == "" || csrfCookie.Value != r.PostForm.Get("g_csrf_token") {
		glog.Errorf("Rejecting Google sign-in with mismatched CSRF token")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	dbSession, _, err := u.auth.SignInWithGoogle(r.Context(), r.PostForm.Get("credential"))
	if err != nil {
		glog.Errorf("Error while signing in with Google: %v", err)
		params := &uitemplates.LogInParams{
			UserError:      "Sign in with Google failed",
			GoogleClientID: u.googleClientID,
		}
		if errors.Is(err, feed.ErrInvalidCredentials) {
			params.UserError = "No account uses that Google identity's email"
		}
		content, err := uitemplates.LogInPage(params)
		writePage(w, content, err)
		return
	}

	http.SetCookie(w, newSessionCookie(dbSession))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (u *WebUI) logOutHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/log-out" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess, user := u.requireUser(w, r)
	if sess == nil {
		return
	}

	if r.Method == http.MethodPost {
		ctx := r.Context()
		cookie := sessionCookie(r)
		if err := u.auth.SignOut(ctx, cookie); err != nil {
			glog.Errorf("Error while logging out: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		u.sessions.drop(ctx, cookie)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			SameSite: http.SameSiteStrictMode,
		})
		http.Redirect(w, r, "/log-in", http.StatusFound)
		return
	}

	content, err := uitemplates.LogOutPage(&uitemplates.LogOutParams{
		ActiveUser: activeUser(user),
	})
	writePage(w, content, err)
}
