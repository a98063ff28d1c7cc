package uitemplates

type HomeParams struct {
	ActiveUser ActiveUserParams

	// Error is the feed's current error message, shown with Retry and
	// Dismiss actions.
	Error string

	// UserError is a problem with the last submitted post.
	UserError string

	// AllowUpload is set when image files can be uploaded.
	AllowUpload bool

	Loading bool
	Posts   []*HomePost
}

type HomePost struct {
	ID           string
	UserName     string
	UserLink     string
	Text         string
	ImageURL     string
	PostedAt     string
	Liked        bool
	LikeLabel    string
	CommentLabel string
	CommentsLink string
}

var homeText = `{{define "title"}}Home{{end}}

{{define "content"}}
<form method="POST" action="/create-post" enctype="multipart/form-data" class="mb-4">
  {{if .UserError}}
  <div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
  {{end}}
  <div class="mb-3">
    <label for="text" class="form-label">What's on your mind?</label>
    <textarea id="text" name="text" class="form-control" rows="3"></textarea>
  </div>
  <div class="mb-3">
    <label for="image-url" class="form-label">Image URL (optional)</label>
    <input id="image-url" type="url" name="image-url" class="form-control">
  </div>
  {{if .AllowUpload}}
  <div class="mb-3">
    <label for="image" class="form-label">Or upload an image</label>
    <input id="image" type="file" name="image" accept="image/*" class="form-control">
  </div>
  {{end}}
  <button type="submit" class="btn btn-primary">Post</button>
</form>

<div id="live">
  {{if .Error}}
  <div class="alert alert-warning d-flex gap-2 align-items-center" role="alert">
    <span class="me-auto">{{.Error}}</span>
    <form method="POST" action="/retry"><button type="submit" class="btn btn-sm btn-primary">Retry</button></form>
    <form method="POST" action="/dismiss-error"><button type="submit" class="btn btn-sm btn-secondary">Dismiss</button></form>
  </div>
  {{end}}

  {{if .Loading}}
  <p>Loading posts...</p>
  {{else if not .Posts}}
  <p>No posts yet.</p>
  {{end}}

  {{range .Posts}}
  <div class="card mb-3" id="post-{{.ID}}">
    <div class="card-body">
      <h6 class="card-subtitle mb-2"><a href="{{.UserLink}}">{{.UserName}}</a> <small class="text-muted">{{.PostedAt}}</small></h6>
      <p class="card-text">{{.Text}}</p>
      {{if .ImageURL}}<img src="{{.ImageURL}}" class="img-fluid mb-2" alt="">{{end}}
      <div class="d-flex gap-3 align-items-center">
        <form method="POST" action="/toggle-like">
          <input type="hidden" name="post-id" value="{{.ID}}">
          <button type="submit" class="btn btn-sm {{if .Liked}}btn-danger{{else}}btn-outline-danger{{end}}">{{.LikeLabel}}</button>
        </form>
        <a href="{{.CommentsLink}}">{{.CommentLabel}}</a>
      </div>
    </div>
  </div>
  {{end}}
</div>
{{end}}
` + liveText

var homeTemplate = parse(homeText)

func HomePage(params *HomeParams) ([]byte, error) {
	return execute(homeTemplate, params)
}
