package uitemplates

type CommentsParams struct {
	ActiveUser ActiveUserParams

	SelfLink  string
	UserError string

	Post     *HomePost
	Comments []*CommentsComment
}

type CommentsComment struct {
	UserName string
	UserLink string
	Text     string
	PostedAt string
}

var commentsText = `
{{define "title"}}Comments{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="{{.SelfLink}}">Comments</a></li>
{{- end}}

{{define "content"}}
<div id="live">
  <div class="card mb-3">
    <div class="card-body">
      <h6 class="card-subtitle mb-2"><a href="{{.Post.UserLink}}">{{.Post.UserName}}</a></h6>
      <p class="card-text">{{.Post.Text}}</p>
      {{if .Post.ImageURL}}<img src="{{.Post.ImageURL}}" class="img-fluid" alt="">{{end}}
      <p class="text-muted">{{.Post.LikeLabel}}</p>
    </div>
  </div>

  <h2>{{.Post.CommentLabel}}</h2>
  <ul class="list-group mb-3">
    {{range .Comments}}
    <li class="list-group-item"><a href="{{.UserLink}}">{{.UserName}}</a>: {{.Text}} <small class="text-muted">{{.PostedAt}}</small></li>
    {{else}}
    <li class="list-group-item">No comments yet.</li>
    {{end}}
  </ul>
</div>

{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<form method="POST">
  <div class="mb-3">
    <label for="text" class="form-label">Add a comment</label>
    <input id="text" type="text" name="text" class="form-control" maxlength="200" required>
  </div>
  <button type="submit" class="btn btn-primary">Comment</button>
</form>
{{end}}
` + liveText

var commentsTemplate = parse(commentsText)

func CommentsPage(params *CommentsParams) ([]byte, error) {
	return execute(commentsTemplate, params)
}
