package uitemplates

type UserProfileParams struct {
	ActiveUser ActiveUserParams

	SelfLink string
	Name     string
	Bio      string
	PhotoURL string

	// Status is "Online", "Last seen ..." or empty if never seen.
	Status string

	Posts []*HomePost
}

var userProfileText = `
{{define "title"}}{{.Name}}{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="{{.SelfLink}}">{{.Name}}</a></li>
{{- end}}

{{define "content"}}
{{if .PhotoURL}}<img src="{{.PhotoURL}}" class="rounded-circle mb-3" width="96" height="96" alt="">{{end}}
<h1>{{.Name}}</h1>
{{if .Status}}<p class="text-muted">{{.Status}}</p>{{end}}
{{if .Bio}}<p>{{.Bio}}</p>{{end}}

<h2>Posts</h2>
{{range .Posts}}
<div class="card mb-3">
  <div class="card-body">
    <p class="card-text">{{.Text}}</p>
    {{if .ImageURL}}<img src="{{.ImageURL}}" class="img-fluid mb-2" alt="">{{end}}
    <small class="text-muted">{{.PostedAt}} · {{.LikeLabel}} · <a href="{{.CommentsLink}}">{{.CommentLabel}}</a></small>
  </div>
</div>
{{else}}
<p>No posts yet.</p>
{{end}}
{{end}}
`

var userProfileTemplate = parse(userProfileText)

func UserProfilePage(params *UserProfileParams) ([]byte, error) {
	return execute(userProfileTemplate, params)
}
