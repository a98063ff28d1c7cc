package uitemplates

type ProfileParams struct {
	ActiveUser ActiveUserParams

	// Editing switches the page from the profile view to the edit form.
	Editing   bool
	UserError string

	Name     string
	Bio      string
	PhotoURL string
	Email    string
}

var profileText = `
{{define "title"}}Profile{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/profile">Profile</a></li>
{{- end}}

{{define "content"}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

{{if .Editing}}
<form method="POST">
  <div class="mb-3">
    <label for="name" class="form-label">Name</label>
    <input id="name" type="text" name="name" class="form-control" value="{{.Name}}">
  </div>
  <div class="mb-3">
    <label for="bio" class="form-label">Bio</label>
    <textarea id="bio" name="bio" class="form-control" maxlength="150">{{.Bio}}</textarea>
  </div>
  <div class="mb-3">
    <label for="photo-url" class="form-label">Photo URL</label>
    <input id="photo-url" type="url" name="photo-url" class="form-control" value="{{.PhotoURL}}">
  </div>
  <button type="submit" class="btn btn-primary">Save</button>
  <a href="/profile" class="btn btn-secondary">Cancel</a>
</form>
{{else}}
{{if .PhotoURL}}<img src="{{.PhotoURL}}" class="rounded-circle mb-3" width="96" height="96" alt="">{{end}}
<h1>{{.Name}}</h1>
<p class="text-muted">{{.Email}}</p>
<p>{{if .Bio}}{{.Bio}}{{else}}No bio yet.{{end}}</p>
<a href="/profile?edit=1" class="btn btn-primary">Edit Profile</a>
<a href="/log-out" class="btn btn-outline-danger">Sign Out</a>
{{end}}
{{end}}
`

var profileTemplate = parse(profileText)

func ProfilePage(params *ProfileParams) ([]byte, error) {
	return execute(profileTemplate, params)
}
