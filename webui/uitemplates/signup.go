package uitemplates

type SignUpParams struct {
	ActiveUser ActiveUserParams

	UserError string
	Name      string
	Email     string
}

var signUpText = `{{define "title"}}Sign Up{{end}}
{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/sign-up">Sign Up</a></li>
{{- end}}

{{define "content"}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<form method="POST">
  <div class="mb-3">
    <label for="name" class="form-label">Name</label>
    <input type="text" name="name" id="name" class="form-control" value="{{.Name}}" required>
  </div>
  <div class="mb-3">
    <label for="email" class="form-label">Email</label>
    <input type="email" name="email" id="email" class="form-control" value="{{.Email}}" required>
  </div>
  <div class="mb-3">
    <label for="password" class="form-label">Password</label>
    <input type="password" name="password" id="password" class="form-control" minlength="6" required>
  </div>
  <div class="mb-3">
    <label for="confirm-password" class="form-label">Confirm Password</label>
    <input type="password" name="confirm-password" id="confirm-password" class="form-control" minlength="6" required>
  </div>
  <button type="submit" class="btn btn-primary">Sign Up</button>
</form>

<p class="mt-3">Already have an account? <a href="/log-in">Log in</a></p>
{{end}}
`

var signUpTemplate = parse(signUpText)

func SignUpPage(params *SignUpParams) ([]byte, error) {
	return execute(signUpTemplate, params)
}
