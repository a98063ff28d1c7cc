package uitemplates

type ForgotPasswordParams struct {
	ActiveUser ActiveUserParams

	UserError string
	Toast     string
	Email     string
}

var forgotPasswordText = `{{define "title"}}Forgot Password{{end}}
{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item"><a href="/log-in">Log In</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/forgot-password">Forgot Password</a></li>
{{- end}}

{{define "content"}}
{{if .Toast}}
<div class="alert alert-success" role="alert">{{.Toast}}</div>
{{end}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<form method="POST">
  <div class="mb-3">
    <label for="email" class="form-label">Email</label>
    <input type="email" name="email" id="email" class="form-control" value="{{.Email}}" required>
  </div>
  <button type="submit" class="btn btn-primary">Send Reset Link</button>
</form>
{{end}}
`

var forgotPasswordTemplate = parse(forgotPasswordText)

func ForgotPasswordPage(params *ForgotPasswordParams) ([]byte, error) {
	return execute(forgotPasswordTemplate, params)
}
