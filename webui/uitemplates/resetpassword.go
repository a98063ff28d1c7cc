package uitemplates

type ResetPasswordParams struct {
	ActiveUser ActiveUserParams

	Token     string
	UserError string
}

var resetPasswordText = `{{define "title"}}Reset Password{{end}}
{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page">Reset Password</li>
{{- end}}

{{define "content"}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<form method="POST">
  <input type="hidden" name="token" value="{{.Token}}">
  <div class="mb-3">
    <label for="password" class="form-label">New Password</label>
    <input type="password" name="password" id="password" class="form-control" minlength="6" required>
  </div>
  <button type="submit" class="btn btn-primary">Reset Password</button>
</form>
{{end}}
`

var resetPasswordTemplate = parse(resetPasswordText)

func ResetPasswordPage(params *ResetPasswordParams) ([]byte, error) {
	return execute(resetPasswordTemplate, params)
}
