package uitemplates

type LogInParams struct {
	ActiveUser ActiveUserParams

	UserError string
	Toast     string
	Email     string

	// GoogleClientID enables the Sign in with Google button.
	GoogleClientID string
}

var logInText = `{{define "title"}}Log In{{end}}
{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/log-in">Log In</a></li>
{{- end}}

{{define "content"}}
{{if .Toast}}
<div class="alert alert-success" role="alert">{{.Toast}}</div>
{{end}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<form method="POST" class="mb-3">
  <div class="mb-3">
    <label for="email" class="form-label">Email</label>
    <input type="email" name="email" id="email" class="form-control" value="{{.Email}}" required>
  </div>
  <div class="mb-3">
    <label for="password" class="form-label">Password</label>
    <input type="password" name="password" id="password" class="form-control" required>
  </div>
  <button type="submit" class="btn btn-primary">Log In</button>
</form>

<p><a href="/forgot-password">Forgot password?</a></p>
<p>No account yet? <a href="/sign-up">Sign up</a></p>

{{if .GoogleClientID}}
<div id="g_id_onload" data-client_id="{{.GoogleClientID}}" data-login_uri="/sign-in-with-google" data-ux_mode="redirect"></div>
<div class="g_id_signin" data-type="standard"></div>
{{end}}
{{end}}

{{define "scripts"}}
{{if .GoogleClientID}}<script src="https://accounts.google.com/gsi/client" async></script>{{end}}
{{end}}
`

var logInTemplate = parse(logInText)

func LogInPage(params *LogInParams) ([]byte, error) {
	return execute(logInTemplate, params)
}
