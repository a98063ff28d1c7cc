package uitemplates

type SettingsParams struct {
	ActiveUser ActiveUserParams

	Toast     string
	UserError string

	Email                string
	UserID               string
	NotificationsEnabled bool
	RealTime             bool
}

var settingsText = `
{{define "title"}}Settings{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/settings">Settings</a></li>
{{- end}}

{{define "content"}}
{{if .Toast}}
<div class="alert alert-success" role="alert">{{.Toast}}</div>
{{end}}
{{if .UserError}}
<div class="alert alert-danger" role="alert">Error: {{.UserError}}</div>
{{end}}

<h2>Account</h2>
<dl>
  <dt>Email</dt><dd>{{.Email}}</dd>
  <dt>User ID</dt><dd>{{.UserID}}</dd>
</dl>

<h2>Preferences</h2>
<form method="POST" class="mb-2">
  <input type="hidden" name="action" value="notifications">
  <input type="hidden" name="enabled" value="{{if .NotificationsEnabled}}false{{else}}true{{end}}">
  <button type="submit" class="btn btn-outline-primary">Notifications: {{if .NotificationsEnabled}}On{{else}}Off{{end}}</button>
</form>
<form method="POST" class="mb-4">
  <input type="hidden" name="action" value="real-time">
  <input type="hidden" name="enabled" value="{{if .RealTime}}false{{else}}true{{end}}">
  <button type="submit" class="btn btn-outline-primary">Real-time updates: {{if .RealTime}}On{{else}}Off{{end}}</button>
</form>

<h2>Data</h2>
<form method="POST" class="mb-2">
  <input type="hidden" name="action" value="clear-cache">
  <button type="submit" class="btn btn-outline-secondary">Clear Cache</button>
</form>
<form method="POST" class="mb-4">
  <input type="hidden" name="action" value="reset-app">
  <button type="submit" class="btn btn-outline-danger">Reset App</button>
</form>

<a href="/log-out" class="btn btn-danger">Sign Out</a>
{{end}}
`

var settingsTemplate = parse(settingsText)

func SettingsPage(params *SettingsParams) ([]byte, error) {
	return execute(settingsTemplate, params)
}
