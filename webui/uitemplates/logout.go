package uitemplates

type LogOutParams struct {
	ActiveUser ActiveUserParams
}

var logOutText = `
{{define "title"}}Log Out{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/">Home</a></li>
<li class="breadcrumb-item active" aria-current="page"><a href="/log-out">Log Out</a></li>
{{- end}}

{{define "content"}}
<h1>Log Out</h1>

<form method="POST">
  <button type="submit" class="btn btn-primary">Log Out</button>
</form>
{{end}}
`

var logOutTemplate = parse(logOutText)

func LogOutPage(params *LogOutParams) ([]byte, error) {
	return execute(logOutTemplate, params)
}
