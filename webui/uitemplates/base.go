package uitemplates

import (
	"bytes"
	"fmt"
	"html/template"
)

var baseText = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{block "title" .}}Title{{end}} - Social Feed</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/css/bootstrap.min.css" rel="stylesheet" integrity="sha384-GLhlTQ8iRABdZLl6O3oVMWSktQOp6b7In1Zl3/Jr59b6EGGoI1aFkw7cmDA6j6gD" crossorigin="anonymous">

    {{block "head" .}}{{end}}
  </head>
  <body>
    <div class="container">
      <nav class="navbar bg-body-tertiary">
        <div class="container-fluid">
          <a class="navbar-brand" href="/">Social Feed</a>
          {{if .ActiveUser.LoggedIn}}
          <ul class="navbar-nav flex-row gap-3">
            <li class="nav-item"><a class="nav-link" href="/">Home</a></li>
            <li class="nav-item"><a class="nav-link" href="/profile">Profile</a></li>
            <li class="nav-item"><a class="nav-link" href="/settings">Settings</a></li>
            <li class="nav-item"><a class="nav-link" href="/log-out">Log Out</a></li>
          </ul>
          {{end}}
        </div>
      </nav>

      <nav aria-label="breadcrumb" class="border-bottom mt-3 mb-3">
        <ol class="breadcrumb">
          {{block "breadcrumbs" .}}<li class="breadcrumb-item active" aria-current="page">Home</li>{{end}}
        </ol>
      </nav>

      <main>
        {{block "content" .}}{{end}}
      </main>

      <footer class="pt-3 my-5 border-top">
        {{if .ActiveUser.LoggedIn}}Signed in as {{.ActiveUser.Name}}{{end}}
      </footer>
    </div>

    <script src="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/js/bootstrap.bundle.min.js" integrity="sha384-w76AqPfDkMBDXo30jS1Sgez6pr3x5MlQ1ZAGC+nuZB+EYdgRZgiwxhTBTkF7CXvN" crossorigin="anonymous"></script>
    {{block "scripts" .}}{{end}}
  </body>
</html>
`

func parse(text string) *template.Template {
	return template.Must(template.Must(template.New("base").Parse(baseText)).Parse(text))
}

func execute(t *template.Template, params any) ([]byte, error) {
	b := bytes.Buffer{}
	if err := t.Execute(&b, params); err != nil {
		return nil, fmt.Errorf("while executing template: %w", err)
	}
	return b.Bytes(), nil
}

// liveText reloads the element with id "live" whenever the server reports a
// change on the event stream.  Holding the stream open is what marks the
// user online.
var liveText = `{{define "scripts"}}
<script>
  const events = new EventSource("/events");
  events.addEventListener("update", async () => {
    const resp = await fetch(location.href, {credentials: "same-origin"});
    if (!resp.ok) {
      return;
    }
    const doc = new DOMParser().parseFromString(await resp.text(), "text/html");
    const fresh = doc.getElementById("live");
    const live = document.getElementById("live");
    if (fresh && live) {
      live.replaceWith(fresh);
    }
  });
</script>
{{end}}
`
