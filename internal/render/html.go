package render

import (
	"html/template"
	"io"
)

// Page is the full dashboard document: every configured panel in order.
type Page struct {
	Title  string
	Panels []View
}

var pageTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;margin:1.5rem;background:#f5f6f8;color:#1b1f24}
h1{font-size:1.4rem}
h2{font-size:1.1rem;margin:0 0 .5rem}
h3{font-size:.95rem;margin:1rem 0 .25rem;color:#4a5056}
.panel{background:#fff;border:1px solid #d8dce1;border-radius:6px;padding:1rem;margin-bottom:1rem}
.panel.stale{border-color:#d4a72c}
.banner{background:#fff8e5;border:1px solid #d4a72c;border-radius:4px;padding:.4rem .6rem;font-size:.85rem;margin-bottom:.5rem}
.meta{color:#6a737d;font-size:.8rem;margin-bottom:.5rem}
table{border-collapse:collapse;width:100%;font-size:.85rem}
th,td{border:1px solid #e1e4e8;padding:.25rem .5rem;text-align:left}
th{background:#f0f2f4}
.empty{color:#6a737d;font-size:.85rem;font-style:italic}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Panels}}
<div class="panel{{if .Stale}} stale{{end}}" id="panel-{{.Panel}}">
<h2>{{.Title}}</h2>
{{if .Banner}}<div class="banner">{{.Banner}}</div>{{end}}
{{if .FetchedAt}}<div class="meta">fetched {{.FetchedAt}}{{if .Stale}} (stale){{end}}</div>{{end}}
{{range .Sections}}
<h3>{{.Title}}</h3>
{{if .Rows}}
<table>
<tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
{{else}}<p class="empty">{{.Empty}}</p>{{end}}
{{end}}
</div>
{{end}}
</body>
</html>
`))

// WriteHTML renders the dashboard page to w.
func WriteHTML(w io.Writer, page Page) error {
	return pageTmpl.Execute(w, page)
}
