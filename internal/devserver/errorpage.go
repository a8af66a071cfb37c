package devserver

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/site"
)

var errorPage = template.Must(template.New("errors").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{if .Failed}}Build failed{{else}}Build status{{end}} | {{.SiteTitle}}</title>
<style>
body{font:15px/1.5 system-ui,sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem;color:#222}
h1{color:{{if .Failed}}#b00020{{else}}#333{{end}}}
pre{background:#f6f6f6;padding:1rem;overflow:auto;white-space:pre-wrap}
td,th{text-align:left;padding:.2rem .6rem;border-bottom:1px solid #ddd}
</style>
</head>
<body>
{{- if not .Report}}
<h1>Building…</h1>
<p>The first build has not finished yet. This page reloads when it does.</p>
{{- else}}
<h1>{{if .Failed}}Build failed{{else if .Warnings}}Build finished with warnings{{else}}Build succeeded{{end}}</h1>
<p>Build <code>{{.Report.BuildID}}</code>, generation {{.Report.Generation}}, {{.Report.Mode}}, started {{.Started}}.</p>
{{- if .Report.Error}}
<pre>{{.Report.Error}}</pre>
{{- end}}
{{- with .Report.ErrorDetails}}
<table>
{{- range $k, $v := .}}
<tr><th>{{$k}}</th><td>{{$v}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .HasGood}}
<p>The last good build is still being served. <a href="/">Back to the site</a></p>
{{- end}}
{{- if .Warnings}}
<h2>Warnings</h2>
<table>
<tr><th>Kind</th><th>Source</th><th>Target</th><th>Message</th></tr>
{{- range .Warnings}}
<tr><td>{{.Kind}}</td><td>{{.Source}}</td><td>{{.Target}}</td><td>{{.Message}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- end}}
</body>
</html>
`))

type errorPageData struct {
	SiteTitle string
	Report    *build.Report
	Failed    bool
	HasGood   bool
	Started   string
	Warnings  []site.Warning
}

// writeErrorPage renders the most recent build's errors and warnings.
func (s *Server) writeErrorPage(w http.ResponseWriter, status int) {
	rep := s.builder.LastReport()
	data := errorPageData{
		SiteTitle: s.cfg.Site.Title,
		Report:    rep,
		HasGood:   s.builder.Snapshot() != nil,
	}
	if rep != nil {
		data.Failed = rep.Outcome == build.OutcomeFailed
		data.Warnings = rep.Warnings
		data.Started = rep.StartedAt.Format(time.DateTime)
	}

	var buf bytes.Buffer
	if err := errorPage.Execute(&buf, data); err != nil {
		slog.Error("Failed to render error page", logfields.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(inject(buf.Bytes(), s.liveReload, false))
}
