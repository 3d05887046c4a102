package main

import (
	"html/template"
	"io"

	xlog "github.com/dtcooper/tomato/internal/log"
)

const diagnosticHTMLTemplate = `<!DOCTYPE html>
<html>
<head><title>tomato diagnostic log</title></head>
<body>
<h1>Recent log entries</h1>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Timestamp</th><th>Level</th><th>Message</th><th>Fields</th></tr>
{{range .}}<tr><td>{{.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}</td><td>{{.Level}}</td><td>{{.Message}}</td><td>{{.Fields}}</td></tr>
{{end}}</table>
</body>
</html>
`

// printDiagnosticHTML renders the in-memory log ring buffer as a static
// HTML page, the Go-native replacement for the teacher's HTTP-served
// request-log dashboard (DESIGN.md): here there is no inbound HTTP traffic
// to dump, so this renders recent sync/playout/shipper log entries instead.
func printDiagnosticHTML(w io.Writer) error {
	tmpl, err := template.New("diagnostic").Parse(diagnosticHTMLTemplate)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, xlog.GetRecentLogs())
}
