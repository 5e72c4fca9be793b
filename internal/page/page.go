// Package page renders the fixed header and query form that precede every
// querygate response.
package page

import (
	"fmt"
	"io"
	"text/template"
)

// Header holds the static parts of the response page.
type Header struct {
	Title        string
	Instructions string
	// Action is the form target; empty submits back to the same URL.
	Action string
	// ContentType emits a CGI "Content-Type" header line first.
	ContentType bool
}

// DefaultHeader returns the header used when nothing is configured.
func DefaultHeader() Header {
	return Header{
		Title:        "Query",
		Instructions: "Enter a query below and press Run. Evaluation is limited to a fixed time budget.",
	}
}

// The query is written verbatim between the textarea tags. It is not
// escaped against the surrounding markup.
var headerTmpl = template.Must(template.New("header").Parse(`{{if .ContentType}}Content-Type: text/html; charset=utf-8

{{end}}<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Instructions}}</p>
<form method="get"{{if .Action}} action="{{.Action}}"{{end}}>
<textarea name="query" rows="10" cols="80">{{.Query}}</textarea>
<br>
<input type="submit" value="Run">
</form>
<hr>
`))

// Render writes the header and form to w, pre-filling the textarea with
// query.
func (h Header) Render(w io.Writer, query string) error {
	data := struct {
		Header
		Query string
	}{h, query}
	if err := headerTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render header: %w", err)
	}
	return nil
}
