package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/JakeFAU/serp-reporter/internal/mailer"
)

const reportTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; color: #222;">
<h1>Crawl Report: {{.SessionName}}</h1>
<p>
  <strong>{{.TotalResults}}</strong> results across
  <strong>{{.DistinctDomains}}</strong> domains for
  <strong>{{len .Keywords}}</strong> keywords.
  Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}.
</p>
{{if .FailureSummary}}<p><em>{{.FailureSummary}}</em></p>{{end}}
{{range .Groups}}
<h2>{{.Keyword}}</h2>
<ol>
{{range .Results}}
  <li>
    <a href="{{.URL}}">{{.Title}}</a>
    <br><small>{{.Domain}}</small>
    {{if .Snippet}}<br>{{.Snippet}}{{end}}
  </li>
{{end}}
</ol>
{{end}}
</body>
</html>`

// Renderer turns compiled payloads into deliverable messages. The text part
// is derived from the rendered HTML so the two never drift apart.
type Renderer struct {
	tmpl *template.Template
	conv *md.Converter
}

// NewRenderer parses the report template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{
		tmpl: tmpl,
		conv: md.NewConverter("", true, nil),
	}, nil
}

// Render produces the email message for a payload.
func (r *Renderer) Render(payload Payload, to string) (mailer.Message, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, payload); err != nil {
		return mailer.Message{}, fmt.Errorf("render report: %w", err)
	}
	html := buf.String()

	text, err := r.conv.ConvertString(html)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("derive text part: %w", err)
	}

	return mailer.Message{
		To:      to,
		Subject: Subject(payload),
		HTML:    html,
		Text:    text,
	}, nil
}

// Subject builds the message subject line, truncating long keyword lists.
func Subject(payload Payload) string {
	shown := payload.Keywords
	extra := 0
	if len(shown) > 3 {
		extra = len(shown) - 3
		shown = shown[:3]
	}
	kw := strings.Join(shown, ", ")
	if extra > 0 {
		kw = fmt.Sprintf("%s (+%d more)", kw, extra)
	}
	return fmt.Sprintf("Crawl Report: %d Results for '%s' - %s",
		payload.TotalResults, kw, payload.SessionName)
}
