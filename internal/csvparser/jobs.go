package csvparser

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"SendQueue/internal/models"
)

// Template renders one job per recipient. Subject and Text are text
// templates; HTML is escaped as an html/template. Each sees the row's
// columns, so "Hi {{.FirstName}}" reads the FirstName column.
type Template struct {
	Subject string
	Text    string
	HTML    string

	SenderOverride  string
	ReplyToOverride string
	Tag             string
}

// Jobs renders every recipient. A template that fails to parse aborts the
// import; a row that fails to render is reported with its line number.
func (t Template) Jobs(recipients []Recipient) ([]*models.EmailJob, error) {
	subject, err := template.New("subject").Option("missingkey=zero").Parse(t.Subject)
	if err != nil {
		return nil, fmt.Errorf("csvparser: subject template: %w", err)
	}
	text, err := template.New("text").Option("missingkey=zero").Parse(t.Text)
	if err != nil {
		return nil, fmt.Errorf("csvparser: text template: %w", err)
	}
	html, err := htmltemplate.New("html").Option("missingkey=zero").Parse(t.HTML)
	if err != nil {
		return nil, fmt.Errorf("csvparser: html template: %w", err)
	}

	jobs := make([]*models.EmailJob, 0, len(recipients))
	for _, r := range recipients {
		var s, tx, h strings.Builder
		if err := subject.Execute(&s, r.Fields); err != nil {
			return nil, fmt.Errorf("csvparser: line %d: %w", r.Line, err)
		}
		if err := text.Execute(&tx, r.Fields); err != nil {
			return nil, fmt.Errorf("csvparser: line %d: %w", r.Line, err)
		}
		if err := html.Execute(&h, r.Fields); err != nil {
			return nil, fmt.Errorf("csvparser: line %d: %w", r.Line, err)
		}

		job := models.NewEmailJob(r.Email, s.String(), models.Body{Text: tx.String(), HTML: h.String()})
		job.SenderOverride = t.SenderOverride
		job.ReplyToOverride = t.ReplyToOverride
		job.Tag = t.Tag
		jobs = append(jobs, job)
	}
	return jobs, nil
}
