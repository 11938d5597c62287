package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders outbox emails from templates.
type Renderer struct {
	templates map[MessageType]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"formatTime": formatTime,
	}

	r := &Renderer{
		templates: make(map[MessageType]*template.Template),
		funcMap:   funcMap,
	}

	messageTypes := []MessageType{MessageTypeMagicLink, MessageTypeWelcome, MessageTypeGoodbye}

	for _, msg := range messageTypes {
		filename := fmt.Sprintf("templates/%s.tmpl", msg)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(msg)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", msg, err)
		}

		r.templates[msg] = tmpl
	}

	return r, nil
}

// Render renders an email for the given message type.
// Returns subject and body.
func (r *Renderer) Render(messageType MessageType, data TemplateData) (subject, body string, err error) {
	subject = r.renderSubject(messageType)

	tmpl, ok := r.templates[messageType]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", messageType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", messageType, err)
	}

	body = strings.TrimSpace(buf.String())
	return subject, body, nil
}

// renderSubject generates the email subject line.
func (r *Renderer) renderSubject(messageType MessageType) string {
	switch messageType {
	case MessageTypeMagicLink:
		return "Your sign-in link"
	case MessageTypeWelcome:
		return "Welcome to the list"
	case MessageTypeGoodbye:
		return "You have been unsubscribed"
	default:
		return "Notification"
	}
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
