package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Message kinds.
const (
	MessageBreached  = "breached"
	MessageEscalated = "escalated"
)

// Renderer renders escalation alerts from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"humanize":      humanize,
		"formatTime":    formatTime,
		"formatMillis":  formatMillis,
		"priorityEmoji": priorityEmoji,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, msg := range []string{MessageBreached, MessageEscalated} {
		name := "mattermost_" + msg
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[msg] = tmpl
	}

	return r, nil
}

// Render renders an escalation. Returns subject and body.
func (r *Renderer) Render(e domain.Escalation) (subject, body string, err error) {
	kind := MessageEscalated
	if e.Breached {
		kind = MessageBreached
	}

	tmpl, ok := r.templates[kind]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", kind, err)
	}

	return renderSubject(kind, e), strings.TrimSpace(buf.String()), nil
}

func renderSubject(kind string, e domain.Escalation) string {
	prefix := "SLA at risk"
	if kind == MessageBreached {
		prefix = "SLA breached"
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Title)
}

// Template functions

var titleCaser = cases.Title(language.English)

// humanize turns enum values like DATA_SYNC_ISSUE into "Data Sync Issue".
func humanize(v any) string {
	s := strings.ReplaceAll(fmt.Sprint(v), "_", " ")
	return titleCaser.String(strings.ToLower(s))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return formatTime(time.UnixMilli(ms))
}

func priorityEmoji(v any) string {
	switch domain.Priority(fmt.Sprint(v)) {
	case domain.PriorityCritical:
		return "🔴"
	case domain.PriorityHigh:
		return "🟠"
	case domain.PriorityMedium:
		return "🟡"
	case domain.PriorityLow:
		return "🟢"
	default:
		return "⚪"
	}
}
