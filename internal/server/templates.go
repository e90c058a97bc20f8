package server

import (
	"embed"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/euforicio/markpaste/internal/buildinfo"
	"github.com/euforicio/markpaste/internal/renderer"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

const siteName = "markpaste"

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
		"isoTime": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
		"hasMermaid": func(html template.HTML) bool {
			return strings.Contains(string(html), `class="mermaid"`)
		},
		"version": buildinfo.Summary,
	}

	base, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}

	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type ttlOption struct {
	Value string
	Label string
}

type editorViewData struct {
	Title        string
	Message      string
	Text         string
	Syntax       string
	TTL          string
	SourceURL    string
	NoShortcodes bool
	Languages    []renderer.Language
	TTLOptions   []ttlOption
	MaxSizeKiB   int
}

type pasteViewData struct {
	Title     string
	ID        string
	Syntax    string
	HTML      template.HTML
	SourceURL string
	Created   time.Time
	Expires   time.Time
	Formats   []string
	CanDelete bool
}

type pageViewData struct {
	Title    string
	HTML     template.HTML
	Modified time.Time
	Preview  bool
}

type statusViewData struct {
	Title     string
	HeaderMsg string
	Msg       string
}
