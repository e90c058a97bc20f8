package exporter

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/euforicio/markpaste/internal/paste"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type templateRenderer struct {
	tmpl      *template.Template
	chromaCSS template.CSS
}

func newTemplateRenderer(chromaCSS []byte) (*templateRenderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
	}

	base, err := template.New("standalone").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{
		tmpl:      base,
		chromaCSS: template.CSS(chromaCSS), //nolint:gosec // generated by chroma
	}, nil
}

type standaloneViewData struct {
	Paste     paste.Paste
	HTML      template.HTML
	ChromaCSS template.CSS
	Mermaid   bool
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}
