package exporter

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/euforicio/markpaste/internal/paste"
)

func (e *Exporter) exportHTML(p paste.Paste, w io.Writer) error {
	data := standaloneViewData{
		Paste:     p,
		HTML:      template.HTML(p.HTML), //nolint:gosec // HTML from trusted renderer
		ChromaCSS: e.templates.chromaCSS,
		Mermaid:   strings.Contains(p.HTML, `class="mermaid"`),
	}

	var buf bytes.Buffer
	if err := e.templates.render(&buf, "standalone", data); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
