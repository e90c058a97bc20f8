// Package exporter converts a stored paste into a downloadable document.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports a standalone HTML document.
	FormatHTML Format = "html"
	// FormatMarkdown exports the raw paste text.
	FormatMarkdown Format = "markdown"
	// FormatPlainText exports the visible text of the rendered paste.
	FormatPlainText Format = "txt"
	// FormatPDF exports as PDF.
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned for formats outside ValidFormats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPlainText, FormatPDF}
}

// ParseFormat normalizes a user supplied format name. "md" and "text" are accepted as aliases.
func ParseFormat(format string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	switch f {
	case "md":
		f = FormatMarkdown
	case "text":
		f = FormatPlainText
	}
	for _, valid := range ValidFormats() {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q (allowed: html, pdf, markdown, txt)", ErrUnsupportedFormat, format)
}

// IsValidFormat checks if the given format is valid.
func IsValidFormat(format string) bool {
	_, err := ParseFormat(format)
	return err == nil
}

// Options configure an Exporter.
type Options struct {
	// Style is the chroma style inlined into HTML exports.
	Style string
	// D2 rasterizes diagrams for PDF exports. Without it d2 fences stay as code.
	D2 *d2renderer.Renderer
}

// Exporter writes pastes in the supported formats.
type Exporter struct {
	logger    *slog.Logger
	templates *templateRenderer
	diagrams  *diagramImages
	style     string
}

// New constructs an exporter instance ready for use.
func New(logger *slog.Logger, opts Options) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "exporter")

	style := opts.Style
	if style == "" {
		style = renderer.DefaultStyle
	}
	css, err := renderer.StyleCSS(style)
	if err != nil {
		return nil, err
	}

	tmpl, err := newTemplateRenderer(css)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Exporter{
		logger:    logger,
		templates: tmpl,
		diagrams:  newDiagramImages(opts.D2, logger),
		style:     style,
	}, nil
}

// ExportPaste writes p to w in the given format.
func (e *Exporter) ExportPaste(ctx context.Context, p paste.Paste, format Format, w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}
	format, err := ParseFormat(string(format))
	if err != nil {
		return err
	}

	switch format {
	case FormatHTML:
		return e.exportHTML(p, w)
	case FormatMarkdown:
		_, err = io.WriteString(w, p.Text)
		return err
	case FormatPlainText:
		return exportPlainText(p, w)
	case FormatPDF:
		return e.exportPDF(ctx, p, w)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ContentType returns the MIME type for the given format.
func ContentType(format Format) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the given format.
func FileExtension(format Format) string {
	switch format {
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatPlainText:
		return ".txt"
	case FormatPDF:
		return ".pdf"
	default:
		return ""
	}
}

// Filename suggests a download name for p, e.g. "shopping-list-abcdefghij.pdf".
func Filename(p paste.Paste, format Format) string {
	slug := slugify(p.Title)
	name := p.ID
	if slug != "" {
		name = slug + "-" + p.ID
	}
	return name + FileExtension(format)
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
