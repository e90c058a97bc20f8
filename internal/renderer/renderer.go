// Package renderer converts paste text to HTML with caching and syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
	"github.com/euforicio/markpaste/internal/renderer/transform"
)

// Built-in syntaxes. Any other supported syntax is a chroma lexer name.
const (
	SyntaxMarkdown = "markdown"
	SyntaxPlain    = "plain"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "github-dark"

// ErrUnsupportedSyntax is returned for syntaxes neither built in nor known to chroma.
var ErrUnsupportedSyntax = errors.New("unsupported syntax")

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document is the rendered form of a paste.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	Syntax string
	// Title is the frontmatter title or the first heading. Empty for code and plain pastes.
	Title string
	// Preview is the first paragraph (markdown) or the first non-blank line (code, plain).
	Preview  string
	HTML     string
	Metadata Metadata
}

// Language is a syntax offered in the editor.
type Language struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Options configure a Service.
type Options struct {
	// Style is the chroma style name; highlighted output uses CSS classes, the style
	// only matters for StyleCSS.
	Style string
	// D2 compiles ```d2 fences when set.
	D2 *d2renderer.Renderer
	// Embeds fetches oEmbed documents for tweet and instagram shortcodes. Without it
	// those shortcodes render an error note.
	Embeds        transform.EmbedClient
	CacheTTL      time.Duration
	CacheCapacity uint64
}

// RenderOptions adjust how a single markdown document is rendered.
type RenderOptions struct {
	// BaseURL resolves relative image links, for pastes fetched from a URL.
	BaseURL string
	// DisableShortcodes leaves "{{ ... }}" lines as plain text.
	DisableShortcodes bool
}

// Service renders paste text into HTML with caching.
// Markdown goes through goldmark with GitHub-flavored extensions, footnotes,
// typographic punctuation, frontmatter, heading anchors and chroma highlighting.
// Raw HTML inside markdown is omitted since paste content is untrusted.
type Service struct {
	md     goldmark.Markdown
	code   *chromahtml.Formatter
	style  string
	logger *slog.Logger
	cache  *ttlcache.Cache[uint64, Document]
}

// NewService constructs a renderer. If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "renderer")

	if opts.Style == "" || styles.Get(opts.Style) == styles.Fallback {
		if opts.Style != "" {
			logger.Warn("unknown highlight style, using default", "style", opts.Style, "default", DefaultStyle)
		}
		opts.Style = DefaultStyle
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = 256
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle(opts.Style),
		highlighting.WithFormatOptions(
			chromahtml.WithLineNumbers(false),
			chromahtml.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.FenceWrapper()),
	)

	extensions := []goldmark.Extender{
		extension.GFM,
		extension.Footnote,
		extension.Typographer,
		goldmarkmeta.Meta,
		transform.Shortcodes(opts.Embeds, logger),
		transform.RelativeImages,
	}
	if opts.D2 != nil {
		extensions = append(extensions, transform.D2(opts.D2, logger))
	}
	extensions = append(extensions,
		highlight,
		&anchor.Extender{
			Position: anchor.After,
		},
	)

	md := goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(
				util.Prioritized(transform.TitleExtractor{}, 900),
			),
		),
		goldmark.WithRendererOptions(
			htmlrenderer.WithXHTML(),
		),
	)

	cache := ttlcache.New[uint64, Document](
		ttlcache.WithTTL[uint64, Document](opts.CacheTTL),
		ttlcache.WithCapacity[uint64, Document](opts.CacheCapacity),
		ttlcache.WithDisableTouchOnHit[uint64, Document](),
	)

	return &Service{
		md: md,
		code: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.WithLineNumbers(true),
			chromahtml.LineNumbersInTable(true),
			chromahtml.TabWidth(4),
		),
		style:  opts.Style,
		logger: logger,
		cache:  cache,
	}
}

// Render converts text written in syntax into a Document. Results are cached by content.
func (s *Service) Render(ctx context.Context, text, syntax string) (Document, error) {
	return s.RenderWith(ctx, text, syntax, RenderOptions{})
}

// RenderWith is Render with per-document options. Options only affect markdown.
func (s *Service) RenderWith(ctx context.Context, text, syntax string, opts RenderOptions) (Document, error) {
	syntax, ok := NormalizeSyntax(syntax)
	if !ok {
		return Document{}, ErrUnsupportedSyntax
	}

	key := cacheKey(syntax, text, opts)
	if item := s.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	var (
		doc Document
		err error
	)
	switch syntax {
	case SyntaxMarkdown:
		doc, err = s.renderMarkdown(ctx, text, opts)
	case SyntaxPlain:
		doc = Document{
			HTML:    "<pre><code>" + html.EscapeString(text) + "</code></pre>",
			Preview: firstLine(text),
		}
	default:
		doc, err = s.renderCode(text, syntax)
	}
	if err != nil {
		return Document{}, err
	}
	doc.Syntax = syntax

	// A cancelled render may carry diagram timeouts; don't keep it.
	if ctx.Err() == nil {
		s.cache.Set(key, doc, ttlcache.DefaultTTL)
	}
	return doc, nil
}

func (s *Service) renderMarkdown(ctx context.Context, text string, opts RenderOptions) (Document, error) {
	pc := parser.NewContext()
	transform.WithRenderContext(pc, ctx)
	if opts.DisableShortcodes {
		transform.DisableShortcodes(pc)
	}
	if opts.BaseURL != "" {
		if base, err := url.Parse(opts.BaseURL); err == nil && base.IsAbs() {
			transform.WithBaseURL(pc, base)
		}
	}

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf, parser.WithContext(pc)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	summary := transform.SummaryFrom(pc)
	meta := extractMetadata(pc)
	title := summary.Title
	if meta.Title != "" {
		title = meta.Title
	}
	return Document{
		Title:    title,
		Preview:  summary.Preview,
		HTML:     buf.String(),
		Metadata: meta,
	}, nil
}

func (s *Service) renderCode(text, syntax string) (Document, error) {
	lexer := lexers.Get(syntax)
	if lexer == nil {
		return Document{}, ErrUnsupportedSyntax
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return Document{}, fmt.Errorf("tokenise %s: %w", syntax, err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<div class="code-paste" data-lang="`)
	buf.WriteString(html.EscapeString(syntax))
	buf.WriteString(`">`)
	if err := s.code.Format(&buf, styles.Get(s.style), iterator); err != nil {
		return Document{}, fmt.Errorf("highlight %s: %w", syntax, err)
	}
	buf.WriteString("</div>\n")

	return Document{
		HTML:    buf.String(),
		Preview: firstLine(text),
	}, nil
}

// Style returns the chroma style in use.
func (s *Service) Style() string {
	return s.style
}

// NormalizeSyntax maps user input to a canonical syntax id. Empty input means markdown.
func NormalizeSyntax(syntax string) (string, bool) {
	syntax = strings.ToLower(strings.TrimSpace(syntax))
	switch syntax {
	case "", "markdown", "md":
		return SyntaxMarkdown, true
	case "plain", "text", "txt", "plaintext":
		return SyntaxPlain, true
	}
	lexer := lexers.Get(syntax)
	if lexer == nil {
		return "", false
	}
	name := strings.ToLower(lexer.Config().Name)
	if name == SyntaxMarkdown {
		return SyntaxMarkdown, true
	}
	return name, true
}

// Languages lists the syntaxes offered in the editor: markdown and plain first, then
// every chroma lexer by name.
func Languages() []Language {
	out := []Language{
		{ID: SyntaxMarkdown, Name: "Markdown"},
		{ID: SyntaxPlain, Name: "Plain text"},
	}
	seen := map[string]bool{SyntaxMarkdown: true, SyntaxPlain: true, "plaintext": true}

	var code []Language
	for _, lexer := range lexers.GlobalLexerRegistry.Lexers {
		name := lexer.Config().Name
		id := strings.ToLower(name)
		if seen[id] {
			continue
		}
		seen[id] = true
		code = append(code, Language{ID: id, Name: name})
	}
	sort.Slice(code, func(i, j int) bool { return code[i].ID < code[j].ID })
	return append(out, code...)
}

// StyleCSS returns the stylesheet for chroma class-based output in the named style.
func StyleCSS(style string) ([]byte, error) {
	st := styles.Get(style)
	if st == styles.Fallback && !strings.EqualFold(style, styles.Fallback.Name) {
		return nil, fmt.Errorf("unknown style %q", style)
	}
	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&buf, st); err != nil {
		return nil, fmt.Errorf("write css: %w", err)
	}
	return buf.Bytes(), nil
}

func cacheKey(syntax, text string, opts RenderOptions) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(syntax)
	_, _ = d.Write([]byte{0})
	if syntax == SyntaxMarkdown {
		_, _ = d.WriteString(opts.BaseURL)
		_, _ = d.Write([]byte{0})
		if opts.DisableShortcodes {
			_, _ = d.Write([]byte{1})
		}
		_, _ = d.Write([]byte{0})
	}
	_, _ = d.WriteString(text)
	return d.Sum64()
}

func firstLine(text string) string {
	for line := range strings.Lines(text) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}

	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
