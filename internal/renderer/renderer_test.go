package renderer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/euforicio/markpaste/internal/renderer"
	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
)

func newService(t *testing.T) *renderer.Service {
	t.Helper()
	return renderer.NewService(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})), renderer.Options{})
}

func TestRenderWithMetadataAndMermaid(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	content := "---\n" +
		"title: Example Doc\n" +
		"description: Sample description\n" +
		"tags:\n" +
		"  - go\n" +
		"  - paste\n" +
		"---\n\n" +
		"# Hello\n\n" +
		"Some inline text.\n\n" +
		"```mermaid\n" +
		"graph TD;\n" +
		"A-->B;\n" +
		"```\n\n" +
		"```go\n" +
		"package main\n\n" +
		"import \"fmt\"\n\n" +
		"func main() {\n" +
		"  fmt.Println(\"hello\")\n" +
		"}\n" +
		"```\n"

	doc, err := svc.Render(context.Background(), content, "")
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if doc.Syntax != renderer.SyntaxMarkdown {
		t.Fatalf("empty syntax should render as markdown, got %q", doc.Syntax)
	}
	if doc.Title != "Example Doc" {
		t.Fatalf("frontmatter title should win, got %q", doc.Title)
	}
	if doc.Preview != "Some inline text." {
		t.Fatalf("unexpected preview %q", doc.Preview)
	}
	if doc.Metadata.Description != "Sample description" {
		t.Fatalf("unexpected description: %q", doc.Metadata.Description)
	}
	if len(doc.Metadata.Tags) != 2 || doc.Metadata.Tags[0] != "go" || doc.Metadata.Tags[1] != "paste" {
		t.Fatalf("unexpected tags: %#v", doc.Metadata.Tags)
	}

	html := doc.HTML
	if !strings.Contains(html, `<div class="mermaid">`) {
		t.Fatalf("expected mermaid div in HTML, got %s", html)
	}
	if strings.Contains(html, "language-mermaid") {
		t.Fatalf("expected mermaid fence to be wrapped, saw raw language class: %s", html)
	}
	if !strings.Contains(html, `class="chroma"`) {
		t.Fatalf("expected chroma highlighter output, got %s", html)
	}
	if !strings.Contains(html, `<span class="kn">package</span>`) {
		t.Fatalf("expected go syntax tokens in HTML, got %s", html)
	}
	if !strings.Contains(html, `id="hello"`) {
		t.Fatalf("expected auto heading id, got %s", html)
	}
}

func TestRenderTitleFromFirstHeading(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "Intro paragraph.\n\n## Second level\n\n# Top\n", "markdown")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.Title != "Second level" {
		t.Fatalf("expected first heading as title, got %q", doc.Title)
	}
	if doc.Preview != "Intro paragraph." {
		t.Fatalf("unexpected preview %q", doc.Preview)
	}
}

func TestRenderOmitsRawHTML(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "<script>alert(1)</script>\n", "markdown")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(doc.HTML, "<script>") {
		t.Fatalf("raw html must not be rendered: %s", doc.HTML)
	}
	if strings.TrimSpace(doc.HTML) != "<!-- raw HTML omitted -->" {
		t.Fatalf("unexpected output %q", doc.HTML)
	}
}

func TestRenderTableOfContents(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	content := "# Guide\n\n{{ toc }}\n\n## Install\n\n### Linux\n\n## Usage\n"
	doc, err := svc.Render(context.Background(), content, "markdown")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `<nav class="toc-block"><ul><li><a href="#guide">Guide</a>` +
		`<ul><li><a href="#install">Install</a><ul><li><a href="#linux">Linux</a></li></ul></li>` +
		`<li><a href="#usage">Usage</a></li></ul></li></ul></nav>`
	if !strings.Contains(doc.HTML, want) {
		t.Fatalf("unexpected toc:\n%s", doc.HTML)
	}
	if strings.Contains(doc.HTML, "{{") {
		t.Fatalf("shortcode should be consumed: %s", doc.HTML)
	}
}

func TestRenderTableOfContentsRange(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	content := "{{ toc 2 2 }}\n\n# Title\n\n## A\n\n### Deep\n\n## B\n"
	doc, err := svc.Render(context.Background(), content, "markdown")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `<nav class="toc-block"><ul><li><a href="#a">A</a></li><li><a href="#b">B</a></li></ul></nav>`
	if !strings.Contains(doc.HTML, want) {
		t.Fatalf("unexpected toc:\n%s", doc.HTML)
	}
}

func TestRenderTableOfContentsInlineIsText(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "see {{ toc }} here\n", "markdown")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(doc.HTML, "toc-block") {
		t.Fatalf("shortcode only applies on its own line: %s", doc.HTML)
	}
}

func TestRenderPlainEscapes(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "\n  <b>bold</b> & more\nsecond", "plain")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<pre><code>\n  &lt;b&gt;bold&lt;/b&gt; &amp; more\nsecond</code></pre>"
	if doc.HTML != want {
		t.Fatalf("unexpected html %q", doc.HTML)
	}
	if doc.Preview != "<b>bold</b> & more" {
		t.Fatalf("unexpected preview %q", doc.Preview)
	}
	if doc.Title != "" {
		t.Fatalf("plain text has no title, got %q", doc.Title)
	}
}

func TestRenderCode(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "def main():\n    return 1\n", "Python")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.Syntax != "python" {
		t.Fatalf("expected normalized syntax, got %q", doc.Syntax)
	}
	if !strings.HasPrefix(doc.HTML, `<div class="code-paste" data-lang="python">`) {
		t.Fatalf("unexpected wrapper: %s", doc.HTML)
	}
	if !strings.Contains(doc.HTML, `class="lnt"`) {
		t.Fatalf("expected line numbers: %s", doc.HTML)
	}
	if doc.Preview != "def main():" {
		t.Fatalf("unexpected preview %q", doc.Preview)
	}
}

func TestRenderUnsupportedSyntax(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	_, err := svc.Render(context.Background(), "x", "definitely-not-a-language")
	if !errors.Is(err, renderer.ErrUnsupportedSyntax) {
		t.Fatalf("expected ErrUnsupportedSyntax, got %v", err)
	}
}

func TestRenderCaching(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	doc1, err := svc.Render(ctx, "# First", "markdown")
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	doc2, err := svc.Render(ctx, "# First", "markdown")
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc1.HTML != doc2.HTML || doc1.Title != doc2.Title {
		t.Fatalf("expected identical cached document")
	}

	doc3, err := svc.Render(ctx, "# First", "plain")
	if err != nil {
		t.Fatalf("third render: %v", err)
	}
	if doc3.HTML == doc1.HTML {
		t.Fatalf("syntax must be part of the cache key")
	}
}

func TestNormalizeSyntax(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "", want: "markdown", ok: true},
		{in: " MD ", want: "markdown", ok: true},
		{in: "txt", want: "plain", ok: true},
		{in: "go", want: "go", ok: true},
		{in: "golang", want: "go", ok: true},
		{in: "nope-nope", ok: false},
	}
	for _, tc := range tests {
		got, ok := renderer.NormalizeSyntax(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizeSyntax(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLanguages(t *testing.T) {
	t.Parallel()
	langs := renderer.Languages()
	if len(langs) < 10 {
		t.Fatalf("expected chroma languages, got %d", len(langs))
	}
	if langs[0].ID != renderer.SyntaxMarkdown || langs[1].ID != renderer.SyntaxPlain {
		t.Fatalf("markdown and plain must come first: %+v", langs[:2])
	}
	seen := map[string]bool{}
	for _, lang := range langs {
		if seen[lang.ID] {
			t.Fatalf("duplicate language %q", lang.ID)
		}
		seen[lang.ID] = true
		if _, ok := renderer.NormalizeSyntax(lang.ID); !ok {
			t.Fatalf("listed language %q is not accepted", lang.ID)
		}
	}
	if !seen["go"] {
		t.Fatalf("expected go in language list")
	}
}

func TestStyleCSS(t *testing.T) {
	t.Parallel()
	css, err := renderer.StyleCSS("monokai")
	if err != nil {
		t.Fatalf("StyleCSS: %v", err)
	}
	if !strings.Contains(string(css), ".chroma") {
		t.Fatalf("expected chroma selectors, got %s", css)
	}
	if _, err := renderer.StyleCSS("no-such-style"); err == nil {
		t.Fatalf("expected error for unknown style")
	}
}

func TestRenderD2Blocks(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := renderer.NewService(logger, renderer.Options{D2: d2renderer.New(logger, nil)})

	doc, err := svc.Render(context.Background(), "# Flow\n\n```d2\nclient -> server: request\n```\n", renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc.HTML, `<div class="d2-block"`) || !strings.Contains(doc.HTML, "<svg") {
		t.Fatalf("expected compiled diagram, got %s", doc.HTML)
	}

	doc, err = svc.Render(context.Background(), "```d2\na -> {\n```\n", renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc.HTML, `<div class="d2-error">`) {
		t.Fatalf("expected inline d2 error, got %s", doc.HTML)
	}
}

func TestRenderD2Disabled(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "```d2\na -> b\n```\n", renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(doc.HTML, "d2-block") {
		t.Fatalf("d2 fences must stay code blocks without a compiler: %s", doc.HTML)
	}
}

type stubEmbeds struct {
	mu   sync.Mutex
	urls []string
}

func (s *stubEmbeds) FetchJSON(_ context.Context, rawURL string, dst any) error {
	s.mu.Lock()
	s.urls = append(s.urls, rawURL)
	s.mu.Unlock()
	if strings.Contains(rawURL, "404") {
		return errors.New("status 404")
	}
	return json.Unmarshal([]byte(`{"html":"<blockquote class=\"twitter-tweet\">hi</blockquote>"}`), dst)
}

func TestRenderEmbedShortcodes(t *testing.T) {
	t.Parallel()
	embeds := &stubEmbeds{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := renderer.NewService(logger, renderer.Options{Embeds: embeds})

	content := "{{ tweet 1234 }}\n\n{{ tweet 404 }}\n\n{{ gist octo abc123 main.go }}\n\n{{ instagram }}\n\n{{ tweet a/b }}\n"
	doc, err := svc.Render(context.Background(), content, renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		`<div class="embed embed-tweet"><blockquote class="twitter-tweet">hi</blockquote></div>`,
		`<p class="embed-error">Unable to load tweet 404!</p>`,
		`<script type="application/javascript" src="https://gist.github.com/octo/abc123.js?file=main.go"></script>`,
		`<p class="embed-error">Wrong arguments for instagram!</p>`,
		`<p class="embed-error">Wrong arguments for tweet!</p>`,
	} {
		if !strings.Contains(doc.HTML, want) {
			t.Fatalf("missing %q in:\n%s", want, doc.HTML)
		}
	}
	if len(embeds.urls) != 2 || !strings.HasPrefix(embeds.urls[0], "https://publish.twitter.com/oembed?") {
		t.Fatalf("unexpected oembed requests %v", embeds.urls)
	}
}

func TestRenderEmbedWithoutClient(t *testing.T) {
	t.Parallel()
	svc := newService(t)

	doc, err := svc.Render(context.Background(), "{{ tweet 1234 }}\n", renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc.HTML, "Unable to load tweet 1234!") {
		t.Fatalf("expected embed error, got %s", doc.HTML)
	}
}

func TestRenderWithShortcodesDisabled(t *testing.T) {
	t.Parallel()
	embeds := &stubEmbeds{}
	svc := renderer.NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), renderer.Options{Embeds: embeds})
	ctx := context.Background()
	content := "{{ toc }}\n\n{{ tweet 1234 }}\n\n# Title\n"

	on, err := svc.RenderWith(ctx, content, renderer.SyntaxMarkdown, renderer.RenderOptions{})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}
	off, err := svc.RenderWith(ctx, content, renderer.SyntaxMarkdown, renderer.RenderOptions{DisableShortcodes: true})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}

	if !strings.Contains(on.HTML, "toc-block") || !strings.Contains(on.HTML, "embed-tweet") {
		t.Fatalf("shortcodes should render by default: %s", on.HTML)
	}
	if strings.Contains(off.HTML, "toc-block") || strings.Contains(off.HTML, "embed") {
		t.Fatalf("disabled shortcodes must stay text: %s", off.HTML)
	}
	if !strings.Contains(off.HTML, "{{ tweet 1234 }}") {
		t.Fatalf("shortcode text missing: %s", off.HTML)
	}
	if len(embeds.urls) != 1 {
		t.Fatalf("disabled render must not fetch embeds, got %v", embeds.urls)
	}
}

func TestRenderRelativeImages(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()
	content := "![a](img/a.png) ![b](/root.png) ![c](https://cdn.example.net/c.png) ![d](//other.example/d.png)\n"

	doc, err := svc.RenderWith(ctx, content, renderer.SyntaxMarkdown, renderer.RenderOptions{BaseURL: "https://example.com/docs/README.md"})
	if err != nil {
		t.Fatalf("RenderWith: %v", err)
	}
	for _, want := range []string{
		`src="https://example.com/docs/img/a.png"`,
		`src="https://example.com/root.png"`,
		`src="https://cdn.example.net/c.png"`,
		`src="//other.example/d.png"`,
	} {
		if !strings.Contains(doc.HTML, want) {
			t.Fatalf("missing %s in %s", want, doc.HTML)
		}
	}

	plain, err := svc.Render(ctx, content, renderer.SyntaxMarkdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(plain.HTML, `src="img/a.png"`) {
		t.Fatalf("documents without a base url keep relative links: %s", plain.HTML)
	}
}
