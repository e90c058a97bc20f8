package transform

import (
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// shortcodeLine matches "{{ name arg... }}" alone on a line.
var shortcodeLine = regexp.MustCompile(`^\s*\{\{\s*([A-Za-z]+)((?:\s+[^\s{}]+)*)\s*\}\}\s*$`)

var (
	shortcodesOffKey = parser.NewContextKey()
	baseURLKey       = parser.NewContextKey()
)

// DisableShortcodes turns "{{ ... }}" lines back into plain text for one document.
func DisableShortcodes(pc parser.Context) {
	pc.Set(shortcodesOffKey, true)
}

func shortcodesEnabled(pc parser.Context) bool {
	off, _ := pc.Get(shortcodesOffKey).(bool)
	return !off
}

// WithBaseURL makes relative image links resolve against base.
func WithBaseURL(pc parser.Context, base *url.URL) {
	pc.Set(baseURLKey, base)
}

func baseURL(pc parser.Context) *url.URL {
	u, _ := pc.Get(baseURLKey).(*url.URL)
	return u
}

// shortcodeParser opens a TOCBlock or an EmbedBlock for a known shortcode line.
type shortcodeParser struct{}

func (shortcodeParser) Trigger() []byte {
	return []byte{'{'}
}

func (shortcodeParser) Open(_ ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	if !shortcodesEnabled(pc) {
		return nil, parser.NoChildren
	}
	line, segment := reader.PeekLine()
	m := shortcodeLine.FindSubmatch(line)
	if m == nil {
		return nil, parser.NoChildren
	}
	name := strings.ToLower(string(m[1]))
	args := strings.Fields(string(m[2]))

	var node ast.Node
	if name == "toc" {
		toc, ok := newTOCBlock(args)
		if !ok {
			return nil, parser.NoChildren
		}
		node = toc
	} else if _, ok := embedServices[name]; ok {
		node = &EmbedBlock{Service: name, Args: args}
	} else {
		return nil, parser.NoChildren
	}
	reader.Advance(segment.Len() - 1)
	return node, parser.NoChildren
}

func (shortcodeParser) Continue(ast.Node, text.Reader, parser.Context) parser.State {
	return parser.Close
}

func (shortcodeParser) Close(ast.Node, text.Reader, parser.Context) {}

func (shortcodeParser) CanInterruptParagraph() bool {
	return false
}

func (shortcodeParser) CanAcceptIndentedLine() bool {
	return false
}

// newTOCBlock accepts "toc" or "toc lo hi" with single digit levels.
func newTOCBlock(args []string) (*TOCBlock, bool) {
	switch len(args) {
	case 0:
		return &TOCBlock{Lo: 1, Hi: 6}, true
	case 2:
		lo, err1 := strconv.Atoi(args[0])
		hi, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil || len(args[0]) != 1 || len(args[1]) != 1 {
			return nil, false
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return &TOCBlock{Lo: lo, Hi: hi}, true
	}
	return nil, false
}

// Shortcodes is a goldmark extension for the "{{ toc }}", "{{ tweet id }}",
// "{{ instagram id }}" and "{{ gist user id [file] }}" shortcodes. Embeds are
// resolved through client; a nil client leaves them as error notes.
func Shortcodes(client EmbedClient, logger *slog.Logger) goldmark.Extender {
	return &shortcodeExtender{resolver: &embedResolver{client: client, logger: logger}}
}

type shortcodeExtender struct {
	resolver *embedResolver
}

func (e *shortcodeExtender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(shortcodeParser{}, 150)),
		parser.WithASTTransformers(
			util.Prioritized(tocCollector{}, 200),
			util.Prioritized(e.resolver, 210),
		),
	)
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(tocRenderer{}, 200),
		util.Prioritized(embedRenderer{}, 200),
	))
}
