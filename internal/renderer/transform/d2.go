package transform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
)

// D2Language is the fence info string compiled as a diagram.
const D2Language = "d2"

// maxDiagramsPerDocument bounds the compile work a single paste can trigger.
const maxDiagramsPerDocument = 8

var renderContextKey = parser.NewContextKey()

// WithRenderContext stores ctx in the parser context so transformers can honor cancellation.
func WithRenderContext(pc parser.Context, ctx context.Context) {
	pc.Set(renderContextKey, ctx)
}

// RenderContext returns the context stored by WithRenderContext, or context.Background.
func RenderContext(pc parser.Context) context.Context {
	if pc != nil {
		if ctx, ok := pc.Get(renderContextKey).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// FenceSource returns the body of a fenced code block.
func FenceSource(block *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := block.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// ReplaceFences swaps every fenced block tagged lang, at any nesting depth, for the
// node build returns. A nil result keeps the fence.
func ReplaceFences(doc ast.Node, source []byte, lang string, build func(block *ast.FencedCodeBlock) ast.Node) {
	var fences []*ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if block, ok := n.(*ast.FencedCodeBlock); ok {
			if strings.EqualFold(strings.TrimSpace(string(block.Language(source))), lang) {
				fences = append(fences, block)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, block := range fences {
		repl := build(block)
		if repl == nil {
			continue
		}
		repl.SetBlankPreviousLines(block.HasBlankPreviousLines())
		parent := block.Parent()
		parent.ReplaceChild(parent, block, repl)
	}
}

// Diagram is a compiled ```d2 fence. Error holds the compiler message when SVG is empty.
type Diagram struct {
	ast.BaseBlock
	SVG   string
	Error string
}

// KindDiagram is the node kind of Diagram.
var KindDiagram = ast.NewNodeKind("Diagram")

// Kind implements ast.Node.
func (d *Diagram) Kind() ast.NodeKind {
	return KindDiagram
}

// Dump implements ast.Node.
func (d *Diagram) Dump(source []byte, level int) {
	ast.DumpHelper(d, source, level, map[string]string{
		"SVG":   fmt.Sprintf("%d bytes", len(d.SVG)),
		"Error": d.Error,
	}, nil)
}

type d2Compiler struct {
	renderer *d2renderer.Renderer
	logger   *slog.Logger
}

func (c *d2Compiler) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	ctx := RenderContext(pc)
	source := reader.Source()
	compiled := 0
	ReplaceFences(doc, source, D2Language, func(block *ast.FencedCodeBlock) ast.Node {
		if compiled >= maxDiagramsPerDocument {
			return &Diagram{Error: fmt.Sprintf("too many diagrams (limit %d per paste)", maxDiagramsPerDocument)}
		}
		compiled++
		res, err := c.renderer.Render(ctx, FenceSource(block, source))
		if err != nil {
			c.logger.Warn("d2 fence left uncompiled", slog.Any("err", err))
			return &Diagram{Error: err.Error()}
		}
		return &Diagram{SVG: res.SVG}
	})
}

type diagramRenderer struct{}

func (diagramRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindDiagram, renderDiagram)
}

func renderDiagram(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	d := node.(*Diagram)
	_, _ = w.WriteString(`<div class="d2-block">`)
	if d.Error != "" {
		_, _ = w.WriteString(`<div class="d2-error">`)
		_, _ = w.Write(util.EscapeHTML([]byte(d.Error)))
		_, _ = w.WriteString(`</div>`)
	} else {
		_, _ = w.WriteString(d.SVG)
	}
	if _, err := w.WriteString("</div>\n"); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}

// D2 returns an extension compiling ```d2 fences with r. It runs before syntax
// highlighting sees the fence.
func D2(r *d2renderer.Renderer, logger *slog.Logger) goldmark.Extender {
	if logger == nil {
		logger = slog.Default()
	}
	return d2Extender{compiler: &d2Compiler{renderer: r, logger: logger}}
}

type d2Extender struct {
	compiler *d2Compiler
}

func (e d2Extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(util.Prioritized(e.compiler, 50)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(diagramRenderer{}, 100)))
}
