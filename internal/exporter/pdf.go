package exporter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/alecthomas/chroma/v2/styles"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
	"github.com/euforicio/markpaste/internal/renderer/transform"
)

// maxPDFDiagrams bounds the d2 compiles a single PDF export can trigger.
const maxPDFDiagrams = 8

func (e *Exporter) exportPDF(ctx context.Context, p paste.Paste, w io.Writer) error {
	source := []byte(p.Text)
	if p.Syntax != renderer.SyntaxMarkdown {
		source = codeDocument(p)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			meta.Meta,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(
				util.Prioritized(e.diagrams, 50),
				util.Prioritized(imageLinks{}, 40),
			),
		),
		// The built-in PDF fonts keep exports from downloading webfonts.
		goldmark.WithRenderer(pdf.New(
			pdf.WithContext(ctx),
			pdf.WithHeadingFont(pdf.FontHelvetica),
			pdf.WithBodyFont(pdf.FontHelvetica),
			pdf.WithCodeFont(pdf.FontCourier),
			pdf.WithCodeBlockTheme(styles.Get(e.style)),
		)),
	)

	pc := parser.NewContext()
	transform.WithRenderContext(pc, ctx)

	// goldmark-pdf buffers the whole document before writing it out.
	var buf bytes.Buffer
	if err := md.Convert(source, &buf, parser.WithContext(pc)); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// codeDocument wraps a code or plain paste in a fence long enough to
// contain any backtick run in the text.
func codeDocument(p paste.Paste) []byte {
	longest, run := 0, 0
	for _, r := range p.Text {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	fence := strings.Repeat("`", max(3, longest+1))
	lang := p.Syntax
	if lang == renderer.SyntaxPlain {
		lang = ""
	}

	var b bytes.Buffer
	if p.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", p.Title)
	}
	b.WriteString(fence + lang + "\n")
	b.WriteString(p.Text)
	if !strings.HasSuffix(p.Text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(fence + "\n")
	return b.Bytes()
}

// diagramImages swaps ```d2 fences for PNG images, since the PDF renderer only
// understands standard nodes. Fences that fail to compile stay as code.
type diagramImages struct {
	rasterize func(ctx context.Context, source string) ([]byte, error)
	logger    *slog.Logger
}

func newDiagramImages(d2 *d2renderer.Renderer, logger *slog.Logger) *diagramImages {
	t := &diagramImages{logger: logger}
	if d2 != nil {
		t.rasterize = func(ctx context.Context, source string) ([]byte, error) {
			res, err := d2.Render(ctx, source)
			if err != nil {
				return nil, err
			}
			return svgToPNG([]byte(res.SVG))
		}
	}
	return t
}

func (t *diagramImages) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	if t.rasterize == nil {
		return
	}
	ctx := transform.RenderContext(pc)
	source := reader.Source()
	left := maxPDFDiagrams
	transform.ReplaceFences(doc, source, transform.D2Language, func(block *ast.FencedCodeBlock) ast.Node {
		if left == 0 {
			return nil
		}
		left--
		data, err := t.rasterize(ctx, transform.FenceSource(block, source))
		if err != nil {
			t.logger.Warn("d2 fence kept as code in pdf", slog.Any("err", err))
			return nil
		}
		img := ast.NewImage(ast.NewLink())
		img.Destination = []byte("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
		para := ast.NewParagraph()
		para.AppendChild(para, img)
		return para
	})
}

// imageLinks turns images other than inline data URIs into links labelled with
// their alt text, so exporting never makes the PDF renderer fetch remote URLs.
// Images without alt text are dropped.
type imageLinks struct{}

func (imageLinks) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	var images []*ast.Image
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if img, ok := n.(*ast.Image); ok && entering && !bytes.HasPrefix(img.Destination, []byte("data:image/")) {
			images = append(images, img)
		}
		return ast.WalkContinue, nil
	})
	for _, img := range images {
		parent := img.Parent()
		if !img.HasChildren() {
			parent.RemoveChild(parent, img)
			continue
		}
		link := ast.NewLink()
		link.Destination = img.Destination
		link.Title = img.Title
		for c := img.FirstChild(); c != nil; {
			next := c.NextSibling()
			link.AppendChild(link, c)
			c = next
		}
		parent.ReplaceChild(parent, img, link)
	}
}

// svgToPNG rasterizes an SVG at its viewBox size.
func svgToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	width := int(math.Ceil(icon.ViewBox.W))
	height := int(math.Ceil(icon.ViewBox.H))
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
