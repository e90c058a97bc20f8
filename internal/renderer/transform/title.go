package transform

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var summaryKey = parser.NewContextKey()

// Summary holds the first heading and the first paragraph of a document as plain text.
type Summary struct {
	Title   string
	Preview string
}

// SummaryFrom returns the summary collected during parsing, or a zero value.
func SummaryFrom(pc parser.Context) Summary {
	if s, ok := pc.Get(summaryKey).(*Summary); ok && s != nil {
		return *s
	}
	return Summary{}
}

// TitleExtractor records the text of the first heading and the first paragraph.
type TitleExtractor struct{}

// Transform implements parser.ASTTransformer.
func (TitleExtractor) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	summary := &Summary{}
	pc.Set(summaryKey, summary)

	source := reader.Source()
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			if summary.Title == "" {
				summary.Title = PlainText(n, source)
			}
			return ast.WalkSkipChildren, nil
		case ast.KindParagraph:
			if summary.Preview == "" {
				summary.Preview = PlainText(n, source)
			}
			return ast.WalkSkipChildren, nil
		}
		if summary.Title != "" && summary.Preview != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
}

// PlainText concatenates the text nodes below n. Line breaks become spaces.
func PlainText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := child.(type) {
		case *ast.Text:
			buf.Write(typed.Segment.Value(source))
			if typed.SoftLineBreak() || typed.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(typed.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
