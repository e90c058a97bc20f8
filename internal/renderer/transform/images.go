package transform

import (
	"net/url"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// RelativeImages is a goldmark extension resolving relative image destinations against
// the document's base URL, set with WithBaseURL. Documents without one are untouched.
var RelativeImages goldmark.Extender = relativeImagesExtender{}

type relativeImagesExtender struct{}

func (relativeImagesExtender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(util.Prioritized(relativeImages{}, 100)))
}

type relativeImages struct{}

func (relativeImages) Transform(doc *ast.Document, _ text.Reader, pc parser.Context) {
	base := baseURL(pc)
	if base == nil {
		return
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		img, ok := n.(*ast.Image)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		dest, err := url.Parse(string(img.Destination))
		if err != nil || dest.IsAbs() || dest.Host != "" {
			return ast.WalkContinue, nil
		}
		img.Destination = []byte(base.ResolveReference(dest).String())
		return ast.WalkContinue, nil
	})
}
