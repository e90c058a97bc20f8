package transform

import (
	"fmt"
	"strconv"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// TOCEntry is one heading listed by a table of contents.
type TOCEntry struct {
	Level int
	ID    string
	Title string
}

// TOCBlock is replaced by a nested list of the document headings between levels Lo and Hi.
type TOCBlock struct {
	ast.BaseBlock
	Lo, Hi  int
	Entries []TOCEntry
}

// KindTOCBlock is the node kind of TOCBlock.
var KindTOCBlock = ast.NewNodeKind("TOCBlock")

// Kind implements ast.Node.
func (b *TOCBlock) Kind() ast.NodeKind {
	return KindTOCBlock
}

// Dump implements ast.Node.
func (b *TOCBlock) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, map[string]string{
		"Range":   fmt.Sprintf("%d-%d", b.Lo, b.Hi),
		"Entries": strconv.Itoa(len(b.Entries)),
	}, nil)
}

// tocCollector fills every TOCBlock with the headings of the document.
type tocCollector struct{}

func (tocCollector) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	var (
		blocks   []*TOCBlock
		headings []TOCEntry
	)
	source := reader.Source()
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *TOCBlock:
			blocks = append(blocks, typed)
		case *ast.Heading:
			entry := TOCEntry{Level: typed.Level, Title: PlainText(typed, source)}
			if id, ok := typed.AttributeString("id"); ok {
				if raw, ok := id.([]byte); ok {
					entry.ID = string(raw)
				}
			}
			headings = append(headings, entry)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	for _, block := range blocks {
		for _, h := range headings {
			if h.Level >= block.Lo && h.Level <= block.Hi && h.Title != "" {
				block.Entries = append(block.Entries, h)
			}
		}
	}
}

type tocRenderer struct{}

func (tocRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindTOCBlock, renderTOC)
}

func renderTOC(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*TOCBlock)
	_, _ = w.WriteString(`<nav class="toc-block">`)
	if len(block.Entries) > 0 {
		writeTOCList(w, block.Entries)
	}
	_, _ = w.WriteString("</nav>\n")
	return ast.WalkSkipChildren, nil
}

// writeTOCList nests entries by level relative to the shallowest one.
// Skipped levels get an empty <li> wrapper so the markup stays well formed.
func writeTOCList(w util.BufWriter, entries []TOCEntry) {
	base := entries[0].Level
	for _, e := range entries[1:] {
		base = min(base, e.Level)
	}

	depth, liOpen := 0, false
	for _, e := range entries {
		target := e.Level - base + 1
		for depth > target {
			if liOpen {
				_, _ = w.WriteString("</li>")
			}
			_, _ = w.WriteString("</ul>")
			depth--
			liOpen = true
		}
		if depth == target && liOpen {
			_, _ = w.WriteString("</li>")
			liOpen = false
		}
		for depth < target {
			if depth > 0 && !liOpen {
				_, _ = w.WriteString("<li>")
			}
			_, _ = w.WriteString("<ul>")
			depth++
			liOpen = false
		}
		_, _ = w.WriteString(`<li><a href="#`)
		_, _ = w.Write(util.EscapeHTML([]byte(e.ID)))
		_, _ = w.WriteString(`">`)
		_, _ = w.Write(util.EscapeHTML([]byte(e.Title)))
		_, _ = w.WriteString("</a>")
		liOpen = true
	}
	for depth > 0 {
		if liOpen {
			_, _ = w.WriteString("</li>")
		}
		_, _ = w.WriteString("</ul>")
		depth--
		liOpen = true
	}
}
