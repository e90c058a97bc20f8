package exporter

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
)

func exportPlainText(p paste.Paste, w io.Writer) error {
	text := p.Text
	if p.Syntax == renderer.SyntaxMarkdown {
		var err error
		if text, err = htmlToText(p.HTML); err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
	}
	_, err := io.WriteString(w, text)
	return err
}

// Elements whose content is never visible text.
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Svg:    true,
	atom.Head:   true,
}

// Classes emitted by the renderer for decorations: heading anchors,
// footnote back references and chroma line numbers.
var skipClasses = []string{"anchor", "footnote-backref", "lnt", "ln"}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Pre: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Hr: true, atom.Br: true, atom.Nav: true, atom.Section: true,
}

// Containers whose whitespace-only children are source formatting.
var containerAtoms = map[atom.Atom]bool{
	atom.Body: true, atom.Div: true, atom.Nav: true, atom.Blockquote: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Thead: true, atom.Tbody: true, atom.Tr: true,
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// htmlToText returns the visible text of a rendered paste with one blank line
// between blocks.
func htmlToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if n.Parent != nil && containerAtoms[n.Parent.DataAtom] && strings.TrimSpace(n.Data) == "" {
				return
			}
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipAtoms[n.DataAtom] || hasClass(n, skipClasses...) {
				return
			}
		}

		block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
		// Keep the text of loose list items on the bullet line.
		if n.DataAtom == atom.P && n.Parent != nil && n.Parent.DataAtom == atom.Li && firstElement(n) {
			block = false
		}
		if block {
			b.WriteByte('\n')
		}
		switch n.DataAtom {
		case atom.Li:
			b.WriteString("\n- ")
		case atom.Tr:
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
			b.WriteByte('\t')
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text) + "\n", nil
}

func hasClass(n *html.Node, classes ...string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, have := range strings.Fields(attr.Val) {
			for _, want := range classes {
				if have == want {
					return true
				}
			}
		}
	}
	return false
}

func firstElement(n *html.Node) bool {
	for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
		if prev.Type != html.TextNode || strings.TrimSpace(prev.Data) != "" {
			return false
		}
	}
	return true
}
