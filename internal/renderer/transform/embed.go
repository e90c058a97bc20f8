package transform

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// maxEmbedsPerDocument bounds the oEmbed requests a single paste can trigger.
const maxEmbedsPerDocument = 8

// EmbedClient fetches oEmbed documents.
type EmbedClient interface {
	FetchJSON(ctx context.Context, rawURL string, dst any) error
}

var embedArg = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

type embedService struct {
	minArgs, maxArgs int
	// oembed builds the provider endpoint for args. Nil for template embeds.
	oembed func(args []string) string
	tpl    *template.Template
}

var embedServices = map[string]embedService{
	"tweet": {
		minArgs: 1, maxArgs: 1,
		oembed: func(args []string) string {
			return "https://publish.twitter.com/oembed?" + url.Values{
				"url":         {"https://twitter.com/i/status/" + args[0]},
				"omit_script": {"true"},
			}.Encode()
		},
	},
	"instagram": {
		minArgs: 1, maxArgs: 1,
		oembed: func(args []string) string {
			return "https://api.instagram.com/oembed/?" + url.Values{
				"url":        {"https://www.instagram.com/p/" + args[0] + "/"},
				"maxwidth":   {"420"},
				"omitscript": {"true"},
			}.Encode()
		},
	},
	"gist": {
		minArgs: 2, maxArgs: 3,
		tpl: template.Must(template.New("gist").Parse(
			`<script type="application/javascript" src="https://gist.github.com/{{ index . 0 }}/{{ index . 1 }}.js` +
				`{{ if eq (len .) 3 }}?file={{ index . 2 }}{{ end }}"></script>`)),
	},
}

// EmbedBlock is a third-party post or gist. HTML is filled in by the resolver; Error
// replaces it when the embed could not be loaded.
type EmbedBlock struct {
	ast.BaseBlock
	Service string
	Args    []string
	HTML    string
	Error   string
}

// KindEmbedBlock is the node kind of EmbedBlock.
var KindEmbedBlock = ast.NewNodeKind("EmbedBlock")

// Kind implements ast.Node.
func (b *EmbedBlock) Kind() ast.NodeKind {
	return KindEmbedBlock
}

// Dump implements ast.Node.
func (b *EmbedBlock) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, map[string]string{
		"Service": b.Service,
		"Args":    strings.Join(b.Args, " "),
	}, nil)
}

type embedResolver struct {
	client EmbedClient
	logger *slog.Logger
}

func (r *embedResolver) Transform(doc *ast.Document, _ text.Reader, pc parser.Context) {
	var blocks []*EmbedBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if b, ok := n.(*EmbedBlock); ok && entering {
			blocks = append(blocks, b)
		}
		return ast.WalkContinue, nil
	})

	ctx := RenderContext(pc)
	for i, b := range blocks {
		if i >= maxEmbedsPerDocument {
			b.Error = fmt.Sprintf("too many embeds (limit %d per paste)", maxEmbedsPerDocument)
			continue
		}
		r.resolve(ctx, b)
	}
}

func (r *embedResolver) resolve(ctx context.Context, b *EmbedBlock) {
	svc := embedServices[b.Service]
	if len(b.Args) < svc.minArgs || len(b.Args) > svc.maxArgs || !validEmbedArgs(b.Args) {
		b.Error = fmt.Sprintf("Wrong arguments for %s!", b.Service)
		return
	}

	if svc.tpl != nil {
		var buf bytes.Buffer
		if err := svc.tpl.Execute(&buf, b.Args); err != nil {
			r.warn("embed template failed", b, err)
			b.Error = fmt.Sprintf("Unable to display %s", b.Service)
			return
		}
		b.HTML = buf.String()
		return
	}

	failed := fmt.Sprintf("Unable to load %s %s!", b.Service, b.Args[0])
	if r.client == nil {
		b.Error = failed
		return
	}
	var resp struct {
		HTML string `json:"html"`
	}
	if err := r.client.FetchJSON(ctx, svc.oembed(b.Args), &resp); err != nil {
		r.warn("oembed request failed", b, err)
		b.Error = failed
		return
	}
	b.HTML = resp.HTML
}

func (r *embedResolver) warn(msg string, b *EmbedBlock, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, slog.String("service", b.Service), slog.Any("err", err))
	}
}

func validEmbedArgs(args []string) bool {
	for _, a := range args {
		if !embedArg.MatchString(a) {
			return false
		}
	}
	return true
}

type embedRenderer struct{}

func (embedRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindEmbedBlock, renderEmbed)
}

func renderEmbed(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	b := node.(*EmbedBlock)
	_, _ = w.WriteString(`<div class="embed embed-` + b.Service + `">`)
	if b.Error != "" {
		_, _ = w.WriteString(`<p class="embed-error">`)
		_, _ = w.Write(util.EscapeHTML([]byte(b.Error)))
		_, _ = w.WriteString(`</p>`)
	} else {
		_, _ = w.WriteString(b.HTML)
	}
	_, _ = w.WriteString("</div>\n")
	return ast.WalkSkipChildren, nil
}
