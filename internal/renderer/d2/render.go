// Package d2 compiles D2 diagram sources to SVG on the server.
package d2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"oss.terrastruct.com/d2/d2graph"
	"oss.terrastruct.com/d2/d2layouts/d2dagrelayout"
	"oss.terrastruct.com/d2/d2layouts/d2elklayout"
	"oss.terrastruct.com/d2/d2lib"
	"oss.terrastruct.com/d2/d2renderers/d2svg"
	"oss.terrastruct.com/d2/d2themes/d2themescatalog"
	d2log "oss.terrastruct.com/d2/lib/log"
	"oss.terrastruct.com/d2/lib/textmeasure"
)

// Result captures the outcome of a render attempt.
type Result struct {
	SVG      string
	Duration time.Duration
}

var (
	// ErrEmptyDiagram is returned when the supplied diagram body is empty.
	ErrEmptyDiagram = errors.New("empty d2 diagram")
	// ErrTooLarge is returned for sources above Options.MaxSourceBytes.
	ErrTooLarge = errors.New("d2 diagram source too large")
)

// Renderer performs server-side D2 compilation. Compiles are CPU heavy, so at most
// Options.Concurrency of them run at once.
type Renderer struct {
	logger    *slog.Logger
	timeout   time.Duration
	maxSource int
	themeID   int64
	slots     *semaphore.Weighted
}

// Options configure the renderer.
type Options struct {
	Timeout        time.Duration
	Concurrency    int
	MaxSourceBytes int
	// Light selects the neutral default theme instead of the dark flagship theme.
	Light bool
}

// New creates a renderer instance.
func New(logger *slog.Logger, opts *Options) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Options{
		Timeout:        12 * time.Second,
		Concurrency:    2,
		MaxSourceBytes: 64 << 10,
	}
	if opts != nil {
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		if opts.Concurrency > 0 {
			cfg.Concurrency = opts.Concurrency
		}
		if opts.MaxSourceBytes > 0 {
			cfg.MaxSourceBytes = opts.MaxSourceBytes
		}
		cfg.Light = opts.Light
	}

	themeID := d2themescatalog.DarkFlagshipTerrastruct.ID
	if cfg.Light {
		themeID = d2themescatalog.NeutralDefault.ID
	}

	return &Renderer{
		logger:    logger.With("component", "d2"),
		timeout:   cfg.Timeout,
		maxSource: cfg.MaxSourceBytes,
		themeID:   themeID,
		slots:     semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Render compiles the given D2 script into SVG, respecting any layout directives
// defined inside the document itself.
func (r *Renderer) Render(ctx context.Context, source string) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, ErrEmptyDiagram
	}
	if len(source) > r.maxSource {
		return Result{}, ErrTooLarge
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.slots.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("wait for d2 compiler: %w", err)
	}
	defer r.slots.Release(1)

	ctx = d2log.With(ctx, r.logger)

	ruler, err := textmeasure.NewRuler()
	if err != nil {
		return Result{}, fmt.Errorf("init ruler: %w", err)
	}

	themeID := r.themeID
	pad := int64(d2svg.DEFAULT_PADDING)
	renderOpts := &d2svg.RenderOpts{
		ThemeID: &themeID,
		Pad:     &pad,
	}

	start := time.Now()
	compileOpts := &d2lib.CompileOptions{
		Ruler:          ruler,
		LayoutResolver: r.layoutResolver,
	}

	diagram, _, err := d2lib.Compile(ctx, source, compileOpts, renderOpts)
	if err != nil {
		return Result{}, err
	}
	if diagram == nil {
		return Result{}, errors.New("d2 compiler returned nil diagram")
	}

	svg, err := d2svg.Render(diagram, renderOpts)
	if err != nil {
		return Result{}, fmt.Errorf("render svg: %w", err)
	}

	elapsed := time.Since(start)
	r.logger.Debug("d2: compiled", "bytes", len(source), "took", elapsed)
	return Result{
		SVG:      string(svg),
		Duration: elapsed,
	}, nil
}

func (r *Renderer) layoutResolver(engine string) (d2graph.LayoutGraph, error) {
	switch strings.ToLower(engine) {
	case "", "dagre":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2dagrelayout.Layout(ctx, g, nil)
		}, nil
	case "elk":
		return func(ctx context.Context, g *d2graph.Graph) error {
			return d2elklayout.Layout(ctx, g, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported D2 layout %q", engine)
	}
}
