// Package paste implements the paste lifecycle: validation, rendering, storage and expiry.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/euforicio/markpaste/internal/fetch"
	"github.com/euforicio/markpaste/internal/renderer"
	"github.com/euforicio/markpaste/internal/store"
)

// maxIDAttempts is one attempt plus three retries on id collision.
const maxIDAttempts = 4

// Never is a Request.TTL asking for a paste that does not expire, regardless of the default.
// It is refused when both a default and a maximum TTL are configured.
const Never time.Duration = -1

// Request is untreated user input for a preview or a new paste.
type Request struct {
	Text      string
	Syntax    string
	TTL       time.Duration
	SourceURL string
	// DisableShortcodes renders "{{ ... }}" lines as text.
	DisableShortcodes bool
}

// Paste is a stored paste. DeleteToken is only set on the value returned by Create.
//
//nolint:govet // field order follows the record layout
type Paste struct {
	ID          string
	Title       string
	Preview     string
	Syntax      string
	Text        string
	HTML        string
	SourceURL   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	DeleteToken string
}

// Path returns the URL path of the rendered paste.
func (p Paste) Path() string {
	return "/p/" + p.ID
}

// Renderer turns paste text into HTML.
type Renderer interface {
	RenderWith(ctx context.Context, text, syntax string, opts renderer.RenderOptions) (renderer.Document, error)
}

// Options bound what clients may submit.
type Options struct {
	MaxSize    int
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
}

// ErrNoRenderer is returned by operations that render when the service was built without a renderer.
var ErrNoRenderer = errors.New("paste: service has no renderer")

// Service coordinates rendering and storage of pastes.
type Service struct {
	store    store.Store
	renderer Renderer
	fetcher  fetch.Fetcher
	signer   *Signer
	opts     Options
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService wires a paste service. fetcher may be nil, which disables create-from-URL.
// r may be nil for read-only callers; Create and Preview then fail with ErrNoRenderer.
func NewService(st store.Store, r Renderer, f fetch.Fetcher, signer *Signer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 512 << 10
	}
	return &Service{
		store:    st,
		renderer: r,
		fetcher:  f,
		signer:   signer,
		opts:     opts,
		logger:   logger.With("component", "paste"),
		now:      time.Now,
		newID:    NewID,
	}
}

// Validate checks req and returns it normalized: NFC text with LF line endings and a
// canonical syntax. A zero TTL is replaced by the default and Never becomes zero.
func (s *Service) Validate(req Request) (Request, error) {
	text := norm.NFC.String(req.Text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if strings.TrimSpace(text) == "" {
		return Request{}, userError("Insert some text!", errors.New("empty text"))
	}
	if len(text) > s.opts.MaxSize {
		return Request{}, userError(
			fmt.Sprintf("Text is too large (limit %d KiB)", s.opts.MaxSize>>10),
			fmt.Errorf("%d bytes", len(text)),
		)
	}

	syntax, ok := renderer.NormalizeSyntax(req.Syntax)
	if !ok {
		return Request{}, userError("Unsupported syntax", fmt.Errorf("syntax %q", req.Syntax))
	}

	ttl := req.TTL
	switch {
	case ttl == Never:
		if s.opts.MaxTTL > 0 && s.opts.DefaultTTL > 0 {
			return Request{}, userError(fmt.Sprintf("Expiration must be at most %s", s.opts.MaxTTL), errors.New("ttl never"))
		}
		ttl = 0
	case ttl < 0:
		return Request{}, userError("Invalid expiration", fmt.Errorf("ttl %s", ttl))
	case ttl == 0:
		ttl = s.opts.DefaultTTL
	case ttl < s.opts.MinTTL:
		return Request{}, userError(fmt.Sprintf("Expiration must be at least %s", s.opts.MinTTL), fmt.Errorf("ttl %s", ttl))
	case s.opts.MaxTTL > 0 && ttl > s.opts.MaxTTL:
		return Request{}, userError(fmt.Sprintf("Expiration must be at most %s", s.opts.MaxTTL), fmt.Errorf("ttl %s", ttl))
	}

	return Request{
		Text:              text,
		Syntax:            syntax,
		TTL:               ttl,
		SourceURL:         req.SourceURL,
		DisableShortcodes: req.DisableShortcodes,
	}, nil
}

// Preview validates and renders req without storing anything.
func (s *Service) Preview(ctx context.Context, req Request) (renderer.Document, error) {
	req, err := s.resolveSource(ctx, req)
	if err != nil {
		return renderer.Document{}, err
	}
	req, err = s.Validate(req)
	if err != nil {
		return renderer.Document{}, err
	}
	return s.render(ctx, req)
}

// Create validates, renders and stores a new paste.
func (s *Service) Create(ctx context.Context, req Request) (Paste, error) {
	req, err := s.resolveSource(ctx, req)
	if err != nil {
		return Paste{}, err
	}
	req, err = s.Validate(req)
	if err != nil {
		return Paste{}, err
	}
	doc, err := s.render(ctx, req)
	if err != nil {
		return Paste{}, err
	}

	id, err := s.allocateID(ctx)
	if err != nil {
		return Paste{}, err
	}

	now := s.now().UTC()
	p := Paste{
		ID:        id,
		Title:     titleFor(doc),
		Preview:   TextToTitle(doc.Preview, 3*MaxTitleLen),
		Syntax:    doc.Syntax,
		Text:      req.Text,
		HTML:      doc.HTML,
		SourceURL: req.SourceURL,
		CreatedAt: now,
	}
	if req.TTL > 0 {
		p.ExpiresAt = now.Add(req.TTL)
	}

	if err := s.store.Put(ctx, toRecord(p)); err != nil {
		return Paste{}, storeError("put", err)
	}
	p.DeleteToken = s.signer.Token(id)

	s.logger.Info("paste created", "id", id, "syntax", p.Syntax, "bytes", len(p.Text), "expires", p.ExpiresAt)
	return p, nil
}

// Get loads a paste. Expired pastes are reported as ErrNotFound even before a sweep removes them.
func (s *Service) Get(ctx context.Context, id string) (Paste, error) {
	if !ValidID(id) {
		return Paste{}, ErrNotFound
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Paste{}, ErrNotFound
	}
	if err != nil {
		return Paste{}, storeError("get", err)
	}
	if rec.Expired(s.now()) {
		return Paste{}, ErrNotFound
	}
	return fromRecord(rec), nil
}

// Delete removes a paste if token was issued for it.
func (s *Service) Delete(ctx context.Context, id, token string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if !s.signer.Valid(id, token) {
		return ErrForbidden
	}
	err := s.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeError("delete", err)
	}
	s.logger.Info("paste deleted", "id", id)
	return nil
}

// ValidToken reports whether token is the delete token of paste id.
func (s *Service) ValidToken(id, token string) bool {
	return token != "" && s.signer.Valid(id, token)
}

// Sweep removes expired pastes and reports how many were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return n, storeError("sweep", err)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				s.logger.Error("sweep failed", slog.Any("err", err))
			case n > 0:
				s.logger.Info("expired pastes removed", "count", n)
			}
		}
	}
}

func (s *Service) resolveSource(ctx context.Context, req Request) (Request, error) {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		return req, nil
	}
	if s.fetcher == nil {
		return Request{}, userError("Creating from a URL is disabled", errors.New("no fetcher"))
	}
	u, err := fetch.ParseURL(req.SourceURL)
	if err != nil {
		return Request{}, userError("Incorrect URL", err)
	}
	body, err := s.fetcher.Fetch(ctx, u.String())
	if err != nil {
		return Request{}, userError("Cannot retrieve data from URL", err)
	}
	req.Text = string(body)
	req.SourceURL = u.String()
	return req, nil
}

func (s *Service) render(ctx context.Context, req Request) (renderer.Document, error) {
	if s.renderer == nil {
		return renderer.Document{}, ErrNoRenderer
	}
	doc, err := s.renderer.RenderWith(ctx, req.Text, req.Syntax, renderer.RenderOptions{
		BaseURL:           req.SourceURL,
		DisableShortcodes: req.DisableShortcodes,
	})
	if errors.Is(err, renderer.ErrUnsupportedSyntax) {
		return renderer.Document{}, userError("Unsupported syntax", err)
	}
	if err != nil {
		return renderer.Document{}, fmt.Errorf("render paste: %w", err)
	}
	if isEmptyRender(doc.HTML) {
		return renderer.Document{}, userError("Empty content!", errors.New("empty page rendered"))
	}
	return doc, nil
}

func (s *Service) allocateID(ctx context.Context) (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		exists, err := s.store.Exists(ctx, id)
		if err != nil {
			return "", storeError("exists", err)
		}
		if !exists {
			return id, nil
		}
		s.logger.Warn("paste id collision", "id", id)
	}
	return "", storeError("allocate id", fmt.Errorf("no free id after %d attempts", maxIDAttempts))
}

func titleFor(doc renderer.Document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return TextToTitle(t, 2*MaxTitleLen)
	}
	if t := TextToTitle(doc.Preview, MaxTitleLen); t != "" {
		return t
	}
	return "Untitled"
}

func toRecord(p Paste) store.Record {
	return store.Record{
		ID:        p.ID,
		Title:     p.Title,
		Preview:   p.Preview,
		Syntax:    p.Syntax,
		Text:      p.Text,
		HTML:      p.HTML,
		SourceURL: p.SourceURL,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}

func fromRecord(rec store.Record) Paste {
	return Paste{
		ID:        rec.ID,
		Title:     rec.Title,
		Preview:   rec.Preview,
		Syntax:    rec.Syntax,
		Text:      rec.Text,
		HTML:      rec.HTML,
		SourceURL: rec.SourceURL,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
