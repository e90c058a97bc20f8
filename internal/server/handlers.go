package server

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/euforicio/markpaste/internal/exporter"
	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
)

const deleteCookie = "mp_delete"

var ttlChoices = []struct {
	value string
	label string
	ttl   time.Duration
}{
	{"10m", "10 minutes", 10 * time.Minute},
	{"1h", "1 hour", time.Hour},
	{"1d", "1 day", 24 * time.Hour},
	{"1w", "1 week", 7 * 24 * time.Hour},
	{"30d", "30 days", 30 * 24 * time.Hour},
	{"1y", "1 year", 365 * 24 * time.Hour},
}

func (s *Server) ttlOptions() []ttlOption {
	first := ttlOption{Value: "", Label: "Never"}
	if s.cfg.DefaultTTL > 0 {
		first.Label = "Default (" + s.cfg.DefaultTTL.String() + ")"
	}
	opts := []ttlOption{first}
	if s.cfg.DefaultTTL > 0 && s.cfg.MaxTTL == 0 {
		opts = append(opts, ttlOption{Value: "never", Label: "Never"})
	}
	for _, c := range ttlChoices {
		if c.ttl < s.cfg.MinTTL || (s.cfg.MaxTTL > 0 && c.ttl > s.cfg.MaxTTL) {
			continue
		}
		opts = append(opts, ttlOption{Value: c.value, Label: c.label})
	}
	return opts
}

func (s *Server) editorView(req paste.Request, ttl, message string) editorViewData {
	title := siteName
	if message != "" {
		title = siteName + " :("
	}
	syntax := req.Syntax
	if syntax == "" {
		syntax = renderer.SyntaxMarkdown
	}
	return editorViewData{
		Title:        title,
		Message:      message,
		Text:         req.Text,
		Syntax:       syntax,
		TTL:          ttl,
		SourceURL:    req.SourceURL,
		NoShortcodes: req.DisableShortcodes,
		Languages:    renderer.Languages(),
		TTLOptions:   s.ttlOptions(),
		MaxSizeKiB:   s.cfg.MaxPasteSize >> 10,
	}
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	s.renderTemplate(w, r, http.StatusOK, "editor", s.editorView(paste.Request{}, "", ""))
}

// formLimit bounds url-encoded bodies, which can be three times the raw text.
func (s *Server) formLimit() int64 {
	return int64(s.cfg.MaxPasteSize)*3 + 64<<10
}

// parseForm reads a create/preview form. The raw ttl field is returned for
// re-rendering the editor.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (paste.Request, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.formLimit())
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return paste.Request{}, "", &paste.UserError{
				Message: fmt.Sprintf("Text is too large (limit %d KiB)", s.cfg.MaxPasteSize>>10),
				Err:     err,
			}
		}
		return paste.Request{}, "", &paste.UserError{Message: "Invalid form", Err: err}
	}

	text := r.PostForm.Get("data")
	if text == "" {
		text = r.PostForm.Get("text")
	}
	req := paste.Request{
		Text:              text,
		Syntax:            r.PostForm.Get("syntax"),
		SourceURL:         strings.TrimSpace(r.PostForm.Get("url")),
		DisableShortcodes: r.PostForm.Get("noshortcodes") != "",
	}
	rawTTL := r.PostForm.Get("ttl")
	ttl, err := parseTTL(rawTTL)
	if err != nil {
		return req, rawTTL, err
	}
	req.TTL = ttl
	return req, rawTTL, nil
}

// respondFormError re-renders the editor with the user's text for bad input.
func (s *Server) respondFormError(w http.ResponseWriter, r *http.Request, req paste.Request, rawTTL string, err error) {
	var userErr *paste.UserError
	if errors.As(err, &userErr) {
		s.renderTemplate(w, r, http.StatusBadRequest, "editor", s.editorView(req, rawTTL, userErr.Message))
		return
	}
	s.logger.ErrorContext(r.Context(), "form request failed", slog.Any("err", err), slog.String("path", r.URL.Path))
	s.renderStatus(w, r, http.StatusInternalServerError)
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	req, rawTTL, err := s.parseForm(w, r)
	if err != nil {
		s.respondFormError(w, r, req, rawTTL, err)
		return
	}
	p, err := s.pastes.Create(r.Context(), req)
	if err != nil {
		s.respondFormError(w, r, req, rawTTL, err)
		return
	}

	// Browsers never see the JSON delete token, so keep it in a cookie scoped to the paste.
	http.SetCookie(w, &http.Cookie{
		Name:     deleteCookie,
		Value:    p.DeleteToken,
		Path:     p.Path(),
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.Path(), http.StatusFound)
}

func (s *Server) handlePreviewForm(w http.ResponseWriter, r *http.Request) {
	req, rawTTL, err := s.parseForm(w, r)
	if err != nil {
		s.respondFormError(w, r, req, rawTTL, err)
		return
	}
	doc, err := s.pastes.Preview(r.Context(), req)
	if err != nil {
		s.respondFormError(w, r, req, rawTTL, err)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, "page", pageViewData{
		Title:   "Preview",
		HTML:    template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
		Preview: true,
	})
}

// loadPaste writes the status page and returns false when the paste can't be served.
func (s *Server) loadPaste(w http.ResponseWriter, r *http.Request) (paste.Paste, bool) {
	p, err := s.pastes.Get(r.Context(), r.PathValue("id"))
	if err == nil {
		return p, true
	}
	if errors.Is(err, paste.ErrNotFound) {
		s.renderStatus(w, r, http.StatusNotFound)
		return paste.Paste{}, false
	}
	s.logger.ErrorContext(r.Context(), "load paste failed", slog.Any("err", err), slog.String("id", r.PathValue("id")))
	s.renderStatus(w, r, http.StatusInternalServerError)
	return paste.Paste{}, false
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPaste(w, r)
	if !ok {
		return
	}

	formats := make([]string, 0, len(exporter.ValidFormats()))
	for _, f := range exporter.ValidFormats() {
		formats = append(formats, string(f))
	}

	canDelete := false
	if c, err := r.Cookie(deleteCookie); err == nil {
		canDelete = s.pastes.ValidToken(p.ID, c.Value)
	}

	title := p.Title
	if title == "" {
		title = siteName
	}
	s.renderTemplate(w, r, http.StatusOK, "paste", pasteViewData{
		Title:     title,
		ID:        p.ID,
		Syntax:    p.Syntax,
		HTML:      template.HTML(p.HTML), //nolint:gosec // stored output of the renderer
		SourceURL: p.SourceURL,
		Created:   p.CreatedAt,
		Expires:   p.ExpiresAt,
		Formats:   formats,
		CanDelete: canDelete,
	})
}

func (s *Server) handlePasteText(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPaste(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write([]byte(p.Text))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(exporter.FormatHTML)
	}
	f, err := exporter.ParseFormat(format)
	if err != nil {
		s.renderStatus(w, r, http.StatusBadRequest)
		return
	}

	p, ok := s.loadPaste(w, r)
	if !ok {
		return
	}

	// Render fully first so a failed export can still get a proper status.
	var buf bytes.Buffer
	if err := s.exporter.ExportPaste(r.Context(), p, f, &buf); err != nil {
		s.logger.ErrorContext(r.Context(), "export failed", slog.Any("err", err), slog.String("id", p.ID), slog.String("format", string(f)))
		s.renderStatus(w, r, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType(f))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exporter.Filename(p, f)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token := ""
	if c, err := r.Cookie(deleteCookie); err == nil {
		token = c.Value
	}

	err := s.pastes.Delete(r.Context(), id, token)
	switch {
	case err == nil:
		http.SetCookie(w, &http.Cookie{Name: deleteCookie, Path: "/p/" + id, MaxAge: -1})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, paste.ErrNotFound):
		s.renderStatus(w, r, http.StatusNotFound)
	case errors.Is(err, paste.ErrForbidden):
		s.renderStatus(w, r, http.StatusForbidden)
	default:
		s.logger.ErrorContext(r.Context(), "delete failed", slog.Any("err", err), slog.String("id", id))
		s.renderStatus(w, r, http.StatusInternalServerError)
	}
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, "about")
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, r.PathValue("name"))
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, name string) {
	page, ok := s.pages.Get(name)
	if !ok {
		s.renderStatus(w, r, http.StatusNotFound)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, "page", pageViewData{
		Title:    page.Title,
		HTML:     template.HTML(page.HTML), //nolint:gosec // rendered from bundled markdown
		Modified: page.Modified,
	})
}

func (s *Server) validAdmin(r *http.Request) bool {
	if s.cfg.AdminSecret == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Basic ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) == 1
}
