package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
)

type apiPasteRequest struct {
	Text   string   `json:"text"`
	Syntax string   `json:"syntax"`
	TTL    ttlValue `json:"ttl"`
	URL    string   `json:"url"`
	// Shortcodes defaults to true when absent.
	Shortcodes *bool `json:"shortcodes"`
}

func (r apiPasteRequest) toRequest() paste.Request {
	return paste.Request{
		Text:              r.Text,
		Syntax:            r.Syntax,
		TTL:               time.Duration(r.TTL),
		SourceURL:         r.URL,
		DisableShortcodes: r.Shortcodes != nil && !*r.Shortcodes,
	}
}

type apiCreateResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Path        string    `json:"path"`
	DeleteToken string    `json:"deleteToken"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
}

type apiPreviewResponse struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apiPasteResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Syntax    string    `json:"syntax"`
	Text      string    `json:"text"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Path      string    `json:"path"`
}

// jsonLimit leaves room for escaping on top of the raw paste size.
func (s *Server) jsonLimit() int64 {
	return int64(s.cfg.MaxPasteSize)*2 + 4096
}

func (s *Server) decodePasteRequest(w http.ResponseWriter, r *http.Request) (paste.Request, error) {
	limit := s.jsonLimit()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var body apiPasteRequest
	if err := decodeJSON(r, &body, limit+1); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return paste.Request{}, &paste.UserError{
				Message: fmt.Sprintf("Text is too large (limit %d KiB)", s.cfg.MaxPasteSize>>10),
				Err:     err,
			}
		}
		var userErr *paste.UserError
		if errors.As(err, &userErr) {
			return paste.Request{}, err
		}
		return paste.Request{}, &paste.UserError{Message: "Invalid request body", Err: err}
	}
	return body.toRequest(), nil
}

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodePasteRequest(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.pastes.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", p.Path())
	respondJSON(w, http.StatusCreated, apiCreateResponse{
		ID:          p.ID,
		Title:       p.Title,
		Path:        p.Path(),
		DeleteToken: p.DeleteToken,
		ExpiresAt:   p.ExpiresAt,
	})
}

func (s *Server) handleAPIPreview(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodePasteRequest(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := s.pastes.Preview(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apiPreviewResponse{Title: doc.Title, Body: doc.HTML})
}

func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.pastes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apiPasteResponse{
		ID:        p.ID,
		Title:     p.Title,
		Syntax:    p.Syntax,
		Text:      p.Text,
		SourceURL: p.SourceURL,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
		Path:      p.Path(),
	})
}

func (s *Server) handleAPIDelete(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Delete-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := s.pastes.Delete(r.Context(), r.PathValue("id"), token); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyntaxes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	respondJSON(w, http.StatusOK, renderer.Languages())
}
