package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/euforicio/markpaste/internal/paste"
)

// respondJSON sends a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.Any("err", err))
	}
}

// decodeJSON reads and decodes JSON from the request body with size limit.
func decodeJSON(r *http.Request, dst any, limit int64) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	// Ensure only one JSON object
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func errorResponse(message string) errorBody {
	return errorBody{Error: message}
}

// respondError maps paste errors onto API status codes.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var userErr *paste.UserError
	switch {
	case errors.As(err, &userErr):
		respondJSON(w, http.StatusBadRequest, errorResponse(userErr.Message))
	case errors.Is(err, paste.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse("Page not found"))
	case errors.Is(err, paste.ErrForbidden):
		respondJSON(w, http.StatusForbidden, errorResponse("Invalid delete token"))
	default:
		s.logger.ErrorContext(r.Context(), "request failed", slog.Any("err", err), slog.String("path", r.URL.Path))
		respondJSON(w, http.StatusInternalServerError, errorResponse("Something went wrong"))
	}
}

// ttlValue accepts a Go duration string ("90m"), a number of seconds, or a
// preset name such as "1d", "1w" or "never".
type ttlValue time.Duration

func (v *ttlValue) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return &paste.UserError{Message: "Invalid expiration", Err: err}
		}
		d, err := secondsTTL(secs)
		if err != nil {
			return err
		}
		*v = ttlValue(d)
		return nil
	}
	d, err := parseTTL(s)
	if err != nil {
		return err
	}
	*v = ttlValue(d)
	return nil
}

var ttlPresets = map[string]time.Duration{
	"":      0,
	"never": paste.Never,
	"1d":    24 * time.Hour,
	"1w":    7 * 24 * time.Hour,
	"30d":   30 * 24 * time.Hour,
	"1y":    365 * 24 * time.Hour,
}

func parseTTL(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := ttlPresets[s]; ok {
		return d, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs > maxTTLSeconds || secs < -maxTTLSeconds {
			return 0, &paste.UserError{Message: "Invalid expiration", Err: fmt.Errorf("%d seconds out of range", secs)}
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &paste.UserError{Message: "Invalid expiration", Err: err}
	}
	return d, nil
}

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// secondsTTL converts a JSON number of seconds, rejecting values a Duration cannot hold.
func secondsTTL(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > float64(maxTTLSeconds) {
		return 0, &paste.UserError{Message: "Invalid expiration", Err: fmt.Errorf("%g seconds out of range", secs)}
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// clientIP returns the remote address without port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
