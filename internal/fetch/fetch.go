// Package fetch downloads remote plain text or markdown for pastes created from a URL.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrUnsupportedScheme is returned for URLs other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrUnsupportedType is returned when the response is not plain text or markdown.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("remote document too large")
	// ErrForbiddenAddress is returned when the URL resolves to a loopback or private address.
	ErrForbiddenAddress = errors.New("address not allowed")
)

var allowedTypes = map[string]struct{}{
	"text/plain":      {},
	"text/markdown":   {},
	"text/x-markdown": {},
}

var jsonTypes = map[string]struct{}{
	"application/json":        {},
	"application/json+oembed": {},
	"text/javascript":         {},
}

// Fetcher downloads documents.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configure an HTTP fetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivate permits loopback, link-local and private network targets.
	AllowPrivate bool
	UserAgent    string
}

// HTTP fetches documents over http(s).
type HTTP struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// New returns an HTTP fetcher.
func New(opts Options) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 << 10
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "markpaste-fetch"
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivate {
		dialer.Control = rejectPrivate
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
	}

	return &HTTP{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("%w: %s", ErrUnsupportedScheme, req.URL.Scheme)
				}
				return nil
			},
		},
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
	}
}

// Fetch downloads rawURL and returns its body.
func (f *HTTP) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f.get(ctx, rawURL, "text/markdown, text/plain;q=0.9", allowedTypes)
}

// FetchJSON downloads rawURL and decodes its JSON body into dst. It shares the size
// limit and address rules of Fetch.
func (f *HTTP) FetchJSON(ctx context.Context, rawURL string, dst any) error {
	body, err := f.get(ctx, rawURL, "application/json", jsonTypes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func (f *HTTP) get(ctx context.Context, rawURL, accept string, allowed map[string]struct{}) ([]byte, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %s", u.Redacted(), resp.Status)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	if _, ok := allowed[mediaType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}

// ParseURL accepts scheme-less input by assuming http and rejects schemes other than http(s).
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		// "host:port/path" parses as an opaque URL with the host as scheme.
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" && !startsWithDigit(u.Opaque) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
		}
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func rejectPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
	}
	return nil
}
