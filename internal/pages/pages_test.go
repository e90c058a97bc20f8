package pages_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/markpaste/internal/pages"
	"github.com/euforicio/markpaste/internal/renderer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEmbeddedPages(t *testing.T) {
	t.Parallel()
	svc, err := pages.NewService(context.Background(), "", renderer.NewService(quietLogger(), renderer.Options{}), quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	names := svc.Names()
	if len(names) != 2 || names[0] != "about" || names[1] != "markdown" {
		t.Fatalf("unexpected pages %v", names)
	}

	about, ok := svc.Get("About")
	if !ok {
		t.Fatalf("about page missing")
	}
	if about.Title != "About markpaste" {
		t.Fatalf("unexpected title %q", about.Title)
	}
	if !strings.Contains(about.HTML, `href="/info/markdown"`) {
		t.Fatalf("expected link to markdown reference, got %s", about.HTML)
	}

	ref, ok := svc.Get("markdown")
	if !ok {
		t.Fatalf("markdown page missing")
	}
	if !strings.Contains(ref.HTML, `<nav class="toc-block">`) {
		t.Fatalf("expected table of contents in markdown reference")
	}

	if _, ok := svc.Get("missing"); ok {
		t.Fatalf("unexpected page")
	}
}

func TestDirectoryPagesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "faq.md"), []byte("# FAQ\n\nfirst"), 0o600); err != nil {
		t.Fatalf("write page: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	svc, err := pages.NewService(context.Background(), dir, renderer.NewService(quietLogger(), renderer.Options{}), quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	faq, ok := svc.Get("faq")
	if !ok || faq.Title != "FAQ" {
		t.Fatalf("unexpected faq page %+v", faq)
	}
	if len(svc.Names()) != 1 {
		t.Fatalf("non-markdown files must be ignored: %v", svc.Names())
	}

	// Give the watcher time to attach.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "faq.md"), []byte("# Questions\n\nupdated"), 0o600); err != nil {
		t.Fatalf("rewrite page: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "help.md"), []byte("# Help"), 0o600); err != nil {
		t.Fatalf("write page: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		faq, _ = svc.Get("faq")
		_, hasHelp := svc.Get("help")
		if faq.Title == "Questions" && hasHelp {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("pages were not reloaded: %v, faq title %q", svc.Names(), faq.Title)
}

func TestMissingDirectory(t *testing.T) {
	t.Parallel()
	_, err := pages.NewService(context.Background(), filepath.Join(t.TempDir(), "nope"), renderer.NewService(quietLogger(), renderer.Options{}), quietLogger())
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
