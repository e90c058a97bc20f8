// Package pages serves the fixed informational pages, optionally reloading them from disk.
package pages

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/markpaste/internal/renderer"
)

//go:embed content/*.md
var embedded embed.FS

const pageExt = ".md"

// reloadDelay coalesces the burst of events editors emit for a single save.
const reloadDelay = 100 * time.Millisecond

// Page is a rendered informational page.
type Page struct {
	Name     string
	Title    string
	HTML     string
	Modified time.Time
}

// Renderer renders markdown.
type Renderer interface {
	Render(ctx context.Context, text, syntax string) (renderer.Document, error)
}

// Service holds the current set of pages.
type Service struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	renderer Renderer
	source   fs.FS
	dir      string
	watcher  *fsnotify.Watcher
	pages    atomic.Pointer[map[string]Page]
	reloadMu sync.Mutex
	timerMu  sync.Mutex
	timer    *time.Timer
	wg       sync.WaitGroup
}

// NewService loads pages from dir, or from the embedded defaults when dir is empty.
// With a directory, pages are reloaded whenever a file in it changes.
func NewService(parentCtx context.Context, dir string, r Renderer, logger *slog.Logger) (*Service, error) {
	if r == nil {
		return nil, errors.New("renderer must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "pages"),
		renderer: r,
		dir:      dir,
	}

	if dir == "" {
		sub, err := fs.Sub(embedded, "content")
		if err != nil {
			cancel()
			return nil, fmt.Errorf("embedded pages: %w", err)
		}
		svc.source = sub
	} else {
		abs, err := filepath.Abs(dir)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("resolve pages dir: %w", err)
		}
		svc.dir = abs
		svc.source = os.DirFS(abs)
	}

	if err := svc.reload(); err != nil {
		cancel()
		return nil, err
	}

	if svc.dir != "" {
		if err := svc.startWatcher(); err != nil {
			cancel()
			return nil, err
		}
	}
	return svc, nil
}

// Close stops watching for changes.
func (s *Service) Close() error {
	s.cancel()
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerMu.Unlock()
	s.wg.Wait()
	return err
}

// Get returns the page named name (file name without extension).
func (s *Service) Get(name string) (Page, bool) {
	pages := s.pages.Load()
	if pages == nil {
		return Page{}, false
	}
	p, ok := (*pages)[strings.ToLower(name)]
	return p, ok
}

// Names lists the available pages in alphabetical order.
func (s *Service) Names() []string {
	pages := s.pages.Load()
	if pages == nil {
		return nil
	}
	names := make([]string, 0, len(*pages))
	for name := range *pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	entries, err := fs.ReadDir(s.source, ".")
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	pages := make(map[string]Page, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != pageExt || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		page, err := s.load(ctx, entry)
		if err != nil {
			s.logger.Warn("skipping page", slog.String("file", entry.Name()), slog.Any("err", err))
			continue
		}
		pages[page.Name] = page
	}

	s.pages.Store(&pages)
	s.logger.Debug("pages loaded", "count", len(pages))
	return nil
}

func (s *Service) load(ctx context.Context, entry fs.DirEntry) (Page, error) {
	raw, err := fs.ReadFile(s.source, entry.Name())
	if err != nil {
		return Page{}, fmt.Errorf("read: %w", err)
	}
	doc, err := s.renderer.Render(ctx, string(raw), renderer.SyntaxMarkdown)
	if err != nil {
		return Page{}, fmt.Errorf("render: %w", err)
	}

	name := strings.ToLower(strings.TrimSuffix(entry.Name(), pageExt))
	page := Page{Name: name, Title: doc.Title, HTML: doc.HTML}
	if page.Title == "" {
		page.Title = name
	}
	if info, err := entry.Info(); err == nil {
		page.Modified = info.ModTime()
	}
	return page, nil
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.runWatcher()
	return nil
}

func (s *Service) runWatcher() {
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" || filepath.Ext(event.Name) != pageExt {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	s.logger.Debug("fsnotify event", slog.String("file", filepath.Base(event.Name)), slog.String("op", event.Op.String()))

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(reloadDelay, func() {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.reload(); err != nil {
			s.logger.Error("reload pages failed", slog.Any("err", err))
			return
		}
		s.logger.Info("pages reloaded", "count", len(s.Names()))
	})
}
