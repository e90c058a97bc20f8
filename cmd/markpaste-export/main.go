// Package main provides the markpaste export CLI: it writes stored pastes as
// html, markdown, plain text or pdf files.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/euforicio/markpaste/internal/buildinfo"
	"github.com/euforicio/markpaste/internal/config"
	"github.com/euforicio/markpaste/internal/exporter"
	"github.com/euforicio/markpaste/internal/paste"
	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
	"github.com/euforicio/markpaste/internal/store"
)

func main() {
	cfg := config.Default()
	if path := config.FilePath(os.Args[1:]); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			slog.Error("load config", slog.Any("err", err))
			os.Exit(1)
		}
	}
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("markpaste-export", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: markpaste-export [flags] <paste-id>...\n\n")
		flags.PrintDefaults()
	}
	flags.StringP("config", "c", "", "YAML configuration file (env MARKPASTE_CONFIG)")
	flags.StringVarP(&cfg.Storage, "storage", "s", cfg.Storage, "storage spec '<type>:<config>' holding the pastes")
	flags.StringVar(&cfg.HighlightStyle, "style", cfg.HighlightStyle, "chroma style embedded in html exports")
	flags.BoolVar(&cfg.EnableD2, "d2", cfg.EnableD2, "render ```d2 fences as images in pdf exports")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log progress")
	format := flags.StringP("format", "f", string(exporter.FormatHTML), "export format: html, md, txt or pdf")
	out := flags.StringP("out", "o", "", "output directory; '-' writes a single export to stdout")
	timeout := flags.Duration("timeout", time.Minute, "time limit for each export")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting markpaste-export", slog.String("version", buildinfo.Summary()))

	ids := flags.Args()
	if len(ids) == 0 {
		flags.Usage()
		os.Exit(2)
	}
	f, err := exporter.ParseFormat(*format)
	if err != nil {
		logger.Error("invalid format", slog.Any("err", err))
		os.Exit(2)
	}
	if *out == "-" && len(ids) > 1 {
		logger.Error("stdout output takes a single paste id")
		os.Exit(2)
	}

	if err := run(context.Background(), cfg, logger, ids, f, *out, *timeout); err != nil {
		logger.Error("export failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ids []string, format exporter.Format, out string, timeout time.Duration) error {
	st, err := store.Open(ctx, cfg.Storage, store.ReadOnly())
	if errors.Is(err, store.ErrLocked) {
		return fmt.Errorf("open storage: %w (stop the server or export from a copy of the file)", err)
	}
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = st.Close() }()

	var diagrams *d2renderer.Renderer
	if cfg.EnableD2 {
		diagrams = d2renderer.New(logger, nil)
	}
	pastes := paste.NewService(st, nil, nil, nil, paste.Options{}, logger)

	exp, err := exporter.New(logger, exporter.Options{Style: cfg.HighlightStyle, D2: diagrams})
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}

	if out != "" && out != "-" {
		if err := os.MkdirAll(out, 0o755); err != nil { //nolint:gosec // standard directory permissions
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	var errs []error
	for _, id := range ids {
		if err := exportOne(ctx, pastes, exp, id, format, out, timeout, logger); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func exportOne(ctx context.Context, pastes *paste.Service, exp *exporter.Exporter, id string, format exporter.Format, out string, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := pastes.Get(ctx, id)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := exp.ExportPaste(ctx, p, format, &buf); err != nil {
		return err
	}

	if out == "-" {
		_, err := buf.WriteTo(os.Stdout)
		return err
	}

	target := filepath.Join(out, exporter.Filename(p, format))
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil { //nolint:gosec // exported documents are meant to be shared
		return fmt.Errorf("write %s: %w", target, err)
	}
	logger.Info("exported paste", slog.String("id", p.ID), slog.String("file", target))
	return nil
}
