// Package main provides the markpaste server application entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/euforicio/markpaste/internal/buildinfo"
	"github.com/euforicio/markpaste/internal/config"
	"github.com/euforicio/markpaste/internal/exporter"
	"github.com/euforicio/markpaste/internal/fetch"
	"github.com/euforicio/markpaste/internal/pages"
	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
	d2renderer "github.com/euforicio/markpaste/internal/renderer/d2"
	"github.com/euforicio/markpaste/internal/server"
	"github.com/euforicio/markpaste/internal/store"
	"github.com/euforicio/markpaste/static"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("markpaste failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, flags, err := loadConfig(args)
	if err != nil {
		return err
	}
	if version, _ := flags.GetBool("version"); version {
		fmt.Println(buildinfo.Summary())
		return nil
	}
	if dir, _ := flags.GetString("dump-assets"); dir != "" {
		if err := static.CopyAll(dir); err != nil {
			return fmt.Errorf("write assets: %w", err)
		}
		fmt.Printf("assets written to %s; serve them with --assets %s\n", dir, dir)
		return nil
	}

	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	logger.Log(context.Background(), slog.LevelInfo-1, "starting markpaste", slog.String("version", buildinfo.Summary()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close storage", slog.Any("err", err))
		}
	}()

	var diagrams *d2renderer.Renderer
	if cfg.EnableD2 {
		diagrams = d2renderer.New(logger, nil)
	}
	fetcher := fetch.New(fetch.Options{MaxBytes: int64(cfg.MaxPasteSize)})
	renderSvc := renderer.NewService(logger, renderer.Options{Style: cfg.HighlightStyle, D2: diagrams, Embeds: fetcher})

	signer, err := paste.NewSigner([]byte(cfg.TokenSecret))
	if err != nil {
		return fmt.Errorf("delete token signer: %w", err)
	}
	if cfg.TokenSecret == "" {
		logger.Warn("no token secret configured; delete tokens will not survive a restart")
	}
	pasteSvc := paste.NewService(st, renderSvc, fetcher, signer, paste.Options{
		MaxSize:    cfg.MaxPasteSize,
		DefaultTTL: cfg.DefaultTTL,
		MinTTL:     cfg.MinTTL,
		MaxTTL:     cfg.MaxTTL,
	}, logger)

	pagesSvc, err := pages.NewService(ctx, cfg.PagesDir, renderSvc, logger)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	defer func() {
		if err := pagesSvc.Close(); err != nil {
			logger.Error("close pages", slog.Any("err", err))
		}
	}()

	exp, err := exporter.New(logger, exporter.Options{Style: cfg.HighlightStyle, D2: diagrams})
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}

	srv, err := server.New(cfg, logger, pasteSvc, pagesSvc, exp)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		pasteSvc.RunSweeper(gctx, cfg.SweepInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func loadConfig(args []string) (config.Config, *pflag.FlagSet, error) {
	cfg := config.Default()
	if path := config.FilePath(args); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return cfg, nil, err
		}
	}
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("markpaste", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	flags.StringP("config", "c", "", "YAML configuration file (env MARKPASTE_CONFIG)")
	flags.String("dump-assets", "", "write the embedded static assets to this directory and exit")
	flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return cfg, nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := config.Finalize(&cfg); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, flags, nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case cfg.Debug:
		level = slog.LevelDebug
	case cfg.Verbose:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("app", "markpaste")
}
