package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/menta2k/membercard/internal/api"
	"github.com/menta2k/membercard/internal/artifact"
	"github.com/menta2k/membercard/internal/config"
	"github.com/menta2k/membercard/internal/metrics"
	"github.com/menta2k/membercard/internal/utils"
	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/share"
)

func main() {
	var cfgPath string
	var debug bool
	flag.StringVar(&cfgPath, "config", "", "config file (json or yaml), defaults to ~/.config/membercard/config.json when present")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Server.RedisURL)
	if err != nil {
		logger.Error("artifact store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	renderer, err := compositor.NewRenderer()
	if err != nil {
		logger.Error("renderer", "error", err)
		os.Exit(1)
	}

	var template image.Image
	if cfg.Card.TemplatePath != "" {
		template, err = imageio.Open(cfg.Card.TemplatePath)
		if err != nil {
			logger.Error("card template", "path", cfg.Card.TemplatePath, "error", err)
			os.Exit(1)
		}
	}

	var locator crop.SubjectLocator
	if cfg.Detection.Enabled {
		locator, err = cfg.Locator()
		if err != nil {
			logger.Error("subject locator", "backend", cfg.Detection.Backend, "error", err)
			os.Exit(1)
		}
		logger.Info("subject detection enabled", "backend", cfg.Detection.Backend, "model", cfg.Detection.Model)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := api.New(api.Deps{
		Config:     cfg,
		Renderer:   renderer,
		Template:   template,
		Store:      store,
		Members:    membership.NewClient(cfg.MembershipSettings()),
		Locator:    locator,
		Dispatcher: share.NewDispatcher(logger),
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
		Logger:     logger,
	})

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting membercard server", "addr", cfg.Server.Addr,
			"max_upload", utils.FormatFileSize(cfg.Server.MaxUploadBytes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore returns Redis when a URL is configured, otherwise memory.
func openStore(ctx context.Context, redisURL string) (artifact.Store, func(), error) {
	if redisURL == "" {
		return artifact.NewMemory(), func() {}, nil
	}
	client, err := artifact.Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	return artifact.NewRedis(client), func() { _ = client.Close() }, nil
}
