package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"diffusiond/internal/builder"
	"diffusiond/internal/config"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cfg := config.Config{
		Addr:           envOr("DIFFUSIOND_ADDR", ":8080"),
		ModelsDir:      envOr("DIFFUSIOND_MODELS_DIR", "~/models/diffusion"),
		LogLevel:       envOr("DIFFUSIOND_LOG_LEVEL", "info"),
		PreloadRetries: 3,
	}
	var corsOrigins []string

	root := &cobra.Command{
		Use:           "diffusiond",
		Short:         "HTTP daemon managing a single resident diffusion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				// Flags set on the command line win over the file.
				cfg = mergeConfig(fileCfg, cfg, cmd)
			}
			return run(cfg, corsOrigins)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "Path to config file (.yaml/.json/.toml)")
	root.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address, e.g. :8080")
	root.Flags().StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory to scan for diffusion models")
	root.Flags().StringVar(&cfg.DefaultModel, "default-model", cfg.DefaultModel, "Model id to preload at startup")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	root.Flags().IntVar(&cfg.PreloadRetries, "preload-retries", cfg.PreloadRetries, "Retry attempts for the startup preload")
	root.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable); CORS disabled when empty")
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// mergeConfig layers file values under command-line flags: a file value is
// used only when its flag was not explicitly set.
func mergeConfig(file, flags config.Config, cmd *cobra.Command) config.Config {
	out := flags
	if file.Addr != "" && !cmd.Flags().Changed("addr") {
		out.Addr = file.Addr
	}
	if file.ModelsDir != "" && !cmd.Flags().Changed("models-dir") {
		out.ModelsDir = file.ModelsDir
	}
	if file.DefaultModel != "" && !cmd.Flags().Changed("default-model") {
		out.DefaultModel = file.DefaultModel
	}
	if file.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		out.LogLevel = file.LogLevel
	}
	if file.PreloadRetries > 0 && !cmd.Flags().Changed("preload-retries") {
		out.PreloadRetries = file.PreloadRetries
	}
	return out
}

func run(cfg config.Config, corsOrigins []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.ModelsDir).Msg("failed to scan models")
		return err
	}
	models := reg.List()
	log.Info().Int("models", len(models)).Str("dir", cfg.ModelsDir).Msg("models discovered")

	bld := builder.New(reg, nil, log.With().Str("component", "builder").Logger())
	mgr, err := manager.NewWithConfig(manager.ManagerConfig{
		Registry: models,
		Builder:  bld,
		Logger:   &log,
	})
	if err != nil {
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	if len(corsOrigins) > 0 {
		httpapi.SetCORSOptions(true, corsOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Tell systemd we are up; a no-op outside a systemd unit.
	if _, err := sdaemon.SdNotify(false, sdaemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify failed")
	}

	if cfg.DefaultModel != "" {
		go preload(baseCtx, mgr, cfg.DefaultModel, cfg.PreloadRetries, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("manager close error")
	}
	return nil
}

// preload loads the configured default model with exponential backoff, so a
// model directory that appears shortly after boot still gets picked up.
func preload(ctx context.Context, mgr *manager.Manager, modelID string, retries int, log zerolog.Logger) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	err := backoff.Retry(func() error {
		_, err := mgr.Load(ctx, modelID)
		if err != nil {
			// Unknown ids never resolve on retry.
			if manager.IsModelNotFound(err) {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("model", modelID).Msg("preload attempt failed")
		}
		return err
	}, policy)
	if err != nil {
		log.Error().Err(err).Str("model", modelID).Msg("preload failed")
		return
	}
	log.Info().Str("model", modelID).Msg("preload complete")
}
