package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/liftnet/tracker/internal/api"
	"github.com/liftnet/tracker/internal/assets"
	"github.com/liftnet/tracker/internal/broker"
	"github.com/liftnet/tracker/internal/cache"
	"github.com/liftnet/tracker/internal/channel"
	"github.com/liftnet/tracker/internal/config"
	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
	"github.com/liftnet/tracker/internal/proxy"
)

const (
	appName = "tracker"
	version = "v1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Competition tracker: ingests the source channel, serves displays",
		Version: version,
		Long: `tracker sits between the competition source controller and venue
displays. It accepts the framed channel on one websocket endpoint,
maintains the in-memory competition state, and serves scoreboard
queries and the live event stream to any number of displays.`,
		RunE: runServe,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace|debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tracker server",
		RunE:  runServe,
	}
	addServeFlags(rootCmd)
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "HTTP listen port (overrides config)")
	cmd.Flags().String("secret", "", "Shared secret the source must present")
	cmd.Flags().String("upstream", "", "Upstream controller URL for proxied paths")
	cmd.Flags().Bool("learning-mode", false, "Capture inbound text frames as JSON samples")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	setupLogging(cfg.Logging)
	log.Info().Str("version", version).Msg("tracker starting")
	if cfg.Channel.Secret == "" {
		log.Warn().Msg("no shared secret configured, source channel is unauthenticated")
	}

	m := metrics.New()
	epochs := cache.NewRegistry()
	epochs.OnBump(m.EpochBumps.Inc)

	h := hub.New(hub.Config{
		DebounceWindow:     cfg.Hub.DebounceWindow,
		RequestSuppression: cfg.Hub.RequestSuppression,
		RecentLoadWindow:   cfg.Hub.RecentLoadWindow,
	}, epochs)

	extractor := assets.New(cfg.Assets.Root, h)

	channelSrv := channel.NewServer(channel.Config{
		Path:                   cfg.Channel.Path,
		Secret:                 cfg.Channel.Secret,
		MinVersion:             cfg.Channel.MinVersion,
		IdleTimeout:            cfg.Channel.IdleTimeout,
		DatabaseFollowupWindow: channel.DefaultConfig().DatabaseFollowupWindow,
		FrameRate:              rate.Limit(cfg.Channel.FrameRate),
		FrameBurst:             cfg.Channel.FrameBurst,
		LearningMode:           cfg.LearningMode.Enabled,
		SamplesDir:             cfg.LearningMode.SamplesDir,
	}, h, extractor, m)

	b := broker.New(broker.Config{QueueSize: cfg.Broker.QueueSize}, h, m)

	plugins := api.NewPluginRegistry(h, epochs, m)
	if cfg.Cache.Backend == "redis" {
		plugins.UseStoreFactory(func() cache.Store {
			store, err := cache.NewRedisStoreFromURL(cfg.Cache.RedisURL, "")
			if err != nil {
				log.Error().Err(err).Msg("redis cache unavailable, falling back to memory")
				return cache.NewBounded(cfg.Cache.Capacity)
			}
			return store
		})
		log.Info().Str("url", cfg.Cache.RedisURL).Msg("plugin cache backed by redis")
	}
	api.RegisterBuiltins(plugins)

	var upstream http.Handler
	if cfg.Upstream.URL != "" {
		p, err := proxy.New(cfg.Upstream.URL)
		if err != nil {
			return fmt.Errorf("invalid upstream URL: %w", err)
		}
		upstream = p
		log.Info().Str("upstream", cfg.Upstream.URL).Msg("proxying unmatched paths")
	}

	srv := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		WSPath:      cfg.Channel.Path,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}, h, b, plugins, m, channelSrv.Handler(), upstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop accepting HTTP first, then tear down the broker so subscriber
	// queues drain before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	log.Info().Msg("tracker stopped")
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
		cfg.Channel.Secret = secret
	}
	if upstream, _ := cmd.Flags().GetString("upstream"); upstream != "" {
		cfg.Upstream.URL = upstream
	}
	if learning, _ := cmd.Flags().GetBool("learning-mode"); learning {
		cfg.LearningMode.Enabled = true
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
}

func setupLogging(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
