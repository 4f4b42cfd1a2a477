package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"ledstrip-bridge/internal/device"
	"ledstrip-bridge/internal/hub"
	"ledstrip-bridge/internal/store"
	"ledstrip-bridge/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type StripConfig struct {
	Host string `yaml:"host"`
	Name string `yaml:"name"`
}

type Config struct {
	Strips       []StripConfig `yaml:"strips"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Device       struct {
		Timeout             *time.Duration `yaml:"timeout"`    // 0 = no timeout
		RateLimit           float64        `yaml:"rate_limit"` // commands per second, 0 = unlimited
		Burst               int            `yaml:"burst"`
		RefreshAfterCommand *bool          `yaml:"refresh_after_command"`
	} `yaml:"device"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Strips))
	for i, s := range c.Strips {
		host := strings.TrimSpace(s.Host)
		if host == "" {
			return fmt.Errorf("strips[%d].host is required", i)
		}
		if seen[host] {
			return fmt.Errorf("strips[%d]: duplicate host %q", i, host)
		}
		seen[host] = true
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if t := c.Device.Timeout; t != nil && *t < 0 {
		return fmt.Errorf("device.timeout must not be negative, got %s", *c.Device.Timeout)
	}
	if c.Device.RateLimit < 0 {
		return fmt.Errorf("device.rate_limit must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("ledstrip-bridge starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	events := hub.NewEventBus(logger)
	h := hub.New(db, events, hub.Config{
		PollInterval:        cfg.PollInterval,
		RateLimit:           cfg.Device.RateLimit,
		Burst:               cfg.Device.Burst,
		RefreshAfterCommand: *cfg.Device.RefreshAfterCommand,
	}, logger, hub.WithDeviceTimeout(*cfg.Device.Timeout))

	if err := h.Load(); err != nil {
		logger.Error("load strips", "err", err)
		os.Exit(1)
	}
	seedStrips(h, cfg.Strips, logger)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(h, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(h, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(h, cfg, logger)

	// Polling starts last so the first results reach every subscriber.
	h.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	h.Stop()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

// seedStrips registers strips listed in the config file. Strips already in the
// store keep their stored name.
func seedStrips(h *hub.Hub, strips []StripConfig, logger *slog.Logger) {
	for _, s := range strips {
		if _, err := h.Add(s.Host, s.Name); err != nil && !errors.Is(err, hub.ErrExists) {
			logger.Error("add configured strip", "host", s.Host, "err", err)
		}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Device.Timeout == nil {
		timeout := device.DefaultTimeout
		cfg.Device.Timeout = &timeout
	}
	if cfg.Device.Burst == 0 {
		cfg.Device.Burst = 1
	}
	if cfg.Device.RefreshAfterCommand == nil {
		refresh := true
		cfg.Device.RefreshAfterCommand = &refresh
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "ledstrip-bridge.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ledstrip"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
