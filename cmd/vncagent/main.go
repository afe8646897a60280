package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vnc-agent/pkg/config"
	"vnc-agent/pkg/rfb"
	"vnc-agent/pkg/vnc"
)

var (
	// Connection flags
	configPath string
	endpoint   string
	username   string
	password   string
	authMode   string
	timeout    time.Duration

	// Screenshot flags
	screenshotPath string
	watch          bool

	// Logging flags
	verbose bool
	debug   bool
)

func init() {
	// Human-friendly console output for an interactive tool
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vncagent",
	Short: "VNC client agent for remote framebuffer capture and input",
	Long: `VNC Agent - RFB client for screen capture and remote input

Connects to a VNC server (native TCP or WebSocket-carried RFB), completes the
RFB handshake including VNC Authentication, Apple Remote Desktop, and VeNCrypt
security types, and keeps a live framebuffer via an incremental update
heartbeat. Can dump the framebuffer to a PNG for diagnostics.`,
	Example: `  # Screenshot a QEMU VNC display:
  vncagent --endpoint 127.0.0.1:5900 --screenshot screen.png

  # macOS Screen Sharing (ARD authentication):
  vncagent --endpoint 10.0.0.5:5900 --username admin --password secret --screenshot out.png

  # WebSocket-carried RFB behind a websockify proxy:
  vncagent --endpoint ws://127.0.0.1:6080/websockify --screenshot out.png

  # Require an unauthenticated server:
  vncagent --endpoint 127.0.0.1:5900 --auth none --watch`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if endpoint == "" && configPath == "" && config.FindConfigFile("vncagent") == "" {
			return fmt.Errorf("either --endpoint or --config is required")
		}
		return nil
	},
	RunE:          runAgent,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "", "VNC endpoint: host:port, vnc://host:port, or ws(s)://...")
	rootCmd.Flags().StringVar(&username, "username", "", "Username for ARD / VeNCrypt Plain authentication")
	rootCmd.Flags().StringVar(&password, "password", "", "Password (omit for unauthenticated servers)")
	rootCmd.Flags().StringVar(&authMode, "auth", "auto", "Authentication mode: auto or none")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connection timeout")

	rootCmd.Flags().StringVar(&screenshotPath, "screenshot", "", "Write a PNG screenshot to this path and exit")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "Stay connected and log frame/resize/clipboard events")

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (info level)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging (most detailed)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	setupLogging(cfg)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen)
	}

	log.Info().
		Str("endpoint", cfg.VNC.Endpoint).
		Str("auth", cfg.VNC.Auth).
		Bool("has_password", cfg.VNC.Password != "").
		Dur("timeout", cfg.VNC.DialTimeout).
		Msg("VNC agent starting")

	session := vnc.NewSession(vnc.SessionConfig{
		Endpoint:          cfg.VNC.Endpoint,
		Username:          cfg.VNC.Username,
		Password:          cfg.VNC.Password,
		AuthMode:          rfb.AuthMode(cfg.VNC.Auth),
		UpdateInterval:    cfg.VNC.UpdateInterval,
		ScreenshotTimeout: cfg.VNC.ScreenshotTimeout,
		DialTimeout:       cfg.VNC.DialTimeout,
	}, vnc.SessionHandlers{
		OnResize: func(w, h int) {
			log.Info().Int("width", w).Int("height", h).Msg("Desktop resized")
		},
		OnCutText: func(text string) {
			log.Info().Int("length", len(text)).Msg("Server clipboard received")
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("Session error")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.VNC.DialTimeout)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to connect to VNC server")
		return fmt.Errorf("VNC connection failed: %w", err)
	}
	defer session.Disconnect()

	width, height := session.Size()
	log.Info().
		Int("width", width).
		Int("height", height).
		Str("desktop_name", session.DesktopName()).
		Msg("Connected")

	if screenshotPath != "" {
		if err := saveScreenshot(session, screenshotPath); err != nil {
			return err
		}
		if !watch {
			return nil
		}
	}

	if watch {
		return watchSession()
	}

	return nil
}

// loadConfig merges the config file (if any) with command line flags; flags
// win when set
func loadConfig() (*config.Config, error) {
	configFile := configPath
	if configFile == "" {
		configFile = config.FindConfigFile("vncagent")
	} else if _, err := os.Stat(configFile); err != nil {
		return nil, fmt.Errorf("configuration file %s: %w", configFile, err)
	}
	envFile := config.FindEnvironmentFile("vncagent")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return nil, err
	}

	if endpoint != "" {
		cfg.VNC.Endpoint = endpoint
	}
	if username != "" {
		cfg.VNC.Username = username
	}
	if password != "" {
		cfg.VNC.Password = password
	}
	if authMode != "" {
		cfg.VNC.Auth = authMode
	}
	if timeout > 0 {
		cfg.VNC.DialTimeout = timeout
	}

	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	cfg.Log.ConfigureZerolog()
	if verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// serveMetrics exposes Prometheus metrics for scraping
func serveMetrics(listen string) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	log.Info().Str("listen", listen).Msg("Metrics endpoint starting")
	if err := http.ListenAndServe(listen, router); err != nil {
		log.Error().Err(err).Msg("Metrics endpoint failed")
	}
}

// saveScreenshot captures the framebuffer and writes it as PNG
func saveScreenshot(session *vnc.Session, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := session.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}

	width, height := session.Size()
	img := &image.RGBA{
		Pix:    buf,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("width", width).
		Int("height", height).
		Msg("Screenshot written")
	return nil
}

// watchSession blocks until interrupted, leaving the heartbeat to keep the
// framebuffer warm
func watchSession() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return nil
}
