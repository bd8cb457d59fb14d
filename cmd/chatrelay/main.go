package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"chatrelay/internal/client"
	"chatrelay/internal/config"
	"chatrelay/internal/relay"
	"chatrelay/internal/server"
	"chatrelay/internal/tracing"
	"chatrelay/internal/upstream"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	envFile    string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "chatrelay: relay chat messages to a webhook",
		Long:  "chatrelay accepts chat messages over HTTP, forwards them to a workflow webhook and returns its reply.",
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.chatrelay/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig resolves the effective configuration from file and environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return config.Resolve(configPath, os.LookupEnv)
}

// newLogger builds the process logger from the log settings. The returned
// closer releases the log file, if any.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = io.MultiWriter(os.Stderr, f), f
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newRelay wires the relay handler from cfg.
func newRelay(cfg *config.Config, log *slog.Logger) *relay.Relay {
	return relay.New(relay.Config{
		WebhookURL:   cfg.Relay.WebhookURL,
		Production:   cfg.Relay.Production,
		MountPath:    cfg.Server.MountPath,
		MaxBodyBytes: cfg.Relay.MaxBodyBytes,
		Webhook: upstream.New(upstream.Config{
			Timeout:          time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
			MaxResponseBytes: cfg.Relay.MaxResponseBytes,
		}),
		Tracer: tracing.New(cfg.Tracing.Enabled),
		Logger: log,
	})
}

// relayEndpoint is the URL local commands use to reach the relay.
func relayEndpoint(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + cfg.Server.MountPath
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long:  "Serves the relay until interrupted. In-flight requests are drained on shutdown.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, closer, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = log

	if cfg.Relay.WebhookURL == "" {
		logger.Warn("webhook URL not configured; forward requests will fail",
			"env", config.EnvWebhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = tracing.Setup(ctx, tracing.ProviderConfig{
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	h := newRelay(cfg, logger)
	srv := server.New(server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Handler:           h,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ShutdownTimeout:   time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		MetricsEnabled:    cfg.Metrics.Enabled,
		MetricsAddr:       cfg.Metrics.Addr,
		MetricsPath:       cfg.Metrics.Path,
		Logger:            logger,
	})

	logger.Info("relay ready",
		"addr", srv.Addr(),
		"mount", h.MountPath(),
		"health", h.HealthPath(),
		"production", cfg.Relay.Production,
		"version", version,
	)
	runErr := srv.Run(ctx)
	if tp != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tp.Shutdown(flushCtx); err != nil {
			logger.Warn("tracer shutdown", "err", err)
		}
		cancel()
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

func statusCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running relay's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				url = relayEndpoint(cfg)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			report, err := client.New(client.Config{Endpoint: url}).Health(ctx)
			if err != nil {
				return fmt.Errorf("relay at %s: %w", url, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  service=%s environment=%s time=%s\n",
				report.Status, report.Service, report.Environment, report.Timestamp)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay endpoint (default: derived from config)")
	return cmd
}

func sendCmd() *cobra.Command {
	var url, session string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message through a running relay and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				url = relayEndpoint(cfg)
			}
			c := client.New(client.Config{Endpoint: url, SessionID: session})
			reply, err := c.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay endpoint (default: derived from config)")
	cmd.Flags().StringVar(&session, "session", "", "session id (default: generated)")
	return cmd
}

func chatCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat through a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				url = relayEndpoint(cfg)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			chat := client.NewChat(client.ChatConfig{
				Client:  client.New(client.Config{Endpoint: url}),
				Logger:  logger,
				Spinner: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
			})
			return chat.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay endpoint (default: derived from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatrelay %s (service %s)\n", version, relay.ServiceName)
		},
	}
}
