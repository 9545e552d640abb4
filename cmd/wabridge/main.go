package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"wabridge/internal/agent"
	"wabridge/internal/audit"
	"wabridge/internal/config"
	"wabridge/internal/metrics"
	"wabridge/internal/notify"
	"wabridge/internal/webhook"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "wabridge",
		Short:   "wabridge: WhatsApp webhook to Bedrock agent bridge",
		Long:    "wabridge bridges the WhatsApp Business webhook to an AWS Bedrock agent and relays the agent's answers back to the sender.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.wabridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

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

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Serves the WhatsApp webhook endpoint, /healthz, and metrics. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg)

	if cfg.Agent.AgentID == "" {
		logger.Warn("agent.agentId is not configured; every reply will degrade to an error text")
	}
	if cfg.WhatsApp.AccessToken == "" {
		logger.Warn("whatsapp.accessToken is not configured; outbound delivery will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Agent.Region))
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}

	runtime := agent.NewBedrockRuntime(agent.BedrockConfig{
		AWSConfig:      awsCfg,
		ReadTimeout:    time.Duration(cfg.Agent.ReadTimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.Agent.ConnectTimeoutSeconds) * time.Second,
		Logger:         logger,
	})

	invoker := agent.NewInvoker(agent.InvokerConfig{
		Runtime: runtime,
		AgentID: cfg.Agent.AgentID,
		AliasID: cfg.Agent.AliasID,
		Logger:  logger,
	})

	notifier := notify.NewWhatsApp(notify.WhatsAppConfig{
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIVersion:    cfg.WhatsApp.APIVersion,
		Logger:        logger,
	})

	var recorder webhook.RequestRecorder
	if cfg.Audit.Enabled {
		switch cfg.Audit.Backend {
		case "sqlite":
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
			if err != nil {
				return fmt.Errorf("audit store: %w", err)
			}
			defer store.Close()
			recorder = audit.NewRecorder(store, logger)
			logger.Info("audit enabled", "backend", "sqlite", "path", cfg.Audit.DBPath)
		default:
			recorder = audit.NewRecorder(audit.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Audit.Bucket), logger)
			logger.Info("audit enabled", "backend", "s3", "bucket", cfg.Audit.Bucket)
		}
	} else {
		logger.Info("audit disabled")
	}

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		Agent:       invoker,
		Notifier:    notifier,
		Recorder:    recorder,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WebhookPath, dispatcher)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, metrics.Default.Handler())
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("webhook server starting",
		"addr", server.Addr, "path", cfg.Server.WebhookPath, "version", version)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("server", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), "webhook", cfg.Server.WebhookPath)
			logger.Info("whatsapp",
				"verifyToken", cfg.WhatsApp.VerifyToken != "",
				"accessToken", cfg.WhatsApp.AccessToken != "",
				"phoneNumberId", cfg.WhatsApp.PhoneNumberID)
			logger.Info("agent",
				"agentId", cfg.Agent.AgentID,
				"aliasId", cfg.Agent.AliasID,
				"region", cfg.Agent.Region)
			logger.Info("audit",
				"enabled", cfg.Audit.Enabled,
				"backend", cfg.Audit.Backend,
				"bucket", cfg.Audit.Bucket)
			return nil
		},
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
