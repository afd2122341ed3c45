package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"unsubscribe-service/internal/brevo"
	"unsubscribe-service/internal/classifier"
	"unsubscribe-service/internal/config"
	"unsubscribe-service/internal/confirm"
	"unsubscribe-service/internal/db"
	"unsubscribe-service/internal/imap"
	"unsubscribe-service/internal/poller"
	"unsubscribe-service/internal/web"
	"unsubscribe-service/internal/workflow"
)

// Set at build time via -ldflags
var (
	Version   = "dev"
	CommitSHA = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	logger.Info("starting unsubscribe service", "version", Version, "commit", CommitSHA)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"llm_provider", cfg.LLMProvider,
		"imap_enabled", cfg.IMAPEnabled,
		"web_port", cfg.WebPort)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("database initialized", "path", cfg.DBPath)

	model, err := classifier.NewModel(classifier.ModelConfig{
		Provider:      cfg.LLMProvider,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.LLMTimeout,
	})
	if err != nil {
		logger.Error("failed to configure llm provider", "error", err)
		os.Exit(1)
	}

	cls := classifier.New(model, cfg.LLMTimeout, logger.With("component", "classifier"))
	provider := brevo.NewClient(cfg.BrevoAPIKey, 0)
	coordinator := workflow.NewCoordinator(cls, provider, database, logger.With("component", "workflow"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var worker *poller.Poller
	if cfg.IMAPEnabled {
		client := imap.NewClient(cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPEmail, cfg.IMAPPassword,
			cfg.IMAPFolder, logger.With("component", "imap"))
		if err := client.TestConnection(); err != nil {
			logger.Error("imap connection test failed", "error", err)
			os.Exit(1)
		}
		logger.Info("imap connection verified", "host", cfg.IMAPHost, "folder", cfg.IMAPFolder)

		var confirmer poller.ConfirmationSender
		if cfg.SendConfirmation {
			confirmer = confirm.NewSender(cfg.SMTPHost, cfg.SMTPPort, cfg.IMAPEmail, cfg.IMAPPassword)
		}

		worker = poller.New(poller.Options{
			Client:    client,
			Processor: coordinator,
			Confirmer: confirmer,
			Interval:  cfg.CheckInterval,
			Email:     cfg.IMAPEmail,
			Folder:    cfg.IMAPFolder,
			Logger:    logger.With("component", "poller"),
		})
		go worker.Start(ctx)
	}

	// A nil *Poller must stay a nil interface for the disabled checks.
	var webWorker web.Worker
	if worker != nil {
		webWorker = worker
	}

	server := web.NewServer(coordinator, cls, database, webWorker,
		cfg.WebPort, Version, logger.With("component", "web"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("web server error", "error", err)
			cancel()
		}
	}()

	logger.Info("service started")

	select {
	case <-sigChan:
		logger.Info("shutting down")
	case <-ctx.Done():
	}
	cancel()
}
