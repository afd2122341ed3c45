package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"unsubscribe-service/internal/brevo"
	"unsubscribe-service/internal/classifier"
	"unsubscribe-service/internal/config"
	"unsubscribe-service/internal/db"
	"unsubscribe-service/internal/imap"
)

func main() {
	fmt.Println("=== Unsubscribe Service Diagnostics ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("LLM provider: %s\n", cfg.LLMProvider)
	fmt.Printf("IMAP enabled: %v\n", cfg.IMAPEnabled)
	fmt.Printf("Database path: %s\n", cfg.DBPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("\n--- Checking database ---")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		fmt.Printf("FAIL: %v\n", err)
	} else {
		count, err := database.Count()
		if err != nil {
			fmt.Printf("FAIL: %v\n", err)
		} else {
			fmt.Printf("OK: %d audit records\n", count)
		}
		database.Close()
	}

	fmt.Println("\n--- Checking LLM provider ---")
	model, err := classifier.NewModel(classifier.ModelConfig{
		Provider:      cfg.LLMProvider,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.LLMTimeout,
	})
	switch {
	case err != nil:
		fmt.Printf("FAIL: %v\n", err)
	case model == nil:
		fmt.Println("SKIP: provider is none, keyword fallback only")
	default:
		probeCtx, probeCancel := context.WithTimeout(ctx, cfg.LLMTimeout)
		raw, err := model.Generate(probeCtx, "Reply with the single word: pong")
		probeCancel()
		if err != nil {
			fmt.Printf("FAIL: %s: %v\n", model.Name(), err)
		} else {
			fmt.Printf("OK: %s replied (%d bytes)\n", model.Name(), len(raw))
		}
	}

	fmt.Println("\n--- Sample classification ---")
	cls := classifier.New(model, cfg.LLMTimeout, nil)
	decision := cls.Classify(ctx, "Remove me please", "Please unsubscribe me from your mailing list")
	fmt.Printf("Detected: %v\n", decision.Detected)
	fmt.Printf("Confidence: %s\n", decision.Confidence)
	fmt.Printf("Method: %s\n", decision.Method)
	fmt.Printf("Reasoning: %s\n", decision.Reasoning)

	fmt.Println("\n--- Checking contact-list provider ---")
	provider := brevo.NewClient(cfg.BrevoAPIKey, 0)
	if err := provider.TestConnection(ctx); err != nil {
		fmt.Printf("FAIL: %v\n", err)
	} else {
		fmt.Println("OK: API key accepted")
	}

	fmt.Println("\n--- Checking mailbox ---")
	if !cfg.IMAPEnabled {
		fmt.Println("SKIP: IMAP_ENABLED is false")
		return
	}

	client := imap.NewClient(cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPEmail, cfg.IMAPPassword, cfg.IMAPFolder, nil)
	fmt.Printf("Connecting to %s:%d as %s...\n", cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPEmail)
	if err := client.TestConnection(); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		return
	}
	fmt.Println("OK: connected and selected folder")

	emails, err := client.FetchUnseen()
	if err != nil {
		fmt.Printf("FAIL: could not fetch unseen messages: %v\n", err)
		return
	}
	fmt.Printf("OK: %d unseen messages in %s\n", len(emails), cfg.IMAPFolder)
	for i, email := range emails {
		if i >= 5 {
			fmt.Printf("  ... and %d more\n", len(emails)-5)
			break
		}
		fmt.Printf("  [%d] From: %s Subject: %s\n", i+1, email.From, email.Subject)
	}
}
