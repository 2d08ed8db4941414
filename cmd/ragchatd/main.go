// Command ragchatd wires the RAG chat orchestrator's collaborators
// together and drives one pipeline turn from the command line. It has no
// HTTP transport of its own — spec.md places that front-end out of
// scope — so this is the minimal host a caller (an HTTP handler, a CLI,
// a test) would embed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"ragchat/internal/adapters"
	"ragchat/internal/config"
	"ragchat/internal/llm"
	"ragchat/internal/observability"
	"ragchat/internal/pipeline"
	"ragchat/internal/rag"
	"ragchat/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	message := flag.String("message", "", "user message to send through the pipeline")
	sessionID := flag.String("session", "", "existing session id, or empty to start a new session")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragchatd: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.Logging.Path, cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel_init_failed")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("backend_registry_init_failed")
	}
	registry.Refresh(ctx)
	registry.StartProbing(ctx)
	defer registry.Stop()

	facade := rag.NewFacade(registry,
		rag.WithSystemPrompt(cfg.RagChatSystemPrompt),
		rag.WithTemperature(cfg.RagChatTemperature),
		rag.WithMaxTokens(cfg.RagChatMaxTokens),
		rag.WithMaxContextChars(cfg.RagChatContextMaxChars),
		rag.WithMaxRelevantDocs(cfg.RagChatEvaluationMaxRelevantDocs),
	)

	sessions := session.NewStore()
	search := adapters.NewMemorySearchAdapter(seedDocuments())
	renderer := adapters.NewGoldmarkRenderer()

	orch := pipeline.NewOrchestrator(facade, search, sessions,
		pipeline.WithHistoryMaxMessages(cfg.RagChatHistoryMaxMessages),
		pipeline.WithMaxSearchDocs(cfg.RagChatContextMaxDocuments),
		pipeline.WithContentFields(cfg.ContentFields()),
		pipeline.WithRenderer(renderer),
	)

	if !cfg.RagChatEnabled {
		fmt.Fprintln(os.Stderr, "ragchatd: rag chat is disabled (ragChatEnabled=false)")
		os.Exit(1)
	}
	if strings.TrimSpace(*message) == "" {
		fmt.Fprintln(os.Stderr, "ragchatd: -message is required")
		os.Exit(2)
	}

	cb := &stdoutCallback{}
	sess, err := orch.Run(ctx, *sessionID, "", *message, rag.Locale{Code: "en"}, cb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nragchatd: pipeline error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n\n[session %s, %d messages]\n", sess.ID, len(sess.Messages))
}

func buildRegistry(cfg *config.Config) (*llm.Registry, error) {
	drivers := map[string]llm.Driver{}

	if cfg.Ollama.APIURL != "" {
		d, err := llm.NewOllamaDriver(cfg.Ollama.APIURL, cfg.Ollama.Model, cfg.Ollama.TimeoutDuration())
		if err != nil {
			return nil, err
		}
		drivers["ollama"] = d
	}
	if cfg.OpenAI.APIKey != "" {
		d, err := llm.NewOpenAIDriver(cfg.OpenAI.APIURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.TimeoutDuration(), cfg.OpenAI.ExtraHeaders)
		if err != nil {
			return nil, err
		}
		drivers["openai"] = d
	}
	if cfg.Gemini.APIKey != "" {
		d, err := llm.NewGeminiDriver(cfg.Gemini.APIURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.TimeoutDuration())
		if err != nil {
			return nil, err
		}
		drivers["gemini"] = d
	}

	return llm.NewRegistry(cfg.LlmType, drivers, cfg.AvailabilityCheckInterval(), cfg.RagChatEnabled), nil
}

// stdoutCallback renders phase/chunk events to the terminal.
type stdoutCallback struct{}

func (c *stdoutCallback) OnPhaseStart(tag, label, detail string) {
	if detail != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s (%s)\n", tag, label, detail)
	} else {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", tag, label)
	}
}

func (c *stdoutCallback) OnPhaseComplete(tag string) {}

func (c *stdoutCallback) OnChunk(chunk string, done bool) {
	if chunk != "" {
		fmt.Print(chunk)
	}
}

func (c *stdoutCallback) OnError(tag, message string) {
	fmt.Fprintf(os.Stderr, "[%s] error: %s\n", tag, message)
}

func seedDocuments() []adapters.Document {
	return []adapters.Document{
		{
			adapters.FieldDocID:             "doc-1",
			adapters.FieldTitle:             "Installing Fess on Docker",
			adapters.FieldURL:               "https://example.com/docs/fess-docker",
			adapters.FieldContent:           "To install Fess on Docker, pull the official image and run it with the bundled docker-compose file, then open port 8080.",
			adapters.FieldContentDescription: "Docker installation guide for Fess.",
		},
		{
			adapters.FieldDocID:             "doc-2",
			adapters.FieldTitle:             "Fess crawler configuration",
			adapters.FieldURL:               "https://example.com/docs/fess-crawler",
			adapters.FieldContent:           "The crawler configuration screen lets you set seed URLs, include/exclude patterns, and crawl intervals.",
			adapters.FieldContentDescription: "How to configure the Fess web crawler.",
		},
	}
}
