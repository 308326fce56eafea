// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/outreach-engine/internal/analytics"
	"github.com/capitalize-ai/outreach-engine/internal/analyzer"
	"github.com/capitalize-ai/outreach-engine/internal/channel"
	"github.com/capitalize-ai/outreach-engine/internal/config"
	"github.com/capitalize-ai/outreach-engine/internal/content"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/handler"
	"github.com/capitalize-ai/outreach-engine/internal/inbox"
	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	natsclient "github.com/capitalize-ai/outreach-engine/internal/nats"
	"github.com/capitalize-ai/outreach-engine/internal/negotiation"
	"github.com/capitalize-ai/outreach-engine/internal/responder"
	"github.com/capitalize-ai/outreach-engine/internal/rules"
	"github.com/capitalize-ai/outreach-engine/internal/service"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/internal/vault"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/tracing"
)

// runner is a background loop started alongside the server.
type runner interface {
	Run(ctx context.Context, h inbox.Handler) error
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting outreach engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "outreach-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	gen := newGenerator(cfg, log)

	transports := channel.NewRegistry()
	channel.RegisterLogTransports(transports, log)

	v, err := vault.New(cfg.Vault, st, transports, log)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	// Events and the inbound queue go through JetStream when it is enabled.
	var (
		publisher  events.Publisher = events.Nop{}
		queue      inbox.Queue
		queueRun   runner
		natsClient *natsclient.Client
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		if err := natsClient.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		publisher = natsclient.NewEventPublisher(natsClient)
		q := natsclient.NewInboxQueue(natsClient, log)
		queue, queueRun = q, q
	} else {
		log.Warn("NATS disabled, using in-process inbound queue")
		q := inbox.NewLocal(0, cfg.Responder.InboundWorkers, log)
		queue, queueRun = q, q
	}

	d := dispatch.New(cfg.Dispatch, st, transports, v, content.NewGenerator(gen), publisher, log)

	var pack *rules.Pack
	if cfg.RulesFile != "" {
		pack, err = rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
	}

	// Initialize services
	var (
		classifier analyzer.Classifier
		stance     negotiation.StanceAnalyzer
		strategist negotiation.Strategist
	)
	if gen != nil {
		classifier = analyzer.NewLLMClassifier(gen)
		stance = negotiation.NewLLMStanceAnalyzer(gen)
		strategist = negotiation.NewLLMStrategist(gen)
	}

	campaignSvc := service.NewCampaignService(service.CampaignDeps{
		Store:      st,
		Vault:      v,
		Dispatcher: d,
		Analytics:  analytics.New(cfg.Analytics, st, log),
		Rules:      pack,
		Publisher:  publisher,
		Logger:     log,
	})
	conversationSvc := service.NewConversationService(service.ConversationDeps{
		Store:      st,
		Dispatcher: d,
		Analyzer:   analyzer.New(classifier, log),
		Responder:  responder.New(cfg.Responder, st, gen, d, log),
		Negotiator: negotiation.New(st, stance, strategist, log),
		Publisher:  publisher,
		Logger:     log,
	})
	defer conversationSvc.Close()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st, natsClient)
	campaignHandler := handler.NewCampaignHandler(campaignSvc, log)
	messageHandler := handler.NewMessageHandler(campaignSvc, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	webhookHandler := handler.NewWebhookHandler(queue, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate with a body signature instead of a JWT.
	r.Route("/webhooks/{channel}", func(r chi.Router) {
		r.Use(middleware.WebhookRateLimit(cfg.RateLimitRequests*10, cfg.RateLimitWindow))
		r.Use(middleware.VerifySignature(cfg.Webhook.Secrets))
		r.Post("/inbound", webhookHandler.Inbound)
		r.Post("/status", webhookHandler.Status)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		campaignHandler.Routes(r)
		messageHandler.Routes(r)
		conversationHandler.Routes(r)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		return queueRun.Run(gctx, inbox.Process(conversationSvc))
	})
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Wait for shutdown signal
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openStore uses Postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewInMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store.New(pg), nil
}

// newGenerator picks the configured LLM provider. A nil result leaves
// every generation path on its deterministic fallback.
func newGenerator(cfg *config.Config, log *logger.Logger) llm.Generator {
	provider, key := llm.Provider(cfg.DefaultLLM), cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		// Fall back to whichever provider has a key.
		switch {
		case cfg.AnthropicAPIKey != "":
			provider, key = llm.ProviderAnthropic, cfg.AnthropicAPIKey
		case cfg.OpenAIAPIKey != "":
			provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
		default:
			log.Warn("no LLM API key configured, generation disabled")
			return nil
		}
	}

	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, generation disabled", zap.String("provider", string(provider)), zap.Error(err))
		return nil
	}
	return llm.NewGenerator(client, llm.GeneratorConfig{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.Responder.MaxTokens,
		Temperature: cfg.Responder.Temperature,
	}, log)
}
