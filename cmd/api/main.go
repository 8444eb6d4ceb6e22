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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/RahulC-DG/VoiceCreation/internal/auth"
	"github.com/RahulC-DG/VoiceCreation/internal/codegen"
	"github.com/RahulC-DG/VoiceCreation/internal/config"
	"github.com/RahulC-DG/VoiceCreation/internal/gateway"
	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
	"github.com/RahulC-DG/VoiceCreation/internal/store"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger

	shutdownTracer, err := initTracer(cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.HTTPPort).
		Str("model_provider", cfg.ModelProvider).
		Bool("speech_agent", cfg.SpeechAgentEnabled()).
		Bool("auth", cfg.AuthEnabled()).
		Bool("history", cfg.HistoryEnabled()).
		Msg("starting voice creation gateway")

	// Run history is optional
	var pool *pgxpool.Pool
	if cfg.HistoryEnabled() {
		pool, err = connectWithRetry(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database after retries")
		}
		defer pool.Close()
	}
	runStore := store.NewRunStore(pool, logger)
	if err := runStore.EnsureSchema(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare run history schema")
	}

	generationMetrics, err := metrics.NewGenerationMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generation metrics")
	}
	sessionMetrics := metrics.NewSessionMetrics()

	generator, err := orchestration.NewGenerator(cfg.Generator(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generation client")
	}
	previews := supervisor.New(cfg.Supervisor(), logger)
	orchestrator := codegen.New(cfg.GenerationRoot, generator, previews, logger,
		codegen.WithMetrics(generationMetrics),
		codegen.WithRecorder(runStore),
	)

	// A nil interface keeps sessions in text-only mode
	var speechAgent orchestration.SpeechAgentClientInterface
	if cfg.SpeechAgentEnabled() {
		agentCfg, err := cfg.SpeechAgent()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load speech agent settings")
		}
		speechAgent = orchestration.NewSpeechAgentClient(agentCfg, logger)
	}
	service := orchestration.NewService(orchestrator, speechAgent, runStore, sessionMetrics, logger)

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled() {
		jwtManager, err = auth.NewJWTManager(cfg.JWTSecret, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize JWT manager")
		}
	}

	handler := gateway.NewHandler(service, logger)
	proxy := gateway.NewSessionProxy(service, jwtManager, sessionMetrics, cfg.AllowedOrigins, logger)
	router := gateway.NewRouter(handler, proxy, sessionMetrics, jwtManager, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Hijacked websocket connections are not covered by server.Shutdown
	service.Shutdown()
	if err := shutdownTracer(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}

	logger.Info().Msg("server exited")
}

// connectWithRetry waits for the database to accept connections
func connectWithRetry(databaseURL string, logger zerolog.Logger) (*pgxpool.Pool, error) {
	var err error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var pool *pgxpool.Pool
		pool, err = store.Connect(ctx, databaseURL)
		cancel()
		if err == nil {
			logger.Info().Msg("connected to PostgreSQL database")
			return pool, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("waiting for database")
		time.Sleep(3 * time.Second)
	}
	return nil, err
}

// initTracer initializes OpenTelemetry tracing
func initTracer(pretty bool) (func(context.Context) error, error) {
	var opts []stdouttrace.Option
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
