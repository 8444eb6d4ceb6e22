package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// Generation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// GeneratorConfig selects and configures the code generation model.
type GeneratorConfig struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	Timeout   time.Duration
}

// NewGenerator builds the generator for cfg.Provider.
func NewGenerator(cfg GeneratorConfig, logger zerolog.Logger) (*BreakerGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for %s", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16000
	}

	var inner modelCaller
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic:
		inner = newAnthropicCaller(cfg)
	case ProviderOpenAI:
		inner = newOpenAICaller(cfg)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	return newBreakerGenerator(inner, cfg.Timeout, logger), nil
}

type modelCaller interface {
	provider() string
	call(ctx context.Context, system, prompt string) (string, error)
}

type anthropicCaller struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

func newAnthropicCaller(cfg GeneratorConfig) *anthropicCaller {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicCaller{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (a *anthropicCaller) provider() string { return ProviderAnthropic }

func (a *anthropicCaller) call(ctx context.Context, system, prompt string) (string, error) {
	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
		}},
	}
	if system != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: system}}
	}

	resp, err := a.client.CreateMessages(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return b.String(), nil
}

type openAICaller struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAICaller(cfg GeneratorConfig) *openAICaller {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &openAICaller{
		client:    openai.NewClientWithConfig(config),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (o *openAICaller) provider() string { return ProviderOpenAI }

func (o *openAICaller) call(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// BreakerGenerator wraps a model call with tracing, a timeout and a circuit
// breaker. Failures come back as *models.ModelCallFailedError.
type BreakerGenerator struct {
	inner   modelCaller
	timeout time.Duration
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func newBreakerGenerator(inner modelCaller, timeout time.Duration, logger zerolog.Logger) *BreakerGenerator {
	logger = logger.With().Str("component", "generator").Str("provider", inner.provider()).Logger()
	settings := gobreaker.Settings{
		Name:        "generator-" + inner.provider(),
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// A cancelled run says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &BreakerGenerator{
		inner:   inner,
		timeout: timeout,
		tracer:  otel.Tracer("generation-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Provider names the backing model provider.
func (g *BreakerGenerator) Provider() string {
	return g.inner.provider()
}

// Generate performs one blocking model call.
func (g *BreakerGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.provider", g.inner.provider()),
		attribute.Int("prompt.length", len(prompt)),
	)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.call(ctx, system, prompt)
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("generation call failed")
		return "", &models.ModelCallFailedError{Provider: g.inner.provider(), Err: err}
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("response.length", len(text)))
	g.logger.Debug().Int("response_length", len(text)).Dur("elapsed", time.Since(started)).Msg("generation call complete")
	return text, nil
}
