package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpeechAgentClientInterface defines the interface for the upstream speech agent
type SpeechAgentClientInterface interface {
	Connect(ctx context.Context) (*websocket.Conn, error)
	IsHealthy(ctx context.Context) bool
}

// SpeechAgentConfig configures the upstream speech agent connection
type SpeechAgentConfig struct {
	URL      string
	APIKey   string
	Settings []byte
}

// SpeechAgentClient dials the speech agent and performs the settings handshake
type SpeechAgentClient struct {
	url      string
	apiKey   string
	settings []byte
	dialer   websocket.Dialer
	tracer   trace.Tracer
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// NewSpeechAgentClient creates a new speech agent client
func NewSpeechAgentClient(cfg SpeechAgentConfig, logger zerolog.Logger) *SpeechAgentClient {
	logger = logger.With().Str("component", "speech_agent_client").Logger()

	// Initialize circuit breaker
	settings := gobreaker.Settings{
		Name:        "speech-agent",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &SpeechAgentClient{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		settings: cfg.Settings,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		tracer:  otel.Tracer("speech-agent-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// LoadSettings reads the handshake message sent to the agent on connect.
func LoadSettings(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech agent settings: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("speech agent settings in %s are not valid JSON", path)
	}
	return data, nil
}

// Connect establishes the upstream WebSocket and sends the settings handshake
func (c *SpeechAgentClient) Connect(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "speech_agent.connect")
	defer span.End()

	span.SetAttributes(attribute.Bool("settings", len(c.settings) > 0))

	// Execute with circuit breaker
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.connectInternal(ctx)
	})

	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to connect to speech agent: %w", err)
	}

	return result.(*websocket.Conn), nil
}

// connectInternal performs the actual WebSocket dial and handshake
func (c *SpeechAgentClient) connectInternal(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse speech agent URL: %w", err)
	}

	// Accept HTTP schemes for convenience
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Token "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("failed to dial WebSocket (status %d): %s, error: %w", resp.StatusCode, string(bodyBytes), err)
		}
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	if len(c.settings) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, c.settings); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send settings: %w", err)
		}
	}

	c.logger.Debug().Str("url", u.Redacted()).Msg("connected to speech agent")
	return conn, nil
}

// IsHealthy reports whether the agent is configured and the breaker is closed
func (c *SpeechAgentClient) IsHealthy(ctx context.Context) bool {
	_, span := c.tracer.Start(ctx, "speech_agent.health_check")
	defer span.End()

	if c.url == "" {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "not_configured"))
		return false
	}
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	span.SetAttributes(attribute.Bool("healthy", true))
	return true
}
