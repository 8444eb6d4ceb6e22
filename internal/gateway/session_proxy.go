package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RahulC-DG/VoiceCreation/internal/auth"
	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
)

const writeTimeout = 10 * time.Second

// Frame directions and kinds for the relayed frame counter.
const (
	toUpstream = "client_to_upstream"
	toClient   = "upstream_to_client"
	kindBinary = "binary"
	kindText   = "text"
)

// Client control frames.
const (
	controlText   = "text"
	controlReset  = "reset"
	controlCancel = "cancel"
)

// upstreamError is the speech agent's error message type, matched case-insensitively.
const upstreamError = "error"

var errClientClosed = errors.New("client connection closed")

var errUpstreamFailed = errors.New("speech agent error")

// SessionProxy serves /ws/session: it relays audio between the client and the
// speech agent and feeds conversation text to the session's phase controller.
type SessionProxy struct {
	service    *orchestration.Service
	jwtManager *auth.JWTManager
	metrics    *metrics.SessionMetrics
	tracer     trace.Tracer
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewSessionProxy creates the session websocket handler. A nil jwtManager
// disables authentication; an empty allowedOrigins accepts every origin.
func NewSessionProxy(service *orchestration.Service, jwtManager *auth.JWTManager, sessionMetrics *metrics.SessionMetrics, allowedOrigins []string, logger zerolog.Logger) *SessionProxy {
	logger = logger.With().Str("component", "session_proxy").Logger()
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &SessionProxy{
		service:    service,
		jwtManager: jwtManager,
		metrics:    sessionMetrics,
		tracer:     otel.Tracer("session-proxy"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if _, ok := origins[origin]; ok {
					return true
				}
				logger.Warn().Str("origin", origin).Msg("rejected websocket origin")
				return false
			},
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// HandleSession godoc
// @Summary Conversation session
// @Description Relays audio between the browser and the speech agent and drives the build pipeline from the transcript
// @Tags sessions
// @Param token query string false "JWT token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Router /ws/session [get]
func (p *SessionProxy) HandleSession(c *gin.Context) {
	ctx, span := p.tracer.Start(c.Request.Context(), "session_proxy.handle_session")
	defer span.End()

	logger := p.logger
	if p.jwtManager != nil {
		claims, err := p.jwtManager.ValidateToken(ctx, auth.TokenFromRequest(c.Request))
		if err != nil {
			span.RecordError(err)
			logger.Warn().Err(err).Msg("session token rejected")
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Code: models.ErrCodeUnauthorized})
			return
		}
		span.SetAttributes(attribute.String("user.id", claims.UserID))
		logger = logger.With().Str("user_id", claims.UserID).Logger()
	}

	clientConn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	client := newClientWriter(clientConn, logger)
	defer client.close()

	var upstream *websocket.Conn
	if p.service.UpstreamEnabled() {
		upstream, err = p.service.SpeechAgent.Connect(ctx)
		if err != nil {
			span.RecordError(err)
			logger.Error().Err(err).Msg("failed to connect to speech agent")
			client.sendError("Failed to connect to speech agent")
			return
		}
		defer upstream.Close()
	}
	span.SetAttributes(attribute.Bool("upstream", upstream != nil))

	ctrl := p.service.OpenSession(client)
	defer p.service.CloseSession(ctrl)

	logger.Info().Bool("upstream", upstream != nil).Msg("session opened")
	p.relay(ctx, client, clientConn, upstream, ctrl, logger)
	logger.Info().Str("phase", ctrl.Phase().String()).Msg("session closed")
}

// relay runs the two copy loops until either side fails.
func (p *SessionProxy) relay(ctx context.Context, client *clientWriter, clientConn, upstream *websocket.Conn, ctrl *orchestration.Controller, logger zerolog.Logger) {
	_, span := p.tracer.Start(ctx, "session_proxy.relay")
	defer span.End()

	errChan := make(chan error, 2)
	done := make(chan struct{})

	// Client -> speech agent
	go func() {
		for {
			messageType, message, err := clientConn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}

			if messageType == websocket.TextMessage && p.handleControl(message, upstream == nil, client, ctrl, logger) {
				continue
			}
			if upstream == nil {
				continue
			}

			p.countFrame(toUpstream, messageType)
			if err := upstream.WriteMessage(messageType, message); err != nil {
				logger.Warn().Err(err).Msg("failed to forward frame to speech agent")
				errChan <- err
				return
			}
		}
	}()

	// Speech agent -> client
	if upstream != nil {
		go func() {
			for {
				messageType, message, err := upstream.ReadMessage()
				if err != nil {
					select {
					case <-done:
					default:
						ctrl.HandleTransportError(err)
					}
					errChan <- err
					return
				}

				// The transcript reaches the client before any phase event it causes.
				p.countFrame(toClient, messageType)
				if err := client.write(messageType, message); err != nil {
					errChan <- err
					return
				}

				if messageType != websocket.TextMessage {
					continue
				}
				if err := p.observeUpstream(message, ctrl, logger); err != nil {
					ctrl.HandleTransportError(err)
					errChan <- err
					return
				}
			}
		}()
	}

	err := <-errChan
	close(done)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !errors.Is(err, errClientClosed) {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("session relay ended with error")
	}
}

// observeUpstream logs every JSON message from the speech agent and feeds
// transcript text to the controller. An agent error message is returned as an
// error so the session is torn down.
func (p *SessionProxy) observeUpstream(message []byte, ctrl *orchestration.Controller, logger zerolog.Logger) error {
	var msg models.UpstreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Debug().Err(err).Msg("ignoring non-JSON frame from speech agent")
		return nil
	}

	logger.Debug().Str("type", msg.Type).Msg("speech agent message")
	switch {
	case msg.Type == controlText:
		ctrl.HandleText(msg.Role, msg.Content)
	case strings.EqualFold(msg.Type, upstreamError):
		logger.Warn().Str("description", msg.Detail()).Msg("speech agent reported an error")
		return fmt.Errorf("%w: %s", errUpstreamFailed, msg.Detail())
	}
	return nil
}

// handleControl interprets client JSON frames addressed to the gateway.
// It reports whether the frame was consumed.
func (p *SessionProxy) handleControl(message []byte, textOnly bool, client *clientWriter, ctrl *orchestration.Controller, logger zerolog.Logger) bool {
	var msg models.UpstreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return false
	}

	switch msg.Type {
	case controlReset:
		logger.Info().Msg("client requested reset")
		ctrl.Reset()
		return true
	case controlCancel:
		logger.Info().Bool("running", ctrl.Cancel()).Msg("client requested cancel")
		return true
	case controlText:
		if !textOnly {
			return false
		}
		p.countFrame(toUpstream, websocket.TextMessage)
		_ = client.write(websocket.TextMessage, message)
		ctrl.HandleText(msg.Role, msg.Content)
		return true
	}
	return false
}

func (p *SessionProxy) countFrame(direction string, messageType int) {
	if p.metrics == nil {
		return
	}
	kind := kindText
	if messageType == websocket.BinaryMessage {
		kind = kindBinary
	}
	p.metrics.RelayedFrames.WithLabelValues(direction, kind).Inc()
}

// clientWriter serializes every write to the client connection. It is the
// session's outward event sink.
type clientWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	logger zerolog.Logger
}

func newClientWriter(conn *websocket.Conn, logger zerolog.Logger) *clientWriter {
	return &clientWriter{conn: conn, logger: logger}
}

// Emit sends one outward event as JSON.
func (w *clientWriter) Emit(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		w.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to encode event")
		return
	}
	if err := w.write(websocket.TextMessage, data); err != nil {
		w.logger.Debug().Err(err).Str("type", string(event.Type)).Msg("dropped event for closed client")
	}
}

func (w *clientWriter) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errClientClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(messageType, data)
}

// sendError reports a session level failure that is not part of a run.
func (w *clientWriter) sendError(message string) {
	data, _ := json.Marshal(map[string]string{"type": "error", "error": message})
	if err := w.write(websocket.TextMessage, data); err != nil {
		w.logger.Warn().Err(err).Msg("failed to send error to client")
	}
}

func (w *clientWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.conn.Close()
}
