package orchestration

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/approval"
	"github.com/RahulC-DG/VoiceCreation/internal/codegen"
	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/specextract"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

// Runner executes one generation run. *codegen.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, spec *models.Specification, sessionID string, sink models.EventSink) (*codegen.Outcome, error)
}

// Classifier decides whether a user utterance approves the pending specification.
type Classifier interface {
	IsApproval(utterance string) bool
}

// SessionSnapshot is a read-only view of a controller's state.
type SessionSnapshot struct {
	Phase         models.ConversationPhase `json:"phase"`
	SessionID     string                   `json:"sessionId,omitempty"`
	Specification *models.Specification    `json:"specification,omitempty"`
	Result        *models.GenerationResult `json:"result,omitempty"`
	Generating    bool                     `json:"generating"`
}

// Controller is the per-connection conversation state machine. It owns the
// session state exclusively; every method is safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	phase     models.ConversationPhase
	extractor *specextract.Extractor
	spec      *models.Specification
	sessionID string
	result    *models.GenerationResult
	preview   *supervisor.PreviewHandle
	runCancel context.CancelFunc
	closed    bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	runs       sync.WaitGroup

	runner     Runner
	classifier Classifier
	emit       models.EventSink
	metrics    *metrics.SessionMetrics
	newID      func() string
	onComplete func(*models.GenerationResult, *supervisor.PreviewHandle)
	logger     zerolog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClassifier replaces the default approval classifier.
func WithClassifier(c Classifier) ControllerOption {
	return func(ctrl *Controller) { ctrl.classifier = c }
}

// WithSessionMetrics records phase transitions and approvals.
func WithSessionMetrics(m *metrics.SessionMetrics) ControllerOption {
	return func(ctrl *Controller) { ctrl.metrics = m }
}

// WithIDGenerator replaces uuid session ids.
func WithIDGenerator(f func() string) ControllerOption {
	return func(ctrl *Controller) { ctrl.newID = f }
}

// WithCompletionHook is called after a run reaches a live preview.
func WithCompletionHook(f func(*models.GenerationResult, *supervisor.PreviewHandle)) ControllerOption {
	return func(ctrl *Controller) { ctrl.onComplete = f }
}

// NewController creates a controller in the Ideation phase. emit receives
// every outward event and must be safe for concurrent use.
func NewController(runner Runner, emit models.EventSink, logger zerolog.Logger, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		phase:      models.PhaseIdeation,
		extractor:  specextract.New(),
		baseCtx:    ctx,
		baseCancel: cancel,
		runner:     runner,
		classifier: approval.New(),
		emit:       emit,
		newID:      uuid.NewString,
		logger:     logger.With().Str("component", "phase_controller").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleText consumes one conversation text message.
func (c *Controller) HandleText(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch c.phase {
	case models.PhaseIdeation, models.PhasePromptReview:
	default:
		// A run is in flight or finished; nothing in the conversation can
		// start another one until the session is reset.
		c.logger.Debug().Str("phase", c.phase.String()).Str("role", role).Msg("ignoring text while generating")
		return
	}

	result := c.extractor.Observe(role, content)
	if result.Kind == specextract.ResultSpecification {
		c.spec = result.Spec
		c.logger.Info().Str("project_name", c.spec.ProjectName).Msg("specification extracted")
		if c.metrics != nil {
			c.metrics.Specifications.Inc()
		}
		c.transition(models.PhasePromptReview)
		return
	}

	if role == models.RoleUser && c.phase == models.PhasePromptReview && c.spec != nil && c.classifier.IsApproval(content) {
		if c.metrics != nil {
			c.metrics.Approvals.Inc()
		}
		c.beginGeneration()
	}
}

// beginGeneration runs with c.mu held.
func (c *Controller) beginGeneration() {
	c.sessionID = c.newID()
	if !c.transition(models.PhaseTransitioning) || !c.transition(models.PhaseCodeGeneration) {
		return
	}

	spec, sessionID := c.spec, c.sessionID
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.runCancel = cancel
	c.logger.Info().Str("session_id", sessionID).Str("project_name", spec.ProjectName).Msg("specification approved, starting generation")

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		defer cancel()
		outcome, err := c.runner.Run(ctx, spec, sessionID, c.emit)
		c.finishRun(sessionID, outcome, err)
	}()
}

func (c *Controller) finishRun(sessionID string, outcome *codegen.Outcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != sessionID || c.closed {
		// The session was reset or closed while the run was in flight.
		if outcome != nil && outcome.Preview != nil {
			outcome.Preview.Stop()
		}
		return
	}
	c.runCancel = nil

	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Str("error_code", models.ErrorCode(err)).Msg("generation run did not complete, returning to ideation")
		c.resetLocked()
		return
	}

	c.result = outcome.Result
	c.preview = outcome.Preview
	if c.onComplete != nil {
		c.onComplete(outcome.Result, outcome.Preview)
	}
}

// Reset handles the explicit reset signal: any run is cancelled, the preview
// stopped and all pending state cleared.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetLocked()
}

// Cancel stops an in-flight generation run. The run emits codegen-cancelled
// and the session then returns to Ideation.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCancel == nil {
		return false
	}
	c.runCancel()
	return true
}

// HandleTransportError resets the session after the upstream transport failed.
func (c *Controller) HandleTransportError(err error) {
	c.logger.Warn().Err(err).Msg("upstream transport error, resetting session")
	if c.metrics != nil {
		c.metrics.UpstreamErrors.Inc()
	}
	c.Reset()
}

// Close releases the session: the run is cancelled and the preview stopped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	if c.preview != nil {
		c.preview.Stop()
		c.preview = nil
	}
	c.mu.Unlock()

	c.baseCancel()
}

// Wait blocks until every run started by the controller has returned.
func (c *Controller) Wait() {
	c.runs.Wait()
}

// Phase returns the current phase.
func (c *Controller) Phase() models.ConversationPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionSnapshot{
		Phase:         c.phase,
		SessionID:     c.sessionID,
		Specification: c.spec,
		Result:        c.result,
		Generating:    c.runCancel != nil,
	}
}

// resetLocked runs with c.mu held.
func (c *Controller) resetLocked() {
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	if c.preview != nil {
		c.preview.Stop()
		c.preview = nil
	}
	c.extractor.Reset()
	c.spec = nil
	c.sessionID = ""
	c.result = nil
	c.transition(models.PhaseIdeation)
}

// transition runs with c.mu held.
func (c *Controller) transition(to models.ConversationPhase) bool {
	if !models.CanTransition(c.phase, to) {
		c.logger.Error().Str("from", c.phase.String()).Str("to", to.String()).Msg("rejected phase transition")
		return false
	}
	c.logger.Info().Str("from", c.phase.String()).Str("to", to.String()).Str("session_id", c.sessionID).Msg("phase transition")
	c.phase = to
	if c.metrics != nil {
		c.metrics.PhaseTransitions.WithLabelValues(to.String()).Inc()
	}
	c.emit.Emit(models.PhaseTransitionEvent(to, c.sessionID))
	return true
}
