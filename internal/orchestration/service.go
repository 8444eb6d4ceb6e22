package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/store"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

// ErrSessionNotFound is returned for unknown generation session ids.
var ErrSessionNotFound = errors.New("session not found")

// RunSummary describes a completed generation run.
type RunSummary struct {
	*models.GenerationResult
	PreviewActive bool `json:"previewActive"`
}

type completedRun struct {
	result  *models.GenerationResult
	preview *supervisor.PreviewHandle
}

// Service tracks live conversation sessions and the previews they produced
type Service struct {
	mu       sync.RWMutex
	sessions map[*Controller]struct{}
	runs     map[string]*completedRun

	runner      Runner
	SpeechAgent SpeechAgentClientInterface
	store       *store.RunStore
	metrics     *metrics.SessionMetrics
	logger      zerolog.Logger
}

// NewService creates a new orchestration service
func NewService(runner Runner, speechAgent SpeechAgentClientInterface, runStore *store.RunStore, sessionMetrics *metrics.SessionMetrics, logger zerolog.Logger) *Service {
	return &Service{
		sessions:    make(map[*Controller]struct{}),
		runs:        make(map[string]*completedRun),
		runner:      runner,
		SpeechAgent: speechAgent,
		store:       runStore,
		metrics:     sessionMetrics,
		logger:      logger.With().Str("component", "orchestration_service").Logger(),
	}
}

// OpenSession creates the controller for a new connection.
func (s *Service) OpenSession(emit models.EventSink, opts ...ControllerOption) *Controller {
	base := []ControllerOption{WithCompletionHook(s.registerRun)}
	if s.metrics != nil {
		base = append(base, WithSessionMetrics(s.metrics))
	}
	ctrl := NewController(s.runner, emit, s.logger, append(base, opts...)...)

	s.mu.Lock()
	s.sessions[ctrl] = struct{}{}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return ctrl
}

// CloseSession tears down a connection's controller and its preview.
func (s *Service) CloseSession(ctrl *Controller) {
	s.mu.Lock()
	_, ok := s.sessions[ctrl]
	delete(s.sessions, ctrl)
	s.mu.Unlock()

	if !ok {
		return
	}
	ctrl.Close()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
}

func (s *Service) registerRun(result *models.GenerationResult, preview *supervisor.PreviewHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[result.SessionID] = &completedRun{result: result, preview: preview}
}

// GetRun returns the summary of a completed run.
func (s *Service) GetRun(sessionID string) (*RunSummary, error) {
	s.mu.RLock()
	run, ok := s.runs[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &RunSummary{GenerationResult: run.result, PreviewActive: previewActive(run.preview)}, nil
}

// StopPreview stops the dev server of a completed run.
func (s *Service) StopPreview(sessionID string) error {
	s.mu.RLock()
	run, ok := s.runs[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	if run.preview != nil {
		run.preview.Stop()
	}
	s.logger.Info().Str("session_id", sessionID).Msg("preview stopped")
	return nil
}

// History looks a run up in the run store.
func (s *Service) History(ctx context.Context, sessionID string) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, sessionID)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, ErrSessionNotFound
	}
	return run, err
}

// RecentRuns lists recorded runs, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	return s.store.ListRecent(ctx, limit)
}

// UpstreamEnabled reports whether sessions are relayed to a speech agent.
// Without one, sessions accept text frames from the client directly.
func (s *Service) UpstreamEnabled() bool {
	return s.SpeechAgent != nil
}

// Ready reports whether the service's dependencies can take new sessions.
func (s *Service) Ready(ctx context.Context) error {
	if s.SpeechAgent != nil && !s.SpeechAgent.IsHealthy(ctx) {
		return errors.New("speech agent unavailable")
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	return nil
}

// ActiveSessions returns the number of open sessions.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session and stops every preview.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Controller, 0, len(s.sessions))
	for ctrl := range s.sessions {
		sessions = append(sessions, ctrl)
	}
	runs := make([]*completedRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	for _, ctrl := range sessions {
		s.CloseSession(ctrl)
	}
	for _, ctrl := range sessions {
		ctrl.Wait()
	}
	for _, run := range runs {
		if run.preview != nil {
			run.preview.Stop()
		}
	}
	s.logger.Info().Int("sessions", len(sessions)).Int("previews", len(runs)).Msg("orchestration service shut down")
}

func previewActive(h *supervisor.PreviewHandle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}
