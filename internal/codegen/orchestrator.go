// Package codegen turns an approved specification into a materialized project
// with a running preview, streaming lifecycle events as it goes.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

// Generator calls the code generation model once and returns its raw text.
type Generator interface {
	Provider() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// PreviewStarter installs and serves a materialized project.
type PreviewStarter interface {
	Start(ctx context.Context, projectDir string, onLog func(string)) (*supervisor.PreviewHandle, error)
}

// RunRecorder persists run history. Errors are logged and never fail a run.
type RunRecorder interface {
	RecordStarted(ctx context.Context, sessionID, projectName, provider string) error
	RecordFinished(ctx context.Context, sessionID string, result *models.GenerationResult, runErr error) error
}

// Outcome is what a successful run hands back to its caller.
type Outcome struct {
	Result  *models.GenerationResult
	Preview *supervisor.PreviewHandle
}

// Orchestrator runs generation for one session at a time; separate sessions
// may share an Orchestrator.
type Orchestrator struct {
	root      string
	generator Generator
	previews  PreviewStarter
	metrics   *metrics.GenerationMetrics
	recorder  RunRecorder
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run metrics.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRecorder persists run history.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New creates an orchestrator writing projects under root.
func New(root string, generator Generator, previews PreviewStarter, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:      root,
		generator: generator,
		previews:  previews,
		tracer:    otel.Tracer("codegen-orchestrator"),
		logger:    logger.With().Str("component", "codegen").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run generates, materializes and serves the project for spec. Exactly one
// terminal event (complete, error or cancelled) is emitted to sink, and nothing
// after it. Cancelling ctx stops the preview if it was started and returns
// models.ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, spec *models.Specification, sessionID string, sink models.EventSink) (*Outcome, error) {
	started := time.Now()
	provider := o.generator.Provider()
	guard := &terminalSink{next: sink}
	logger := o.logger.With().Str("session_id", sessionID).Str("provider", provider).Logger()

	ctx, span := o.tracer.Start(ctx, "codegen.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("project_name", spec.ProjectName),
		attribute.String("model.provider", provider),
	)

	guard.Emit(models.StartEvent(sessionID))
	if o.metrics != nil {
		o.metrics.RecordRunStarted(ctx, provider)
	}
	if o.recorder != nil {
		if err := o.recorder.RecordStarted(ctx, sessionID, spec.ProjectName, provider); err != nil {
			logger.Warn().Err(err).Msg("failed to record run start")
		}
	}

	outcome, err := o.run(ctx, spec, sessionID, guard, started, logger)
	duration := time.Since(started)
	finishCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		logger.Info().
			Str("preview_url", outcome.Result.PreviewURL).
			Str("repo_path", outcome.Result.RepoPath).
			Dur("duration", duration).
			Msg("generation run complete")
		if o.metrics != nil {
			o.metrics.RecordRunCompleted(finishCtx, provider, duration)
		}
	case ctx.Err() != nil || errors.Is(err, models.ErrCancelled):
		err = models.ErrCancelled
		guard.Emit(models.CancelledEvent())
		logger.Info().Dur("duration", duration).Msg("generation run cancelled")
		if o.metrics != nil {
			o.metrics.RecordRunCancelled(finishCtx, provider, duration)
		}
	default:
		code := models.ErrorCode(err)
		guard.Emit(models.ErrorEvent(models.ClientMessage(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		logger.Error().Err(err).Str("error_code", code).Dur("duration", duration).Msg("generation run failed")
		if o.metrics != nil {
			o.metrics.RecordRunFailed(finishCtx, provider, code, duration)
		}
	}

	if o.recorder != nil {
		var result *models.GenerationResult
		if outcome != nil {
			result = outcome.Result
		}
		if recErr := o.recorder.RecordFinished(finishCtx, sessionID, result, err); recErr != nil {
			logger.Warn().Err(recErr).Msg("failed to record run finish")
		}
	}

	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context, spec *models.Specification, sessionID string, sink models.EventSink, started time.Time, logger zerolog.Logger) (*Outcome, error) {
	prompt, err := BuildPrompt(spec)
	if err != nil {
		return nil, err
	}

	raw, err := o.generator.Generate(ctx, SystemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var callErr *models.ModelCallFailedError
		if !errors.As(err, &callErr) {
			err = &models.ModelCallFailedError{Provider: o.generator.Provider(), Err: err}
		}
		return nil, err
	}

	files, strategy, err := ParseFiles(raw)
	if err != nil {
		var parseErr *models.UnparseableOutputError
		if errors.As(err, &parseErr) {
			logger.Debug().Str("preview", parseErr.Preview).Msg("unparseable model output")
		}
		return nil, err
	}
	files, err = ValidateFiles(files)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("strategy", strategy).Int("files", len(files)).Msg("model output parsed")
	sink.Emit(models.ValidationPassedEvent())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repoPath, err := Materialize(o.root, sessionID, files, func(rel string) {
		sink.Emit(models.LogEvent(fmt.Sprintf("wrote %s\n", rel)))
	})
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordFilesWritten(ctx, o.generator.Provider(), strategy, len(files))
	}

	tree, err := BuildFileTree(repoPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build file tree")
	} else {
		sink.Emit(models.FileTreeEvent(tree))
	}

	preview, err := o.previews.Start(ctx, repoPath, func(chunk string) {
		sink.Emit(models.LogEvent(chunk))
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		preview.Stop()
		return nil, err
	}

	sink.Emit(models.PreviewReadyEvent(preview.URL))
	durationMs := time.Since(started).Milliseconds()
	sink.Emit(models.CompleteEvent(durationMs, preview.URL, repoPath))

	return &Outcome{
		Result: &models.GenerationResult{
			SessionID:  sessionID,
			PreviewURL: preview.URL,
			RepoPath:   repoPath,
			DurationMs: durationMs,
			Tree:       tree,
		},
		Preview: preview,
	}, nil
}

// terminalSink forwards events until the first terminal one and drops the rest.
type terminalSink struct {
	mu   sync.Mutex
	next models.EventSink
	done bool
}

func (s *terminalSink) Emit(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if e.IsTerminal() {
		s.done = true
	}
	s.next.Emit(e)
}
