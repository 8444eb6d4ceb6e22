// Package supervisor installs and serves a generated project and reports when
// its dev server is ready.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/readiness"
)

// PortPlaceholder is replaced with the acquired port in serve command arguments.
const PortPlaceholder = "{port}"

const stopGracePeriod = 5 * time.Second

// Config holds the commands and limits used to run a preview.
type Config struct {
	InstallCommand []string
	ServeCommand   []string
	PortRangeStart int
	PortRangeEnd   int
	InstallTimeout time.Duration
	ReadyTimeout   time.Duration
	ReadyKeywords  []string
	Host           string
}

// DefaultConfig returns settings for a Vite-style npm project.
func DefaultConfig() Config {
	return Config{
		InstallCommand: []string{"npm", "install"},
		ServeCommand:   []string{"npm", "run", "dev", "--", "--port", PortPlaceholder, "--strictPort"},
		PortRangeStart: 5173,
		PortRangeEnd:   5273,
		InstallTimeout: 5 * time.Minute,
		ReadyTimeout:   2 * time.Minute,
		ReadyKeywords:  []string{"ready", "Local:"},
		Host:           "localhost",
	}
}

// PreviewHandle is a running dev server.
type PreviewHandle struct {
	URL  string
	Port int

	cmd      *exec.Cmd
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// Stop terminates the dev server process tree if it is still running. It is
// safe to call more than once.
func (h *PreviewHandle) Stop() {
	h.stopOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		if err := terminateProcessGroup(h.cmd); err != nil {
			h.logger.Warn().Err(err).Int("port", h.Port).Msg("failed to terminate dev server")
		}

		go func() {
			select {
			case <-h.done:
			case <-time.After(stopGracePeriod):
				h.logger.Warn().Int("port", h.Port).Msg("dev server ignored SIGTERM, killing")
				_ = killProcessGroup(h.cmd)
			}
		}()
	})
}

// Done is closed when the dev server process exits.
func (h *PreviewHandle) Done() <-chan struct{} {
	return h.done
}

// Supervisor runs install and serve commands for generated projects.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a supervisor.
func New(cfg Config, logger zerolog.Logger) *Supervisor {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// Start installs dependencies in projectDir and launches the dev server,
// returning once the server reports readiness. Every output chunk from both
// steps is passed to onLog in order. The server keeps running after Start
// returns; release it with PreviewHandle.Stop.
func (s *Supervisor) Start(ctx context.Context, projectDir string, onLog func(string)) (*PreviewHandle, error) {
	if onLog == nil {
		onLog = func(string) {}
	}
	if len(s.cfg.ServeCommand) == 0 {
		return nil, fmt.Errorf("no serve command configured")
	}

	port, err := readiness.FindOpenPort(s.cfg.PortRangeStart, s.cfg.PortRangeEnd)
	if err != nil {
		return nil, err
	}

	if err := s.install(ctx, projectDir, onLog); err != nil {
		return nil, err
	}

	handle, err := s.serve(ctx, projectDir, port, onLog)

	var serveErr *models.ServeFailedBeforeReadyError
	if errors.As(err, &serveErr) && addressInUse(serveErr.LogTail) {
		s.logger.Warn().Int("port", port).Msg("port taken before dev server bound it, probing again")
		port, err = s.portAfter(port)
		if err != nil {
			return nil, err
		}
		handle, err = s.serve(ctx, projectDir, port, onLog)
	}
	return handle, err
}

// portAfter finds an open port other than taken, searching above it first
// and wrapping to the start of the range.
func (s *Supervisor) portAfter(taken int) (int, error) {
	if taken < s.cfg.PortRangeEnd {
		port, err := readiness.FindOpenPort(taken+1, s.cfg.PortRangeEnd)
		if !errors.Is(err, models.ErrNoPortAvailable) {
			return port, err
		}
	}
	if taken > s.cfg.PortRangeStart {
		return readiness.FindOpenPort(s.cfg.PortRangeStart, taken-1)
	}
	return 0, fmt.Errorf("ports %d-%d: %w", s.cfg.PortRangeStart, s.cfg.PortRangeEnd, models.ErrNoPortAvailable)
}

func (s *Supervisor) install(ctx context.Context, dir string, onLog func(string)) error {
	if len(s.cfg.InstallCommand) == 0 {
		return nil
	}

	installCtx := ctx
	if s.cfg.InstallTimeout > 0 {
		var cancel context.CancelFunc
		installCtx, cancel = context.WithTimeout(ctx, s.cfg.InstallTimeout)
		defer cancel()
	}

	args := s.cfg.InstallCommand
	cmd := exec.CommandContext(installCtx, args[0], args[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = stopGracePeriod

	out := newOutputWriter(onLog, 0)
	cmd.Stdout = out
	cmd.Stderr = out

	s.logger.Info().Str("dir", dir).Strs("command", args).Msg("running install")
	start := time.Now()
	err := cmd.Run()
	if err == nil {
		s.logger.Info().Dur("elapsed", time.Since(start)).Msg("install finished")
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(installCtx.Err(), context.DeadlineExceeded) {
		return &models.InstallFailedError{ExitCode: -1, TimedOut: true, LogTail: out.Tail()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &models.InstallFailedError{ExitCode: exitErr.ExitCode(), LogTail: out.Tail()}
	}
	return &models.InstallFailedError{ExitCode: -1, LogTail: err.Error()}
}

func (s *Supervisor) serve(ctx context.Context, dir string, port int, onLog func(string)) (*PreviewHandle, error) {
	args := substitutePort(s.cfg.ServeCommand, port)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	setProcessGroup(cmd)
	cmd.WaitDelay = stopGracePeriod

	chunks := make(chan string, 64)
	readyDone := make(chan struct{})
	out := newOutputWriter(onLog, 0)
	out.tee = func(chunk string) {
		select {
		case chunks <- chunk:
		case <-readyDone:
		}
	}
	cmd.Stdout = out
	cmd.Stderr = out

	s.logger.Info().Str("dir", dir).Strs("command", args).Int("port", port).Msg("starting dev server")
	if err := cmd.Start(); err != nil {
		return nil, &models.ServeFailedBeforeReadyError{ExitCode: -1, LogTail: err.Error()}
	}

	handle := &PreviewHandle{
		URL:    fmt.Sprintf("http://%s:%d", s.cfg.Host, port),
		Port:   port,
		cmd:    cmd,
		done:   make(chan struct{}),
		logger: s.logger,
	}

	exitCode := 0
	go func() {
		err := cmd.Wait()
		exitCode = cmd.ProcessState.ExitCode()
		if err != nil {
			s.logger.Debug().Err(err).Int("port", port).Msg("dev server exited")
		}
		close(chunks)
		close(handle.done)
	}()

	waitCtx := ctx
	if s.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadyTimeout)
		defer cancel()
	}

	err := readiness.WaitForReadyOrFailure(waitCtx, chunks,
		readiness.KeywordMatcher(port, s.cfg.ReadyKeywords...), addressInUse)
	close(readyDone)

	switch {
	case err == nil:
		s.logger.Info().Str("url", handle.URL).Msg("dev server ready")
		return handle, nil
	case errors.Is(err, models.ErrFailureReported):
		s.logger.Warn().Int("port", port).Msg("dev server reported a bind failure")
		handle.Stop()
		<-handle.done
		return nil, &models.ServeFailedBeforeReadyError{ExitCode: exitCode, LogTail: out.Tail()}
	case errors.Is(err, models.ErrStreamClosed):
		<-handle.done
		return nil, &models.ServeFailedBeforeReadyError{ExitCode: exitCode, LogTail: out.Tail()}
	case ctx.Err() != nil:
		handle.Stop()
		return nil, ctx.Err()
	default:
		handle.Stop()
		return nil, &models.PreviewTimeoutError{Port: port, LogTail: out.Tail()}
	}
}

func substitutePort(args []string, port int) []string {
	p := strconv.Itoa(port)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, PortPlaceholder, p)
	}
	return out
}
