package codegen

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

const (
	testPortStart = 25000
	testPortEnd   = 25100
)

type fakeGenerator struct {
	response string
	err      error
	block    bool

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGenerator) Provider() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) Emit(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *eventRecorder) types() []models.EventType {
	var out []models.EventType
	for _, e := range r.snapshot() {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, typ models.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range r.snapshot() {
			if e.Type == typ {
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []error
}

func (f *fakeRecorder) RecordStarted(_ context.Context, sessionID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	return nil
}

func (f *fakeRecorder) RecordFinished(_ context.Context, _ string, _ *models.GenerationResult, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, runErr)
	return errors.New("store unavailable")
}

func todoSpec() *models.Specification {
	return &models.Specification{
		ProjectName:        "Todo App",
		ProjectDescription: "Track todos",
		Users:              []string{"me"},
		Goal:               []string{"get things done"},
		Features:           []string{"add todo"},
		TechStack:          map[string]string{"frontend": "X"},
		UIStyle:            "clean",
	}
}

func newSupervisor(install, serve string) *supervisor.Supervisor {
	cfg := supervisor.Config{
		ServeCommand:   []string{"sh", "-c", serve},
		PortRangeStart: testPortStart,
		PortRangeEnd:   testPortEnd,
		InstallTimeout: 10 * time.Second,
		ReadyTimeout:   5 * time.Second,
		ReadyKeywords:  []string{"ready"},
	}
	if install != "" {
		cfg.InstallCommand = []string{"sh", "-c", install}
	}
	return supervisor.New(cfg, zerolog.Nop())
}

func indexOf(types []models.EventType, typ models.EventType) int {
	for i, t := range types {
		if t == typ {
			return i
		}
	}
	return -1
}

func assertSingleTerminal(t *testing.T, events []models.Event) {
	t.Helper()
	terminal := 0
	for i, e := range events {
		if e.IsTerminal() {
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	root := t.TempDir()
	gen := &fakeGenerator{response: `{"files":[{"path":"index.txt","content":"hello"}]}`}
	sink := &eventRecorder{}
	orch := New(root, gen, newSupervisor("", "echo ready on {port}; while true; do echo tick; sleep 0.05; done"), zerolog.Nop())

	outcome, err := orch.Run(context.Background(), todoSpec(), "sess-e2e", sink)
	require.NoError(t, err)
	t.Cleanup(outcome.Preview.Stop)

	assert.Equal(t, map[string]string{"index.txt": "hello"}, listFiles(t, outcome.Result.RepoPath))
	assert.Equal(t, "sess-e2e", outcome.Result.SessionID)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "project_name: Todo App")

	// The dev server keeps printing after readiness; none of it may follow the terminal event.
	time.Sleep(300 * time.Millisecond)
	events := sink.snapshot()
	types := sink.types()

	assert.Equal(t, models.EventCodegenStart, types[0])
	assert.Equal(t, "sess-e2e", events[0].SessionID)

	validated := indexOf(types, models.EventCodegenValidated)
	firstLog := indexOf(types, models.EventCodegenLog)
	require.GreaterOrEqual(t, validated, 0)
	require.GreaterOrEqual(t, firstLog, 0)
	assert.Less(t, validated, firstLog)
	assert.Equal(t, "wrote index.txt\n", events[firstLog].Chunk)
	assert.GreaterOrEqual(t, indexOf(types, models.EventCodegenFileTree), 0)

	preview := indexOf(types, models.EventCodegenPreview)
	require.GreaterOrEqual(t, preview, 0)
	m := regexp.MustCompile(`^http://localhost:(\d+)$`).FindStringSubmatch(events[preview].URL)
	require.Len(t, m, 2)
	port, _ := strconv.Atoi(m[1])
	assert.GreaterOrEqual(t, port, testPortStart)
	assert.LessOrEqual(t, port, testPortEnd)

	last := events[len(events)-1]
	assert.Equal(t, models.EventCodegenComplete, last.Type)
	assert.Equal(t, events[preview].URL, last.PreviewURL)
	assert.Equal(t, outcome.Result.RepoPath, last.RepoPath)
	require.NotNil(t, last.Duration)
	assert.GreaterOrEqual(t, *last.Duration, int64(0))
	assertSingleTerminal(t, events)
}

func TestOrchestrator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		gen       *fakeGenerator
		install   string
		serve     string
		code      string
		contains  string
		validated bool
	}{
		{
			name:     "model call failure",
			gen:      &fakeGenerator{err: errors.New("401 unauthorized")},
			serve:    "echo ready",
			code:     models.ErrCodeModelCallFailed,
			contains: "401 unauthorized",
		},
		{
			name:  "unparseable output",
			gen:   &fakeGenerator{response: "I'm sorry, I can only describe the app."},
			serve: "echo ready",
			code:  models.ErrCodeUnparseableGeneration,
		},
		{
			name:      "install failure",
			gen:       &fakeGenerator{response: `{"files":[{"path":"a.txt","content":"a"}]}`},
			install:   "echo npm ERR! missing script; exit 3",
			serve:     "echo ready",
			code:      models.ErrCodeInstallFailed,
			contains:  "npm ERR! missing script",
			validated: true,
		},
		{
			name:      "serve exits before ready",
			gen:       &fakeGenerator{response: `{"files":[{"path":"a.txt","content":"a"}]}`},
			serve:     "echo vite crashed; exit 1",
			code:      models.ErrCodeServeFailed,
			contains:  "vite crashed",
			validated: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &eventRecorder{}
			recorder := &fakeRecorder{}
			orch := New(t.TempDir(), tt.gen, newSupervisor(tt.install, tt.serve), zerolog.Nop(), WithRecorder(recorder))

			outcome, err := orch.Run(context.Background(), todoSpec(), "sess-fail", sink)
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.Equal(t, tt.code, models.ErrorCode(err))

			events := sink.snapshot()
			last := events[len(events)-1]
			assert.Equal(t, models.EventCodegenError, last.Type)
			assert.Contains(t, last.Error, tt.code)
			if tt.contains != "" {
				assert.Contains(t, last.Error, tt.contains)
			}
			assert.Equal(t, tt.validated, indexOf(sink.types(), models.EventCodegenValidated) >= 0)
			assertSingleTerminal(t, events)

			assert.Equal(t, []string{"sess-fail"}, recorder.started)
			require.Len(t, recorder.finished, 1)
			assert.Equal(t, tt.code, models.ErrorCode(recorder.finished[0]))
		})
	}
}

func TestOrchestrator_UnparseableNeverLeaksRawOutput(t *testing.T) {
	sink := &eventRecorder{}
	gen := &fakeGenerator{response: "SECRET-RAW-OUTPUT without any json"}
	orch := New(t.TempDir(), gen, newSupervisor("", "echo ready"), zerolog.Nop())

	_, err := orch.Run(context.Background(), todoSpec(), "sess-raw", sink)
	require.Error(t, err)

	for _, e := range sink.snapshot() {
		assert.NotContains(t, e.Error, "SECRET-RAW-OUTPUT")
	}
}

func TestOrchestrator_CancelDuringModelCall(t *testing.T) {
	sink := &eventRecorder{}
	orch := New(t.TempDir(), &fakeGenerator{block: true}, newSupervisor("", "echo ready"), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx, todoSpec(), "sess-cancel", sink)
		errCh <- err
	}()

	sink.waitFor(t, models.EventCodegenStart)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, models.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, []models.EventType{models.EventCodegenStart, models.EventCodegenCancelled}, sink.types())
}

func TestOrchestrator_CancelWhileServing(t *testing.T) {
	sink := &eventRecorder{}
	root := t.TempDir()
	gen := &fakeGenerator{response: `{"files":[{"path":"a.txt","content":"a"}]}`}
	orch := New(root, gen, newSupervisor("", "echo starting; sleep 30"), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx, todoSpec(), "sess-serve", sink)
		errCh <- err
	}()

	sink.waitFor(t, models.EventCodegenFileTree)
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, models.ErrCancelled)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	events := sink.snapshot()
	assert.Equal(t, models.EventCodegenCancelled, events[len(events)-1].Type)
	assertSingleTerminal(t, events)

	_, statErr := os.Stat(RepoPath(root, "sess-serve"))
	assert.NoError(t, statErr)
}

func TestTerminalSink(t *testing.T) {
	rec := &eventRecorder{}
	sink := &terminalSink{next: rec}

	sink.Emit(models.StartEvent("s"))
	sink.Emit(models.ErrorEvent("boom"))
	sink.Emit(models.LogEvent("late"))
	sink.Emit(models.CompleteEvent(1, "u", "r"))

	assert.Equal(t, []models.EventType{models.EventCodegenStart, models.EventCodegenError}, rec.types())
}
