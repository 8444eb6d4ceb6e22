package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulC-DG/VoiceCreation/internal/auth"
	"github.com/RahulC-DG/VoiceCreation/internal/codegen"
	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
	"github.com/RahulC-DG/VoiceCreation/internal/store"
)

const specYAML = "```yaml\n" +
	"project_name: Habit Tracker\n" +
	"project_description: Track daily habits\n" +
	"users: [me]\n" +
	"goal: [build streaks]\n" +
	"features: [check off habits]\n" +
	"tech_stack: {frontend: React}\n" +
	"ui_style: playful\n" +
	"```"

// stubRunner completes every run immediately.
type stubRunner struct {
	repoPath string
}

func (r *stubRunner) Run(ctx context.Context, spec *models.Specification, sessionID string, sink models.EventSink) (*codegen.Outcome, error) {
	sink.Emit(models.StartEvent(sessionID))
	result := &models.GenerationResult{
		SessionID:  sessionID,
		PreviewURL: "http://localhost:5173",
		RepoPath:   r.repoPath,
		DurationMs: 5,
	}
	sink.Emit(models.CompleteEvent(result.DurationMs, result.PreviewURL, result.RepoPath))
	return &codegen.Outcome{Result: result}, nil
}

// MockSpeechAgentClient dials a test upstream server
type MockSpeechAgentClient struct {
	url        string
	connectErr error
	healthy    bool
}

func (m *MockSpeechAgentClient) Connect(ctx context.Context) (*websocket.Conn, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	return conn, err
}

func (m *MockSpeechAgentClient) IsHealthy(ctx context.Context) bool {
	return m.healthy
}

type testGateway struct {
	server  *httptest.Server
	service *orchestration.Service
	metrics *metrics.SessionMetrics
	jwt     *auth.JWTManager
}

func newTestGateway(t *testing.T, speechAgent orchestration.SpeechAgentClientInterface, jwtManager *auth.JWTManager, repoPath string) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewSessionMetrics()
	svc := orchestration.NewService(&stubRunner{repoPath: repoPath}, speechAgent, store.NewRunStore(nil, zerolog.Nop()), m, zerolog.Nop())
	proxy := NewSessionProxy(svc, jwtManager, m, nil, zerolog.Nop())
	router := NewRouter(NewHandler(svc, zerolog.Nop()), proxy, m, jwtManager, zerolog.Nop())

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		svc.Shutdown()
	})
	return &testGateway{server: server, service: svc, metrics: m, jwt: jwtManager}
}

func (g *testGateway) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/session"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dialSession(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil collects text frames until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s, got %v", wantType, frames)
		if messageType != websocket.TextMessage {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
		if frame["type"] == wantType {
			return frames
		}
	}
}

func phasesOf(frames []map[string]any) []string {
	var phases []string
	for _, f := range frames {
		if f["type"] == string(models.EventPhaseTransition) {
			phases = append(phases, f["phase"].(string))
		}
	}
	return phases
}

func TestSessionProxy_TextOnlySession(t *testing.T) {
	gw := newTestGateway(t, nil, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	sendJSON(t, conn, map[string]string{"type": "text", "role": "assistant", "content": "Here is the plan:\n" + specYAML})
	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, "text", frames[0]["type"])
	assert.Equal(t, []string{"PromptReview"}, phasesOf(frames))
	reviewFrame := frames[len(frames)-1]
	assert.Contains(t, reviewFrame, "sessionId")
	assert.Nil(t, reviewFrame["sessionId"])

	sendJSON(t, conn, map[string]string{"type": "text", "role": "user", "content": "Looks good, let's build it"})
	frames = readUntil(t, conn, string(models.EventCodegenComplete))
	assert.Equal(t, []string{"Transitioning", "CodeGeneration"}, phasesOf(frames))

	var sessionID string
	for _, f := range frames {
		if f["type"] == string(models.EventCodegenStart) {
			sessionID = f["sessionId"].(string)
		}
	}
	require.NotEmpty(t, sessionID)

	require.Eventually(t, func() bool {
		_, err := gw.service.GetRun(sessionID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionProxy_ResetControl(t *testing.T) {
	gw := newTestGateway(t, nil, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	sendJSON(t, conn, map[string]string{"type": "text", "role": "assistant", "content": specYAML})
	readUntil(t, conn, string(models.EventPhaseTransition))

	sendJSON(t, conn, map[string]string{"type": "reset"})
	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"Ideation"}, phasesOf(frames))

	sendJSON(t, conn, map[string]string{"type": "cancel"})
	sendJSON(t, conn, map[string]string{"type": "text", "role": "user", "content": "yes"})
	frames = readUntil(t, conn, "text")
	assert.Empty(t, phasesOf(frames))
}

func TestSessionProxy_RelaysUpstream(t *testing.T) {
	fromClient := make(chan []byte, 4)
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteJSON(map[string]string{"type": "text", "role": "assistant", "content": specYAML})
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				fromClient <- data
			}
		}
	}))
	defer upstream.Close()

	agent := &MockSpeechAgentClient{url: "ws" + strings.TrimPrefix(upstream.URL, "http"), healthy: true}
	gw := newTestGateway(t, agent, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, "text", frames[0]["type"])
	assert.Equal(t, "assistant", frames[0]["role"])
	assert.Equal(t, []string{"PromptReview"}, phasesOf(frames))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA, 0xBB, 0xCC}))
	select {
	case got := <-fromClient:
		assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("audio frame was not relayed upstream")
	}

	assert.Equal(t, 1.0, counterValue(t, gw.metrics, "voicecreation_relayed_frames_total", map[string]string{"direction": toUpstream, "kind": kindBinary}))
}

func TestSessionProxy_UpstreamCloseResetsSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]string{"type": "text", "role": "assistant", "content": specYAML})
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}))
	defer upstream.Close()

	agent := &MockSpeechAgentClient{url: "ws" + strings.TrimPrefix(upstream.URL, "http"), healthy: true}
	gw := newTestGateway(t, agent, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"PromptReview"}, phasesOf(frames))
	frames = readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"Ideation"}, phasesOf(frames))

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return gw.service.ActiveSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionProxy_UpstreamErrorEndsSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]string{"type": "text", "role": "assistant", "content": specYAML})
		time.Sleep(50 * time.Millisecond)
		_ = conn.WriteJSON(map[string]string{"type": "Error", "description": "agent failed"})
		// Keep the socket open: the error message alone must end the session.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	agent := &MockSpeechAgentClient{url: "ws" + strings.TrimPrefix(upstream.URL, "http"), healthy: true}
	gw := newTestGateway(t, agent, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"PromptReview"}, phasesOf(frames))

	frames = readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"Ideation"}, phasesOf(frames))
	assert.Equal(t, "Error", frames[0]["type"], "agent error is relayed before the reset")
	assert.Equal(t, "agent failed", frames[0]["description"])

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return gw.service.ActiveSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, counterValue(t, gw.metrics, "voicecreation_upstream_errors_total", nil))
}

func TestSessionProxy_UpstreamUnavailable(t *testing.T) {
	agent := &MockSpeechAgentClient{connectErr: errors.New("dial refused")}
	gw := newTestGateway(t, agent, nil, t.TempDir())
	conn := dialSession(t, gw.wsURL(""))

	frames := readUntil(t, conn, "error")
	assert.Equal(t, "Failed to connect to speech agent", frames[len(frames)-1]["error"])
	assert.Equal(t, 0, gw.service.ActiveSessions())
}

func TestSessionProxy_Authentication(t *testing.T) {
	jm, err := auth.NewJWTManager("test-secret", zerolog.Nop())
	require.NoError(t, err)
	gw := newTestGateway(t, nil, jm, t.TempDir())

	_, resp, err := websocket.DefaultDialer.Dial(gw.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jm.GenerateToken(context.Background(), "user-1", "ada", time.Hour)
	require.NoError(t, err)
	conn := dialSession(t, gw.wsURL("token="+token))
	sendJSON(t, conn, map[string]string{"type": "text", "role": "assistant", "content": specYAML})
	frames := readUntil(t, conn, string(models.EventPhaseTransition))
	assert.Equal(t, []string{"PromptReview"}, phasesOf(frames))
}

func TestSessionProxy_OriginCheck(t *testing.T) {
	svc := orchestration.NewService(&stubRunner{}, nil, store.NewRunStore(nil, zerolog.Nop()), nil, zerolog.Nop())
	proxy := NewSessionProxy(svc, nil, nil, []string{"https://app.example.com"}, zerolog.Nop())

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "https://app.example.com", want: true},
		{origin: "https://evil.example.com", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
			req.Header.Set("Origin", tt.origin)
			assert.Equal(t, tt.want, proxy.upgrader.CheckOrigin(req))
		})
	}
}

func TestHandler_Endpoints(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "main.tsx"), []byte("export {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "package.json"), []byte("{}"), 0o644))

	gw := newTestGateway(t, nil, nil, repo)
	conn := dialSession(t, gw.wsURL(""))
	sendJSON(t, conn, map[string]string{"type": "text", "role": "assistant", "content": specYAML})
	sendJSON(t, conn, map[string]string{"type": "text", "role": "user", "content": "approved"})
	frames := readUntil(t, conn, string(models.EventCodegenComplete))
	require.Equal(t, repo, frames[len(frames)-1]["repoPath"])

	var id string
	for _, f := range frames {
		if f["type"] == string(models.EventCodegenStart) {
			id = f["sessionId"].(string)
		}
	}
	require.Eventually(t, func() bool {
		_, err := gw.service.GetRun(id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		check      func(t *testing.T, body string)
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, `"status":"healthy"`)
		}},
		{name: "openapi", method: http.MethodGet, path: "/openapi.json", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, "/api/sessions/{id}/tree")
		}},
		{name: "swagger ui", method: http.MethodGet, path: "/swagger/index.html", wantStatus: http.StatusOK},
		{name: "swagger doc", method: http.MethodGet, path: "/swagger/doc.json", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, "/ws/session")
		}},
		{name: "ready", method: http.MethodGet, path: "/ready", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, "voicecreation_phase_transitions_total")
		}},
		{name: "session", method: http.MethodGet, path: "/api/sessions/" + id, wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, `"previewUrl":"http://localhost:5173"`)
			assert.Contains(t, body, `"previewActive":false`)
		}},
		{name: "tree", method: http.MethodGet, path: "/api/sessions/" + id + "/tree", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.Contains(t, body, `"name":"src"`)
			assert.Contains(t, body, `"name":"main.tsx"`)
		}},
		{name: "stop", method: http.MethodPost, path: "/api/sessions/" + id + "/stop", wantStatus: http.StatusOK},
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/missing", wantStatus: http.StatusNotFound, check: func(t *testing.T, body string) {
			assert.Contains(t, body, models.ErrCodeNotFound)
		}},
		{name: "unknown tree", method: http.MethodGet, path: "/api/sessions/missing/tree", wantStatus: http.StatusNotFound},
		{name: "unknown stop", method: http.MethodPost, path: "/api/sessions/missing/stop", wantStatus: http.StatusNotFound},
		{name: "runs", method: http.MethodGet, path: "/api/runs?limit=5", wantStatus: http.StatusOK, check: func(t *testing.T, body string) {
			assert.JSONEq(t, `{"runs":[]}`, body)
		}},
		{name: "runs bad limit", method: http.MethodGet, path: "/api/runs?limit=zero", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, gw.server.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body strings.Builder
			_, _ = io.Copy(&body, resp.Body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body.String())
			if tt.check != nil {
				tt.check(t, body.String())
			}
		})
	}
}

func TestHandler_ReadyWithUnhealthyAgent(t *testing.T) {
	gw := newTestGateway(t, &MockSpeechAgentClient{healthy: false}, nil, t.TempDir())

	resp, err := http.Get(gw.server.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandler_APIRequiresToken(t *testing.T) {
	jm, err := auth.NewJWTManager("test-secret", zerolog.Nop())
	require.NoError(t, err)
	gw := newTestGateway(t, nil, jm, t.TempDir())

	resp, err := http.Get(gw.server.URL + "/api/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(gw.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func counterValue(t *testing.T, m *metrics.SessionMetrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metricLoop
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
