package models

import "encoding/json"

// EventType identifies an outward message sent to the rendering client.
type EventType string

const (
	EventPhaseTransition  EventType = "phase_transition"
	EventCodegenStart     EventType = "codegen-start"
	EventCodegenValidated EventType = "codegen-validation-passed"
	EventCodegenLog       EventType = "codegen-log"
	EventCodegenFileTree  EventType = "codegen-file-tree"
	EventCodegenPreview   EventType = "codegen-preview-ready"
	EventCodegenComplete  EventType = "codegen-complete"
	EventCodegenError     EventType = "codegen-error"
	EventCodegenCancelled EventType = "codegen-cancelled"
)

// Event is one message on the outward event stream. Only the fields relevant
// to Type are populated.
type Event struct {
	Type       EventType         `json:"type"`
	Phase      ConversationPhase `json:"phase,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	Chunk      string            `json:"chunk,omitempty"`
	URL        string            `json:"url,omitempty"`
	Duration   *int64            `json:"duration,omitempty"`
	PreviewURL string            `json:"previewUrl,omitempty"`
	RepoPath   string            `json:"repoPath,omitempty"`
	Error      string            `json:"error,omitempty"`
	Tree       *FileTreeNode     `json:"tree,omitempty"`
}

// MarshalJSON always writes sessionId on phase transitions, as null before a
// generation run has been assigned one.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventPhaseTransition {
		return json.Marshal(plain(e))
	}

	var sessionID *string
	if e.SessionID != "" {
		sessionID = &e.SessionID
	}
	return json.Marshal(struct {
		plain
		SessionID *string `json:"sessionId"`
	}{plain: plain(e), SessionID: sessionID})
}

// IsTerminal reports whether the event ends a generation run.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventCodegenComplete, EventCodegenError, EventCodegenCancelled:
		return true
	}
	return false
}

// IsCodegen reports whether the event belongs to a generation run.
func (e Event) IsCodegen() bool {
	return e.Type != EventPhaseTransition
}

func PhaseTransitionEvent(phase ConversationPhase, sessionID string) Event {
	return Event{Type: EventPhaseTransition, Phase: phase, SessionID: sessionID}
}

func StartEvent(sessionID string) Event {
	return Event{Type: EventCodegenStart, SessionID: sessionID}
}

func ValidationPassedEvent() Event {
	return Event{Type: EventCodegenValidated}
}

func LogEvent(chunk string) Event {
	return Event{Type: EventCodegenLog, Chunk: chunk}
}

func FileTreeEvent(tree *FileTreeNode) Event {
	return Event{Type: EventCodegenFileTree, Tree: tree}
}

func PreviewReadyEvent(url string) Event {
	return Event{Type: EventCodegenPreview, URL: url}
}

func CompleteEvent(durationMs int64, previewURL, repoPath string) Event {
	return Event{Type: EventCodegenComplete, Duration: &durationMs, PreviewURL: previewURL, RepoPath: repoPath}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventCodegenError, Error: message}
}

func CancelledEvent() Event {
	return Event{Type: EventCodegenCancelled}
}

// EventSink receives generation events in order.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event Event)

func (f EventSinkFunc) Emit(event Event) { f(event) }

// UpstreamMessage is a JSON control or text message from the speech agent.
type UpstreamMessage struct {
	Type        string `json:"type"`
	Role        string `json:"role,omitempty"`
	Content     string `json:"content,omitempty"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

// Detail returns the human-readable text of an error message.
func (m UpstreamMessage) Detail() string {
	switch {
	case m.Description != "":
		return m.Description
	case m.Message != "":
		return m.Message
	default:
		return "unspecified error"
	}
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
