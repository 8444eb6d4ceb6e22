package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
	ErrCodeNoPortAvailable       = "NO_PORT_AVAILABLE"
	ErrCodeInstallFailed         = "INSTALL_FAILED"
	ErrCodeServeFailed           = "SERVE_FAILED_BEFORE_READY"
	ErrCodePreviewTimeout        = "PREVIEW_TIMEOUT"
	ErrCodeModelCallFailed       = "MODEL_CALL_FAILED"
	ErrCodeUnparseableGeneration = "UNPARSEABLE_GENERATION_OUTPUT"
	ErrCodeCancelled             = "CANCELLED"
)

var (
	// ErrNoPortAvailable is returned when every port in the probe range is taken.
	ErrNoPortAvailable = errors.New("no port available in configured range")
	// ErrCancelled marks a generation run stopped by its caller.
	ErrCancelled = errors.New("generation run cancelled")
	// ErrStreamClosed is returned when an output stream ends before a readiness signal.
	ErrStreamClosed = errors.New("output stream closed before ready")
	// ErrFailureReported is returned when process output announces a failure before a readiness signal.
	ErrFailureReported = errors.New("process reported a failure before ready")
)

// InstallFailedError reports a failed or timed out install step.
type InstallFailedError struct {
	ExitCode int
	TimedOut bool
	LogTail  string
}

func (e *InstallFailedError) Error() string {
	if e.TimedOut {
		return "install timed out"
	}
	return fmt.Sprintf("install failed with exit code %d", e.ExitCode)
}

// ServeFailedBeforeReadyError reports a serve process that exited before signalling readiness.
type ServeFailedBeforeReadyError struct {
	ExitCode int
	LogTail  string
}

func (e *ServeFailedBeforeReadyError) Error() string {
	return fmt.Sprintf("dev server exited with code %d before becoming ready", e.ExitCode)
}

// PreviewTimeoutError reports a serve process that never signalled readiness in time.
type PreviewTimeoutError struct {
	Port    int
	LogTail string
}

func (e *PreviewTimeoutError) Error() string {
	return fmt.Sprintf("dev server on port %d did not become ready in time", e.Port)
}

// ModelCallFailedError wraps a transport or auth failure from the generation model.
type ModelCallFailedError struct {
	Provider string
	Err      error
}

func (e *ModelCallFailedError) Error() string {
	return fmt.Sprintf("%s generation call failed: %v", e.Provider, e.Err)
}

func (e *ModelCallFailedError) Unwrap() error { return e.Err }

// UnparseableOutputError is returned when every parse strategy failed on the model payload.
// Preview holds a truncated excerpt of the raw payload for logs only.
type UnparseableOutputError struct {
	Reason  string
	Preview string
}

func (e *UnparseableOutputError) Error() string {
	if e.Reason == "" {
		return "model output could not be parsed into a file set"
	}
	return fmt.Sprintf("model output could not be parsed into a file set: %s", e.Reason)
}

// ErrorCode maps an error to a stable code used in metrics, history and client messages.
func ErrorCode(err error) string {
	var (
		installErr *InstallFailedError
		serveErr   *ServeFailedBeforeReadyError
		timeoutErr *PreviewTimeoutError
		modelErr   *ModelCallFailedError
		parseErr   *UnparseableOutputError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case errors.Is(err, ErrNoPortAvailable):
		return ErrCodeNoPortAvailable
	case errors.As(err, &installErr):
		return ErrCodeInstallFailed
	case errors.As(err, &serveErr):
		return ErrCodeServeFailed
	case errors.As(err, &timeoutErr):
		return ErrCodePreviewTimeout
	case errors.As(err, &modelErr):
		return ErrCodeModelCallFailed
	case errors.As(err, &parseErr):
		return ErrCodeUnparseableGeneration
	default:
		return ErrCodeInternalError
	}
}

// ClientMessage renders an error for the outward event stream. Log tails are
// included for process failures; raw model output never is.
func ClientMessage(err error) string {
	var (
		installErr *InstallFailedError
		serveErr   *ServeFailedBeforeReadyError
		timeoutErr *PreviewTimeoutError
	)
	msg := fmt.Sprintf("%s: %v", ErrorCode(err), err)
	switch {
	case errors.Is(err, ErrNoPortAvailable):
		return ErrCodeNoPortAvailable + ": no free port for the preview server, try again later"
	case errors.As(err, &installErr) && installErr.LogTail != "":
		return msg + "\n" + installErr.LogTail
	case errors.As(err, &serveErr) && serveErr.LogTail != "":
		return msg + "\n" + serveErr.LogTail
	case errors.As(err, &timeoutErr) && timeoutErr.LogTail != "":
		return msg + "\n" + timeoutErr.LogTail
	}
	return msg
}
