package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
)

// Standard errors returned by use cases and adapters.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrNotInitialized   = errors.New("server not initialized")
	ErrSessionNotFound  = errors.New("session not found")
)

// --- Tool Registry ---

// ToolRegistry holds the fixed set of tool descriptors and turns a
// named-argument mapping into a typed domain.ToolCall.
type ToolRegistry interface {
	// List returns every descriptor in registration order.
	List(ctx context.Context) ([]domain.Tool, error)

	// FindToolByName returns ErrToolNotFound for unknown names.
	FindToolByName(ctx context.Context, name string) (*domain.Tool, error)

	// BuildCall validates args against the tool's input schema and decodes them.
	// Validation failures wrap ErrInvalidArguments.
	BuildCall(ctx context.Context, name string, args map[string]interface{}) (domain.ToolCall, error)
}

// --- Tool Invocation ---

// ToolInvoker executes a typed tool call and returns its textual result.
// Expected tool failures are reported inside the text; a non-nil error means
// something unexpected happened.
type ToolInvoker interface {
	Invoke(ctx context.Context, call domain.ToolCall) (string, error)
}

// --- Sessions ---

// SessionStore keeps Session records keyed by id.
// Implementations must be safe for concurrent use and must hand out copies.
type SessionStore interface {
	// Get returns ErrSessionNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Upsert loads the session (creating an uninitialized one if missing),
	// applies fn and stores the result.
	Upsert(ctx context.Context, id string, fn func(*domain.Session)) (*domain.Session, error)

	// Delete returns ErrSessionNotFound for unknown ids.
	Delete(ctx context.Context, id string) error

	// Count reports the number of live sessions.
	Count() int
}

// --- Observability ---

// MetricsRecorder receives request and tool call measurements.
type MetricsRecorder interface {
	ObserveRequest(method string, code int)
	ObserveToolCall(tool, status string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveRequest(string, int)                      {}
func (noopRecorder) ObserveToolCall(string, string, time.Duration) {}
