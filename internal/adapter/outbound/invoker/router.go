package invoker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
)

// CommandRunner executes execute_command calls.
type CommandRunner interface {
	Execute(ctx context.Context, call domain.ExecuteCommandCall) (string, error)
}

// FileOperator executes file_operation calls.
type FileOperator interface {
	Execute(ctx context.Context, call domain.FileOperationCall) (string, error)
}

// SystemReporter executes system_info calls.
type SystemReporter interface {
	Execute(ctx context.Context) (string, error)
}

// Router implements usecase.ToolInvoker and routes each call variant to its executor.
type Router struct {
	commands CommandRunner
	files    FileOperator
	system   SystemReporter
	logger   *slog.Logger
}

// NewRouter creates a new invoker router
func NewRouter(commands CommandRunner, files FileOperator, system SystemReporter, logger *slog.Logger) *Router {
	return &Router{
		commands: commands,
		files:    files,
		system:   system,
		logger:   logger.With("component", "invoker_router"),
	}
}

// Invoke routes the call to the executor for its variant.
func (r *Router) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	switch c := call.(type) {
	case domain.ExecuteCommandCall:
		r.logger.Debug("Routing to command executor")
		return r.commands.Execute(ctx, c)
	case domain.FileOperationCall:
		r.logger.Debug("Routing to workspace executor", slog.String("operation", string(c.Operation)))
		return r.files.Execute(ctx, c)
	case domain.SystemInfoCall:
		r.logger.Debug("Routing to system reporter")
		return r.system.Execute(ctx)
	default:
		r.logger.Error("Unknown tool call variant", slog.String("type", fmt.Sprintf("%T", call)))
		return "", fmt.Errorf("unknown tool call variant: %T", call)
	}
}
