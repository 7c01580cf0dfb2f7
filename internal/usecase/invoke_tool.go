package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
)

const tracerName = "github.com/naman-msft/mcp-dev-tools/internal/usecase"

// Tool call outcomes used as the metrics status label.
const (
	ToolStatusSuccess  = "success"
	ToolStatusError    = "error"
	ToolStatusRejected = "rejected"
)

// InvokeToolUseCase handles receiving a tool invocation request and executing it.
type InvokeToolUseCase struct {
	registry ToolRegistry
	invoker  ToolInvoker
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase. A nil recorder disables metrics.
func NewInvokeToolUseCase(registry ToolRegistry, invoker ToolInvoker, metrics MetricsRecorder, logger *slog.Logger) *InvokeToolUseCase {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &InvokeToolUseCase{
		registry: registry,
		invoker:  invoker,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With("usecase", "InvokeTool"),
	}
}

// Execute finds the tool, validates and decodes the arguments, and runs it.
// Errors wrap ErrToolNotFound or ErrInvalidArguments when the call was rejected
// before the tool body ran; any other error came from the tool itself.
func (uc *InvokeToolUseCase) Execute(ctx context.Context, toolName string, args map[string]interface{}) (string, error) {
	callID := ulid.Make().String()
	log := uc.logger.With(slog.String("tool_name", toolName), slog.String("call_id", callID))

	ctx, span := uc.tracer.Start(ctx, "tools/call "+toolName,
		trace.WithAttributes(
			attribute.String("mcp.tool.name", toolName),
			attribute.String("mcp.tool.call_id", callID),
		))
	defer span.End()

	// 1. Validate and decode against the descriptor
	call, err := uc.registry.BuildCall(ctx, toolName, args)
	if err != nil {
		switch {
		case errors.Is(err, ErrToolNotFound):
			log.Warn("Tool definition not found")
		case errors.Is(err, ErrInvalidArguments):
			log.Warn("Invalid tool arguments", slog.Any("error", err))
			uc.metrics.ObserveToolCall(toolName, ToolStatusRejected, 0)
		default:
			log.Error("Failed to build tool call", slog.Any("error", err))
		}
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("tool '%s': %w", toolName, err)
	}

	// 2. Invoke
	log.Info("Executing tool invocation")
	start := time.Now()
	result, err := uc.invokeRecovered(ctx, call)
	elapsed := time.Since(start)
	if err != nil {
		uc.metrics.ObserveToolCall(toolName, ToolStatusError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Tool invocation failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		return "", fmt.Errorf("failed to invoke tool %s: %w", toolName, err)
	}

	uc.metrics.ObserveToolCall(toolName, ToolStatusSuccess, elapsed)
	span.SetAttributes(attribute.Int("mcp.tool.result_bytes", len(result)))
	log.Info("Tool invocation successful", slog.Duration("elapsed", elapsed))
	log.Debug("Invocation result", slog.String("result", result))
	return result, nil
}

// invokeRecovered turns a panic inside a tool into an error so a single bad
// call can never take the process down.
func (uc *InvokeToolUseCase) invokeRecovered(ctx context.Context, call domain.ToolCall) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("Tool panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return uc.invoker.Invoke(ctx, call)
}
