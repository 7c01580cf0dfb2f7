package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/pkg/shared/mcpjsonrpc"
)

// MCP methods served by the dispatcher.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// SessionMode selects how requests are mapped to Session records.
type SessionMode string

const (
	// SessionModeGlobal shares one process-wide session between all callers.
	SessionModeGlobal SessionMode = "global"
	// SessionModePerClient keys sessions by an id minted on initialize.
	SessionModePerClient SessionMode = "per-client"
)

// GlobalSessionID is the store key of the process-wide session.
const GlobalSessionID = "global"

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	ServerName    string
	ServerVersion string
	Mode          SessionMode
	Sessions      SessionStore
	ServeTools    *ServeToolsUseCase
	InvokeTool    *InvokeToolUseCase
	Metrics       MetricsRecorder
	Logger        *slog.Logger
	Now           func() time.Time
}

// Dispatcher enforces the initialize-before-use lifecycle and routes JSON-RPC
// methods to the tool use cases. It always produces a response envelope.
type Dispatcher struct {
	serverInfo mcpjsonrpc.Implementation
	mode       SessionMode
	sessions   SessionStore
	serveTools *ServeToolsUseCase
	invokeTool *InvokeToolUseCase
	metrics    MetricsRecorder
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.ServeTools == nil || cfg.InvokeTool == nil {
		return nil, errors.New("tool use cases are required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = SessionModeGlobal
	case SessionModeGlobal, SessionModePerClient:
	default:
		return nil, fmt.Errorf("unknown session mode %q", cfg.Mode)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		serverInfo: mcpjsonrpc.Implementation{Name: cfg.ServerName, Version: cfg.ServerVersion},
		mode:       cfg.Mode,
		sessions:   cfg.Sessions,
		serveTools: cfg.ServeTools,
		invokeTool: cfg.InvokeTool,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer(tracerName),
		logger:     cfg.Logger.With("component", "dispatcher"),
		now:        cfg.Now,
	}, nil
}

// Mode reports the configured session mode.
func (d *Dispatcher) Mode() SessionMode {
	return d.mode
}

// Dispatch handles a single request against the session named by sessionID.
// In global mode sessionID is ignored. In per-client mode the returned string
// is the id of the session the request ran against (freshly minted by
// initialize), or empty when the request was not bound to a session.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req mcpjsonrpc.Request) (mcpjsonrpc.Response, string) {
	ctx, span := d.tracer.Start(ctx, "jsonrpc "+req.Method,
		trace.WithAttributes(attribute.String("rpc.system", "jsonrpc"), attribute.String("rpc.method", req.Method)))
	defer span.End()

	if d.mode == SessionModeGlobal {
		sessionID = GlobalSessionID
	}

	var (
		resp  mcpjsonrpc.Response
		bound string
	)
	switch {
	case req.Version != mcpjsonrpc.Version:
		resp = mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInvalidRequest, "Invalid Request: jsonrpc must be \"2.0\"")
	case req.Method == MethodInitialize:
		resp, bound = d.handleInitialize(ctx, sessionID, req)
	case req.Method == MethodToolsList:
		resp = d.handleToolsList(ctx, sessionID, req)
		bound = sessionID
	case req.Method == MethodToolsCall:
		resp = d.handleToolsCall(ctx, sessionID, req)
		bound = sessionID
	default:
		resp = mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeMethodNotFound, "Method not found: "+req.Method)
	}

	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
		span.SetStatus(codes.Error, resp.Error.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
	}
	d.metrics.ObserveRequest(methodLabel(req.Method), code)

	if d.mode == SessionModeGlobal || code == mcpjsonrpc.CodeNotInitialized {
		bound = ""
	}
	return resp, bound
}

// EndSession terminates a per-client session.
func (d *Dispatcher) EndSession(ctx context.Context, sessionID string) error {
	if d.mode != SessionModePerClient {
		return fmt.Errorf("sessions cannot be ended in %s mode", d.mode)
	}
	if err := d.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	d.logger.Info("Session terminated", slog.String("session_id", sessionID))
	return nil
}

func (d *Dispatcher) handleInitialize(ctx context.Context, sessionID string, req mcpjsonrpc.Request) (mcpjsonrpc.Response, string) {
	var params mcpjsonrpc.InitializeParams
	if err := decodeParams(req.Params, &params); err != nil {
		d.logger.Warn("Malformed initialize params", slog.Any("error", err))
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInvalidParams, "Invalid params: "+err.Error()), ""
	}

	if d.mode == SessionModePerClient {
		if _, err := d.sessions.Get(ctx, sessionID); sessionID == "" || err != nil {
			sessionID = uuid.New().String()
		}
	}

	var info *domain.ClientInfo
	if params.ClientInfo != nil {
		info = &domain.ClientInfo{Name: params.ClientInfo.Name, Version: params.ClientInfo.Version}
	}
	now := d.now()
	sess, err := d.sessions.Upsert(ctx, sessionID, func(s *domain.Session) {
		s.Initialize(params.ProtocolVersion, params.Capabilities, info, now)
	})
	if err != nil {
		d.logger.Error("Failed to record session", slog.Any("error", err))
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInternalError, "Internal error: "+err.Error()), ""
	}

	d.logger.Info("Session initialized",
		slog.String("session_id", sess.ID),
		slog.String("protocol_version", sess.ProtocolVersion))

	return mcpjsonrpc.NewResult(req.ID, mcpjsonrpc.InitializeResult{
		ProtocolVersion: sess.ProtocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		ServerInfo: d.serverInfo,
	}), sess.ID
}

func (d *Dispatcher) handleToolsList(ctx context.Context, sessionID string, req mcpjsonrpc.Request) mcpjsonrpc.Response {
	if err := d.requireInitialized(ctx, sessionID); err != nil {
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeNotInitialized, "Server not initialized")
	}

	tools, err := d.serveTools.Execute(ctx)
	if err != nil {
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInternalError, "Internal error: "+err.Error())
	}
	return mcpjsonrpc.NewResult(req.ID, map[string]interface{}{"tools": tools})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sessionID string, req mcpjsonrpc.Request) mcpjsonrpc.Response {
	if err := d.requireInitialized(ctx, sessionID); err != nil {
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeNotInitialized, "Server not initialized")
	}

	var params mcpjsonrpc.CallToolParams
	if err := decodeParams(req.Params, &params); err != nil {
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInvalidParams, "Invalid params: "+err.Error())
	}

	text, err := d.invokeTool.Execute(ctx, params.Name, params.Arguments)
	switch {
	case err == nil:
		return mcpjsonrpc.NewResult(req.ID, mcpjsonrpc.NewTextResult(text))
	case errors.Is(err, ErrToolNotFound):
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeMethodNotFound, "Unknown tool: "+params.Name)
	case errors.Is(err, ErrInvalidArguments):
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInvalidParams, "Invalid params: "+err.Error())
	default:
		return mcpjsonrpc.NewError(req.ID, mcpjsonrpc.CodeInternalError, "Tool execution error: "+err.Error())
	}
}

func (d *Dispatcher) requireInitialized(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNotInitialized
	}
	sess, err := d.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			d.logger.Error("Failed to load session", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return ErrNotInitialized
	}
	if !sess.Initialized {
		return ErrNotInitialized
	}
	return nil
}

// decodeParams unmarshals optional params. Absent or null params leave v untouched.
func decodeParams(raw json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return errors.New("params must be an object")
	}
	return json.Unmarshal(trimmed, v)
}

// methodLabel bounds the metrics label cardinality to the known methods.
func methodLabel(method string) string {
	switch method {
	case MethodInitialize, MethodToolsList, MethodToolsCall:
		return method
	default:
		return "other"
	}
}
