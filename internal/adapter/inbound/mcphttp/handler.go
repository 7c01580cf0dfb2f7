package mcphttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/naman-msft/mcp-dev-tools/internal/auth"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
	"github.com/naman-msft/mcp-dev-tools/pkg/shared/mcpjsonrpc"
)

// SessionHeader carries the session id in per-client session mode.
const SessionHeader = "Mcp-Session-Id"

// MaxBodyBytes bounds the size of a POST /mcp body.
const MaxBodyBytes = 1 << 20

// Options holds the optional collaborators of Handlers.
type Options struct {
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
	// Verifier, when set, guards /mcp with bearer authentication.
	Verifier auth.TokenVerifier
}

// Handlers struct holds dependencies for the HTTP handlers.
type Handlers struct {
	dispatcher *usecase.Dispatcher
	opts       Options
	logger     *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(dispatcher *usecase.Dispatcher, opts Options, logger *slog.Logger) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With("component", "mcphttp_handler"),
	}
}

// RegisterRoutes sets up the MCP endpoint and the auxiliary probes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /mcp", h.guard(http.HandlerFunc(h.handleMCPPost)))
	if h.dispatcher.Mode() == usecase.SessionModePerClient {
		mux.Handle("DELETE /mcp", h.guard(http.HandlerFunc(h.handleMCPDelete)))
	}
	h.RegisterProbeRoutes(mux)
	if h.opts.Metrics != nil {
		mux.Handle("GET /metrics", h.opts.Metrics)
	}
}

// RegisterProbeRoutes sets up only the liveness and readiness probes.
func (h *Handlers) RegisterProbeRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", plainText("OK"))
	mux.HandleFunc("GET /healthz", plainText("OK"))
	mux.HandleFunc("GET /readyz", plainText("healthy"))
}

// guard wraps an MCP handler with panic recovery and, if configured, bearer auth.
func (h *Handlers) guard(next http.Handler) http.Handler {
	if h.opts.Verifier != nil {
		next = auth.BearerMiddleware(h.opts.Verifier, h.logger)(next)
	}
	return h.recoverer(next)
}

func (h *Handlers) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.Error("Panic while serving request",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())))
				h.writeJSON(w, http.StatusInternalServerError,
					mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeInternalError, "Internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// handleMCPPost implements POST /mcp
func (h *Handlers) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Request body too large", slog.Int64("limit", tooLarge.Limit))
			h.writeJSON(w, http.StatusBadRequest,
				mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeInvalidRequest, "Invalid Request: request body too large"))
			return
		}
		h.logger.Warn("Failed to read request body", slog.Any("error", err))
		h.writeJSON(w, http.StatusBadRequest,
			mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeParseError, "Parse error"))
		return
	}

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		h.logger.Warn("Malformed JSON body")
		h.writeJSON(w, http.StatusBadRequest,
			mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeParseError, "Parse error"))
		return
	}
	if trimmed[0] != '{' {
		h.writeJSON(w, http.StatusBadRequest,
			mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeInvalidRequest, "Invalid Request: body must be a JSON object"))
		return
	}

	var req mcpjsonrpc.Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		h.logger.Warn("Request envelope has wrong field types", slog.Any("error", err))
		h.writeJSON(w, http.StatusBadRequest,
			mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeInvalidRequest, "Invalid Request: "+err.Error()))
		return
	}
	if !validID(req.ID) {
		h.writeJSON(w, http.StatusBadRequest,
			mcpjsonrpc.NewError(nil, mcpjsonrpc.CodeInvalidRequest, "Invalid Request: id must be a string, number or null"))
		return
	}

	if req.IsNotification() && strings.HasPrefix(req.Method, "notifications/") {
		h.logger.Debug("Notification accepted", slog.String("method", req.Method))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	log := h.logger
	if subject := auth.SubjectFrom(r.Context()); subject != "" {
		log = log.With(slog.String("subject", subject))
	}
	log.Debug("Dispatching request", slog.String("method", req.Method))

	resp, sessionID := h.dispatcher.Dispatch(r.Context(), r.Header.Get(SessionHeader), req)
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleMCPDelete implements DELETE /mcp
func (h *Handlers) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	if err := h.dispatcher.EndSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			http.Error(w, "Unknown session", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to end session", slog.String("session_id", sessionID), slog.Any("error", err))
		http.Error(w, "Failed to end session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

// validID accepts an absent id or a JSON string, number or null.
func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return string(id) == "null"
	}
}

func plainText(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}
