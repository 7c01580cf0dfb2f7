package usecase_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/memrepo"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/registry"
	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
	"github.com/naman-msft/mcp-dev-tools/pkg/shared/mcpjsonrpc"
)

type dispatcherFixture struct {
	dispatcher *usecase.Dispatcher
	invoker    *MockToolInvoker
	metrics    *recordingMetrics
}

func newDispatcher(t *testing.T, mode usecase.SessionMode) *dispatcherFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg, err := registry.New(registry.Builtin(), logger)
	require.NoError(t, err)
	inv := new(MockToolInvoker)
	metrics := &recordingMetrics{}

	d, err := usecase.NewDispatcher(usecase.DispatcherConfig{
		ServerName:    "dev-tools-production",
		ServerVersion: "2.0.0",
		Mode:          mode,
		Sessions:      memrepo.NewInMemorySessionRepository(0, logger),
		ServeTools:    usecase.NewServeToolsUseCase(reg, logger),
		InvokeTool:    usecase.NewInvokeToolUseCase(reg, inv, metrics, logger),
		Metrics:       metrics,
		Logger:        logger,
		Now:           func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &dispatcherFixture{dispatcher: d, invoker: inv, metrics: metrics}
}

func request(id, method, params string) mcpjsonrpc.Request {
	req := mcpjsonrpc.Request{Version: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func marshal(t *testing.T, resp mcpjsonrpc.Response) string {
	t.Helper()
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(raw)
}

func TestDispatcher_RequiresInitialize(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModeGlobal)
	ctx := context.Background()

	resp, _ := f.dispatcher.Dispatch(ctx, "", request("2", "tools/list", ""))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"error":{"code":-32002,"message":"Server not initialized"}}`, marshal(t, resp))

	resp, _ = f.dispatcher.Dispatch(ctx, "", request("3", "tools/call", `{"name":"system_info"}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"error":{"code":-32002,"message":"Server not initialized"}}`, marshal(t, resp))

	resp, _ = f.dispatcher.Dispatch(ctx, "", request(`"x"`, "resources/list", ""))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"Method not found: resources/list"}}`, marshal(t, resp))

	f.invoker.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestDispatcher_Initialize(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		wantJSON string
	}{
		{
			name:     "no params defaults the version",
			params:   "",
			wantJSON: `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"1.0.0","capabilities":{"tools":{}},"serverInfo":{"name":"dev-tools-production","version":"2.0.0"}}}`,
		},
		{
			name:     "null params",
			params:   "null",
			wantJSON: `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"1.0.0","capabilities":{"tools":{}},"serverInfo":{"name":"dev-tools-production","version":"2.0.0"}}}`,
		},
		{
			name:     "echoes the client version",
			params:   `{"protocolVersion":"2024-11-05","capabilities":{"roots":{}},"clientInfo":{"name":"c","version":"1"}}`,
			wantJSON: `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"dev-tools-production","version":"2.0.0"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcher(t, usecase.SessionModeGlobal)
			resp, bound := f.dispatcher.Dispatch(context.Background(), "", request("1", "initialize", tt.params))
			assert.JSONEq(t, tt.wantJSON, marshal(t, resp))
			assert.Empty(t, bound, "global mode never binds a session id")
		})
	}
}

func TestDispatcher_InitializeInvalidParams(t *testing.T) {
	for _, params := range []string{`[1,2]`, `"x"`, `{"protocolVersion":5}`, `{"clientInfo":"nope"}`} {
		t.Run(params, func(t *testing.T) {
			f := newDispatcher(t, usecase.SessionModeGlobal)
			resp, _ := f.dispatcher.Dispatch(context.Background(), "", request("1", "initialize", params))
			require.NotNil(t, resp.Error)
			assert.Equal(t, mcpjsonrpc.CodeInvalidParams, resp.Error.Code)

			list, _ := f.dispatcher.Dispatch(context.Background(), "", request("2", "tools/list", ""))
			require.NotNil(t, list.Error)
			assert.Equal(t, mcpjsonrpc.CodeNotInitialized, list.Error.Code, "failed initialize leaves the session uninitialized")
		})
	}
}

func TestDispatcher_DoubleInitializeIsSticky(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModeGlobal)
	ctx := context.Background()

	f.dispatcher.Dispatch(ctx, "", request("1", "initialize", `{"protocolVersion":"a"}`))
	first, _ := f.dispatcher.Dispatch(ctx, "", request("2", "tools/list", ""))

	resp, _ := f.dispatcher.Dispatch(ctx, "", request("3", "initialize", `{"protocolVersion":"b"}`))
	require.Nil(t, resp.Error)
	assert.Equal(t, "b", resp.Result.(mcpjsonrpc.InitializeResult).ProtocolVersion)

	second, _ := f.dispatcher.Dispatch(ctx, "", request("2", "tools/list", ""))
	assert.Nil(t, second.Error)
	assert.JSONEq(t, marshal(t, first), marshal(t, second))
}

func TestDispatcher_ToolsCall(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		params    string
		mockSetup func(*MockToolInvoker)
		wantJSON  string
		wantCode  int
	}{
		{
			name:   "success",
			params: `{"name":"execute_command","arguments":{"command":"echo MCP Works"}}`,
			mockSetup: func(inv *MockToolInvoker) {
				inv.On("Invoke", mock.Anything, domain.ExecuteCommandCall{Command: "echo MCP Works"}).
					Return("Exit code: 0\nOutput:\nMCP Works\n\nErrors:\n", nil).Once()
			},
			wantJSON: `{"jsonrpc":"2.0","id":9,"result":{"content":[{"type":"text","text":"Exit code: 0\nOutput:\nMCP Works\n\nErrors:\n"}]}}`,
		},
		{
			name:   "arguments default to empty",
			params: `{"name":"system_info"}`,
			mockSetup: func(inv *MockToolInvoker) {
				inv.On("Invoke", mock.Anything, domain.SystemInfoCall{}).Return("{}", nil).Once()
			},
			wantJSON: `{"jsonrpc":"2.0","id":9,"result":{"content":[{"type":"text","text":"{}"}]}}`,
		},
		{
			name:     "unknown tool",
			params:   `{"name":"nonexistent","arguments":{}}`,
			wantJSON: `{"jsonrpc":"2.0","id":9,"error":{"code":-32601,"message":"Unknown tool: nonexistent"}}`,
		},
		{
			name:     "missing required argument",
			params:   `{"name":"execute_command","arguments":{}}`,
			wantCode: mcpjsonrpc.CodeInvalidParams,
		},
		{
			name:     "wrong argument type",
			params:   `{"name":"file_operation","arguments":{"operation":"read","path":7}}`,
			wantCode: mcpjsonrpc.CodeInvalidParams,
		},
		{
			name:     "params not an object",
			params:   `["execute_command"]`,
			wantCode: mcpjsonrpc.CodeInvalidParams,
		},
		{
			name:   "tool failure",
			params: `{"name":"system_info"}`,
			mockSetup: func(inv *MockToolInvoker) {
				inv.On("Invoke", mock.Anything, domain.SystemInfoCall{}).Return("", assert.AnError).Once()
			},
			wantCode: mcpjsonrpc.CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcher(t, usecase.SessionModeGlobal)
			if tt.mockSetup != nil {
				tt.mockSetup(f.invoker)
			}
			f.dispatcher.Dispatch(ctx, "", request("1", "initialize", ""))

			resp, _ := f.dispatcher.Dispatch(ctx, "", request("9", "tools/call", tt.params))
			assert.False(t, resp.Result != nil && resp.Error != nil, "exactly one of result and error")
			if tt.wantJSON != "" {
				assert.JSONEq(t, tt.wantJSON, marshal(t, resp))
			} else {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
			f.invoker.AssertExpectations(t)
		})
	}
}

func TestDispatcher_InvalidVersion(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModeGlobal)
	req := request("1", "initialize", "")
	req.Version = "1.0"

	resp, _ := f.dispatcher.Dispatch(context.Background(), "", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpjsonrpc.CodeInvalidRequest, resp.Error.Code)
}

func TestDispatcher_PerClientSessions(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModePerClient)
	ctx := context.Background()

	_, idA := f.dispatcher.Dispatch(ctx, "", request("1", "initialize", ""))
	_, idB := f.dispatcher.Dispatch(ctx, "made-up", request("1", "initialize", ""))
	require.NotEmpty(t, idA)
	require.NotEmpty(t, idB)
	assert.NotEqual(t, idA, idB)
	assert.NotEqual(t, "made-up", idB, "unknown ids are replaced by a minted one")

	_, again := f.dispatcher.Dispatch(ctx, idA, request("2", "initialize", `{"protocolVersion":"x"}`))
	assert.Equal(t, idA, again, "re-initialize keeps a live session")

	resp, bound := f.dispatcher.Dispatch(ctx, idA, request("3", "tools/list", ""))
	assert.Nil(t, resp.Error)
	assert.Equal(t, idA, bound)

	resp, bound = f.dispatcher.Dispatch(ctx, "", request("4", "tools/list", ""))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpjsonrpc.CodeNotInitialized, resp.Error.Code)
	assert.Empty(t, bound)

	require.NoError(t, f.dispatcher.EndSession(ctx, idA))
	assert.ErrorIs(t, f.dispatcher.EndSession(ctx, idA), usecase.ErrSessionNotFound)

	resp, _ = f.dispatcher.Dispatch(ctx, idA, request("5", "tools/list", ""))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpjsonrpc.CodeNotInitialized, resp.Error.Code)

	resp, _ = f.dispatcher.Dispatch(ctx, idB, request("6", "tools/list", ""))
	assert.Nil(t, resp.Error)
}

func TestDispatcher_EndSessionGlobalMode(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModeGlobal)
	assert.Error(t, f.dispatcher.EndSession(context.Background(), usecase.GlobalSessionID))
}

func TestDispatcher_RecordsRequestMetrics(t *testing.T) {
	f := newDispatcher(t, usecase.SessionModeGlobal)
	ctx := context.Background()

	f.dispatcher.Dispatch(ctx, "", request("1", "tools/list", ""))
	f.dispatcher.Dispatch(ctx, "", request("2", "initialize", ""))
	f.dispatcher.Dispatch(ctx, "", request("3", "prompts/list", ""))

	assert.Equal(t, []string{"tools/list/-32002", "initialize/0", "other/-32601"}, f.metrics.requests)
}

func TestNewDispatcher_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	reg, err := registry.New(registry.Builtin(), logger)
	require.NoError(t, err)
	serve := usecase.NewServeToolsUseCase(reg, logger)
	invoke := usecase.NewInvokeToolUseCase(reg, new(MockToolInvoker), nil, logger)
	store := memrepo.NewInMemorySessionRepository(0, logger)

	_, err = usecase.NewDispatcher(usecase.DispatcherConfig{ServeTools: serve, InvokeTool: invoke})
	assert.Error(t, err, "missing session store")

	_, err = usecase.NewDispatcher(usecase.DispatcherConfig{Sessions: store, ServeTools: serve, InvokeTool: invoke, Mode: "sticky"})
	assert.Error(t, err, "unknown mode")

	d, err := usecase.NewDispatcher(usecase.DispatcherConfig{Sessions: store, ServeTools: serve, InvokeTool: invoke})
	require.NoError(t, err)
	assert.Equal(t, usecase.SessionModeGlobal, d.Mode())
}
