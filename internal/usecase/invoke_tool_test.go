package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
)

// MockToolRegistry defined in serve_tools_test.go

// MockToolInvoker is a mock implementation of the ToolInvoker interface.
type MockToolInvoker struct {
	mock.Mock
}

func (m *MockToolInvoker) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	args := m.Called(ctx, call)
	return args.String(0), args.Error(1)
}

// recordingMetrics collects observations for assertions.
type recordingMetrics struct {
	mu        sync.Mutex
	requests  []string
	toolCalls []string
}

func (r *recordingMetrics) ObserveRequest(method string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, fmt.Sprintf("%s/%d", method, code))
}

func (r *recordingMetrics) ObserveToolCall(tool, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls = append(r.toolCalls, tool+"/"+status)
}

func TestInvokeToolUseCase_Execute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	toolName := "execute_command"
	inputArgs := map[string]interface{}{"command": "echo hi"}
	call := domain.ExecuteCommandCall{Command: "echo hi"}
	invokerErr := errors.New("invocation failed error")

	tests := []struct {
		name          string
		mockSetup     func(*MockToolRegistry, *MockToolInvoker)
		wantErr       error
		wantResult    string
		expectErrText string
		wantMetrics   []string
	}{
		{
			name: "Success - tool invoked",
			mockSetup: func(reg *MockToolRegistry, inv *MockToolInvoker) {
				reg.On("BuildCall", mock.Anything, toolName, inputArgs).Return(call, nil).Once()
				inv.On("Invoke", mock.Anything, call).Return("Exit code: 0", nil).Once()
			},
			wantResult:  "Exit code: 0",
			wantMetrics: []string{"execute_command/success"},
		},
		{
			name: "Failure - tool not found",
			mockSetup: func(reg *MockToolRegistry, inv *MockToolInvoker) {
				reg.On("BuildCall", mock.Anything, toolName, inputArgs).Return(nil, usecase.ErrToolNotFound).Once()
			},
			wantErr:       usecase.ErrToolNotFound,
			expectErrText: "tool 'execute_command': tool not found",
		},
		{
			name: "Failure - invalid arguments",
			mockSetup: func(reg *MockToolRegistry, inv *MockToolInvoker) {
				reg.On("BuildCall", mock.Anything, toolName, inputArgs).
					Return(nil, fmt.Errorf("%w: missing command", usecase.ErrInvalidArguments)).Once()
			},
			wantErr:     usecase.ErrInvalidArguments,
			wantMetrics: []string{"execute_command/rejected"},
		},
		{
			name: "Failure - invoker error",
			mockSetup: func(reg *MockToolRegistry, inv *MockToolInvoker) {
				reg.On("BuildCall", mock.Anything, toolName, inputArgs).Return(call, nil).Once()
				inv.On("Invoke", mock.Anything, call).Return("", invokerErr).Once()
			},
			wantErr:       invokerErr,
			expectErrText: "failed to invoke tool execute_command: invocation failed error",
			wantMetrics:   []string{"execute_command/error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockReg := new(MockToolRegistry)
			mockInvoker := new(MockToolInvoker)
			metrics := &recordingMetrics{}
			tt.mockSetup(mockReg, mockInvoker)

			uc := usecase.NewInvokeToolUseCase(mockReg, mockInvoker, metrics, logger)
			actualResult, err := uc.Execute(ctx, toolName, inputArgs)

			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				if tt.expectErrText != "" {
					assert.EqualError(err, tt.expectErrText)
				}
				assert.Empty(actualResult)
			} else {
				assert.NoError(err)
				assert.Equal(tt.wantResult, actualResult)
			}
			assert.Equal(tt.wantMetrics, metrics.toolCalls)

			mockReg.AssertExpectations(t)
			mockInvoker.AssertExpectations(t)
		})
	}
}

type panickingInvoker struct{}

func (panickingInvoker) Invoke(context.Context, domain.ToolCall) (string, error) {
	panic("boom")
}

func TestInvokeToolUseCase_RecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := new(MockToolRegistry)
	reg.On("BuildCall", mock.Anything, "system_info", mock.Anything).Return(domain.SystemInfoCall{}, nil).Once()

	uc := usecase.NewInvokeToolUseCase(reg, panickingInvoker{}, nil, logger)
	_, err := uc.Execute(context.Background(), "system_info", nil)

	assert.EqualError(t, err, "failed to invoke tool system_info: panic: boom")
}
