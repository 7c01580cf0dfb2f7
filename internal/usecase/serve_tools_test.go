package usecase_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
)

// MockToolRegistry is a mock implementation of the ToolRegistry interface.
type MockToolRegistry struct {
	mock.Mock
}

func (m *MockToolRegistry) List(ctx context.Context) ([]domain.Tool, error) {
	args := m.Called(ctx)
	// Need to handle potential nil slice for tools
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.([]domain.Tool), args.Error(1)
}

func (m *MockToolRegistry) FindToolByName(ctx context.Context, name string) (*domain.Tool, error) {
	args := m.Called(ctx, name)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.(*domain.Tool), args.Error(1)
}

func (m *MockToolRegistry) BuildCall(ctx context.Context, name string, params map[string]interface{}) (domain.ToolCall, error) {
	args := m.Called(ctx, name, params)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.(domain.ToolCall), args.Error(1)
}

func TestServeToolsUseCase_Execute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	expectedTools := []domain.Tool{
		{Name: "execute_command", Description: "Run"},
		{Name: "system_info", Description: "Info"},
	}
	registryErr := errors.New("registry error")

	tests := []struct {
		name          string
		mockSetup     func(*MockToolRegistry)
		wantErr       bool
		wantTools     []domain.Tool
		expectErrText string
	}{
		{
			name: "Success - tools in registration order",
			mockSetup: func(reg *MockToolRegistry) {
				reg.On("List", ctx).Return(expectedTools, nil).Once()
			},
			wantTools: expectedTools,
		},
		{
			name: "Success - empty registry",
			mockSetup: func(reg *MockToolRegistry) {
				reg.On("List", ctx).Return([]domain.Tool{}, nil).Once()
			},
			wantTools: []domain.Tool{},
		},
		{
			name: "Failure - registry error",
			mockSetup: func(reg *MockToolRegistry) {
				reg.On("List", ctx).Return(nil, registryErr).Once()
			},
			wantErr:       true,
			expectErrText: "failed to list tools from registry: registry error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockReg := new(MockToolRegistry)
			tt.mockSetup(mockReg)

			uc := usecase.NewServeToolsUseCase(mockReg, logger)
			actualTools, err := uc.Execute(ctx)

			if tt.wantErr {
				assert.Error(err)
				if tt.expectErrText != "" {
					assert.EqualError(err, tt.expectErrText)
				}
				assert.Nil(actualTools)
			} else {
				assert.NoError(err)
				assert.Equal(tt.wantTools, actualTools)
			}

			mockReg.AssertExpectations(t)
		})
	}
}
