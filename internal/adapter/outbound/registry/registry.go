package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
)

// Builtin returns the descriptors of the built-in tools in registration order.
func Builtin() []domain.Tool {
	return []domain.Tool{
		{
			Name:        domain.ToolExecuteCommand,
			Description: "Execute a shell command and return the output",
			InputSchema: domain.ObjectSchema(map[string]domain.JSONSchemaProps{
				"command":     {Type: "string", Description: "Shell command to execute"},
				"working_dir": {Type: "string", Description: "Optional working directory (relative to the workspace)"},
			}, "command"),
		},
		{
			Name:        domain.ToolFileOperation,
			Description: "Perform file operations (read, write, list) inside the workspace",
			InputSchema: domain.ObjectSchema(map[string]domain.JSONSchemaProps{
				"operation": {Type: "string", Description: "One of: read, write, list"},
				"path":      {Type: "string", Description: "File or directory path relative to the workspace"},
				"content":   {Type: "string", Description: "Content for write operations"},
				"encoding":  {Type: "string", Description: "File encoding", Default: domain.DefaultEncoding},
			}, "operation", "path"),
		},
		{
			Name:        domain.ToolSystemInfo,
			Description: "Get system and environment information",
			InputSchema: domain.ObjectSchema(nil),
		},
	}
}

// Registry implements usecase.ToolRegistry over a fixed set of descriptors.
type Registry struct {
	tools   []domain.Tool
	index   map[string]int
	schemas map[string]*jsonschema.Resolved
	logger  *slog.Logger
}

// New builds a registry from the given descriptors, compiling each input schema
// once. Duplicate names and schemas that do not compile are rejected.
func New(tools []domain.Tool, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		tools:   make([]domain.Tool, 0, len(tools)),
		index:   make(map[string]int, len(tools)),
		schemas: make(map[string]*jsonschema.Resolved, len(tools)),
		logger:  logger.With("component", "tool_registry"),
	}
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.index[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", tool.Name)
		}
		resolved, err := compileSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("compile input schema of %q: %w", tool.Name, err)
		}
		r.index[tool.Name] = len(r.tools)
		r.tools = append(r.tools, tool)
		r.schemas[tool.Name] = resolved
	}
	r.logger.Info("Tool registry ready", slog.Int("count", len(r.tools)))
	return r, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List(ctx context.Context) ([]domain.Tool, error) {
	out := make([]domain.Tool, len(r.tools))
	copy(out, r.tools)
	return out, nil
}

// FindToolByName retrieves a descriptor by its name.
func (r *Registry) FindToolByName(ctx context.Context, name string) (*domain.Tool, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, usecase.ErrToolNotFound
	}
	tool := r.tools[i]
	return &tool, nil
}

// BuildCall validates args against the named tool's input schema and decodes
// them into the matching domain.ToolCall variant.
func (r *Registry) BuildCall(ctx context.Context, name string, args map[string]interface{}) (domain.ToolCall, error) {
	resolved, ok := r.schemas[name]
	if !ok {
		return nil, usecase.ErrToolNotFound
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := resolved.Validate(args); err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrInvalidArguments, err)
	}

	switch name {
	case domain.ToolExecuteCommand:
		var call domain.ExecuteCommandCall
		if err := decodeArgs(args, &call); err != nil {
			return nil, err
		}
		return call, nil
	case domain.ToolFileOperation:
		var call domain.FileOperationCall
		if err := decodeArgs(args, &call); err != nil {
			return nil, err
		}
		if call.Encoding == "" {
			call.Encoding = domain.DefaultEncoding
		}
		return call, nil
	case domain.ToolSystemInfo:
		return domain.SystemInfoCall{}, nil
	default:
		// Registered descriptor without a typed variant.
		r.logger.Error("No call variant for registered tool", slog.String("tool_name", name))
		return nil, fmt.Errorf("no call variant for tool %q", name)
	}
}

func decodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("create argument decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrInvalidArguments, err)
	}
	return nil
}

// compileSchema converts a descriptor schema into a resolved jsonschema.Schema.
func compileSchema(props domain.JSONSchemaProps) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}
