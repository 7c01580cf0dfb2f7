package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Info is the document returned by system_info.
type Info struct {
	Timestamp        string `json:"timestamp"`
	Platform         string `json:"platform"`
	GoVersion        string `json:"go_version"`
	Hostname         string `json:"hostname"`
	WorkingDirectory string `json:"working_directory"`
	WorkspacePath    string `json:"workspace_path"`
	NumCPU           int    `json:"num_cpu"`
	MCPAvailable     bool   `json:"mcp_available"`
}

// Reporter collects host and runtime information.
type Reporter struct {
	workspace string
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Reporter that reports workspace as the workspace path.
func New(workspace string, logger *slog.Logger) *Reporter {
	return &Reporter{
		workspace: workspace,
		now:       time.Now,
		logger:    logger.With("component", "sysinfo"),
	}
}

// Collect gathers the current Info. Lookups that fail degrade to "unknown".
func (r *Reporter) Collect() Info {
	hostname, err := os.Hostname()
	if err != nil {
		r.logger.Warn("Failed to read hostname", slog.Any("error", err))
		hostname = "unknown"
	}
	wd, err := os.Getwd()
	if err != nil {
		r.logger.Warn("Failed to read working directory", slog.Any("error", err))
		wd = "unknown"
	}
	return Info{
		Timestamp:        r.now().Format(time.RFC3339),
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:        runtime.Version(),
		Hostname:         hostname,
		WorkingDirectory: wd,
		WorkspacePath:    r.workspace,
		NumCPU:           runtime.NumCPU(),
		MCPAvailable:     true,
	}
}

// Execute renders Info as indented JSON.
func (r *Reporter) Execute(ctx context.Context) (string, error) {
	raw, err := json.MarshalIndent(r.Collect(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal system info: %w", err)
	}
	return string(raw), nil
}
