package shellexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
)

// waitDelay bounds how long Wait keeps draining output after the shell exits
// or is killed, e.g. when a background child still holds the pipes open.
const waitDelay = 2 * time.Second

// errTerminated is the cancellation cause for commands killed by Terminate.
var errTerminated = errors.New("server shutting down")

// Config controls how commands are run.
type Config struct {
	Shell         string
	WorkspaceRoot string
	Timeout       time.Duration
	MaxConcurrent int64
}

// Executor runs execute_command calls as child shell processes.
type Executor struct {
	cfg    Config
	gate   *semaphore.Weighted
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	running map[uint64]context.CancelCauseFunc
}

// New creates an Executor. Zero values in cfg fall back to /bin/sh, a 30s
// timeout and a single concurrent command.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Executor{
		cfg:    cfg,
		gate:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger.With("component", "shell_executor"),
		running: make(map[uint64]context.CancelCauseFunc),
	}
}

// Execute runs the command and renders its outcome as text. Failures to start
// the command and timeouts are reported inside the text, so the returned
// error is always nil.
func (e *Executor) Execute(ctx context.Context, call domain.ExecuteCommandCall) (string, error) {
	log := e.logger.With(slog.String("command", call.Command))

	// The timeout covers both the wait for a slot and the run itself. Only the
	// wait honours the caller; once started the command is not cancelled by it.
	base, terminate := context.WithCancelCause(context.WithoutCancel(ctx))
	runCtx, cancel := context.WithTimeout(base, e.cfg.Timeout)
	defer cancel()
	untrack := e.track(terminate)
	defer untrack()

	waitCtx, stopWait := context.WithCancel(runCtx)
	stopAfter := context.AfterFunc(ctx, stopWait)
	err := e.gate.Acquire(waitCtx, 1)
	stopAfter()
	stopWait()
	if err != nil {
		if out, done := e.interrupted(log, runCtx); done {
			return out, nil
		}
		log.Warn("Gave up waiting for a command slot", slog.Any("error", err))
		return "Error executing command: " + err.Error(), nil
	}
	defer e.gate.Release(1)

	cmd := exec.CommandContext(runCtx, e.cfg.Shell, "-c", call.Command)
	cmd.Dir = e.workingDir(call.WorkingDir)
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if out, done := e.interrupted(log, runCtx); done {
		return out, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.Warn("Command could not be run", slog.String("dir", cmd.Dir), slog.Any("error", err))
			return "Error executing command: " + err.Error(), nil
		}
		exitCode = exitErr.ExitCode()
	}

	log.Debug("Command finished", slog.Int("exit_code", exitCode), slog.Duration("elapsed", elapsed))
	return fmt.Sprintf("Exit code: %d\nOutput:\n%s\nErrors:\n%s", exitCode, stdout.String(), stderr.String()), nil
}

// Terminate kills every command that is running or waiting for a slot and
// reports how many there were. Their calls return promptly with an error text.
func (e *Executor) Terminate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, terminate := range e.running {
		terminate(errTerminated)
	}
	return len(e.running)
}

func (e *Executor) track(terminate context.CancelCauseFunc) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.running[id] = terminate
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		terminate(nil)
	}
}

// interrupted renders the outcome of a call whose run context ended early.
func (e *Executor) interrupted(log *slog.Logger, runCtx context.Context) (string, bool) {
	switch cause := context.Cause(runCtx); {
	case cause == nil:
		return "", false
	case errors.Is(cause, errTerminated):
		log.Warn("Command terminated", slog.Any("error", cause))
		return "Error executing command: " + cause.Error(), true
	case errors.Is(cause, context.DeadlineExceeded):
		log.Warn("Command timed out", slog.Duration("timeout", e.cfg.Timeout))
		return fmt.Sprintf("Error: Command timed out after %s seconds", formatSeconds(e.cfg.Timeout)), true
	default:
		return "", false
	}
}

func (e *Executor) workingDir(dir string) string {
	switch {
	case dir == "":
		return e.cfg.WorkspaceRoot
	case filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(e.cfg.WorkspaceRoot, dir)
	}
}

// formatSeconds renders d in seconds without trailing zeros ("30", "0.5").
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
