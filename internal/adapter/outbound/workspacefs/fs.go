package workspacefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/naman-msft/mcp-dev-tools/internal/domain"
)

var errEscapesWorkspace = errors.New("path escapes the workspace")

// Config controls where file operations are rooted.
type Config struct {
	Root string
	// Confine rejects paths that resolve outside Root, symlinks included.
	Confine bool
}

// Workspace performs file_operation calls relative to a root directory.
type Workspace struct {
	root    string
	confine bool
	logger  *slog.Logger
}

// New creates a Workspace rooted at cfg.Root.
func New(cfg Config, logger *slog.Logger) *Workspace {
	return &Workspace{
		root:    filepath.Clean(cfg.Root),
		confine: cfg.Confine,
		logger:  logger.With("component", "workspace_fs"),
	}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Execute performs the operation and renders its outcome as text. Expected
// failures (missing paths, bad encodings, I/O errors) are reported inside the
// text, so the returned error is always nil.
func (w *Workspace) Execute(ctx context.Context, call domain.FileOperationCall) (string, error) {
	log := w.logger.With(slog.String("operation", string(call.Operation)), slog.String("path", call.Path))

	switch call.Operation {
	case domain.FileOpRead, domain.FileOpWrite, domain.FileOpList:
	default:
		return fmt.Sprintf("Error: Unknown operation '%s'", call.Operation), nil
	}

	full, err := w.resolve(call.Path)
	if err != nil {
		log.Warn("Rejected path outside the workspace")
		return fmt.Sprintf("Error: Path %s escapes the workspace", call.Path), nil
	}

	var out string
	switch call.Operation {
	case domain.FileOpRead:
		out, err = w.read(full, call)
	case domain.FileOpWrite:
		out, err = w.write(full, call)
	case domain.FileOpList:
		out, err = w.list(full, call)
	}
	if err != nil {
		log.Warn("File operation failed", slog.Any("error", err))
		return fmt.Sprintf("Error performing %s on %s: %v", call.Operation, call.Path, err), nil
	}
	log.Debug("File operation completed")
	return out, nil
}

func (w *Workspace) read(full string, call domain.FileOperationCall) (string, error) {
	enc, ok := lookupEncoding(call.Encoding)
	if !ok {
		return unsupportedEncoding(call.Encoding), nil
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: File %s not found", call.Path), nil
	}
	if err != nil {
		return "", err
	}
	if enc == nil {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("file is not valid %s", call.Encoding)
		}
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", call.Encoding, err)
	}
	return string(decoded), nil
}

func (w *Workspace) write(full string, call domain.FileOperationCall) (string, error) {
	enc, ok := lookupEncoding(call.Encoding)
	if !ok {
		return unsupportedEncoding(call.Encoding), nil
	}
	if call.Content == nil {
		return "", errors.New("content is required for write")
	}
	content := *call.Content

	data := []byte(content)
	if enc != nil {
		encoded, err := enc.NewEncoder().String(content)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", call.Encoding, err)
		}
		data = []byte(encoded)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d chars to %s", utf8.RuneCountInString(content), call.Path), nil
}

func (w *Workspace) list(full string, call domain.FileOperationCall) (string, error) {
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: Path %s not found", call.Path), nil
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return fmt.Sprintf("File: %s", call.Path), nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Empty directory", nil
	}
	// Lines sort as text, so every "DIR:  " line precedes every "FILE: " line.
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		if isDir(full, entry) {
			lines = append(lines, "DIR:  "+entry.Name()+"/")
		} else {
			lines = append(lines, "FILE: "+entry.Name())
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

// isDir reports whether entry is a directory, following symlinks. Dangling
// links count as files.
func isDir(dir string, entry fs.DirEntry) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	return err == nil && info.IsDir()
}

// resolve maps a caller path onto the workspace. A leading "/" is relative to
// the root. With confinement on, the resolved target (following any existing
// symlinks) must stay inside the resolved root.
func (w *Workspace) resolve(path string) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(path), string(filepath.Separator))
	full := filepath.Join(w.root, rel)
	if !w.confine {
		return full, nil
	}

	root := resolveExistingPath(w.root)
	target := resolveExistingPath(full)
	r, err := filepath.Rel(root, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errEscapesWorkspace
	}
	return full, nil
}

// resolveExistingPath follows symlinks for the longest existing prefix of path
// and appends the remaining components unchanged.
func resolveExistingPath(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveExistingPath(parent), filepath.Base(path))
}

// lookupEncoding resolves a WHATWG encoding label. A nil encoding with ok set
// means UTF-8, which needs no transcoding.
func lookupEncoding(name string) (encoding.Encoding, bool) {
	if name == "" {
		return nil, true
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, false
	}
	if canonical, _ := htmlindex.Name(enc); canonical == "utf-8" {
		return nil, true
	}
	return enc, true
}

func unsupportedEncoding(name string) string {
	return fmt.Sprintf("Error: Unsupported encoding '%s'", name)
}
