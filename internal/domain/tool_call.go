package domain

// Names of the built-in tools.
const (
	ToolExecuteCommand = "execute_command"
	ToolFileOperation  = "file_operation"
	ToolSystemInfo     = "system_info"
)

// ToolCall is a decoded, typed invocation of one built-in tool.
// The set of implementations is closed: only the variants in this package satisfy it.
type ToolCall interface {
	ToolName() string
	isToolCall()
}

// ExecuteCommandCall runs a shell command.
type ExecuteCommandCall struct {
	Command    string `json:"command" mapstructure:"command"`
	WorkingDir string `json:"working_dir,omitempty" mapstructure:"working_dir"`
}

// FileOp is the operation performed by a FileOperationCall.
type FileOp string

const (
	FileOpRead  FileOp = "read"
	FileOpWrite FileOp = "write"
	FileOpList  FileOp = "list"
)

// DefaultEncoding is used when a FileOperationCall names no encoding.
const DefaultEncoding = "utf-8"

// FileOperationCall reads, writes or lists a path inside the workspace.
// Content is nil when the caller did not send one.
type FileOperationCall struct {
	Operation FileOp  `json:"operation" mapstructure:"operation"`
	Path      string  `json:"path" mapstructure:"path"`
	Content   *string `json:"content,omitempty" mapstructure:"content"`
	Encoding  string  `json:"encoding,omitempty" mapstructure:"encoding"`
}

// SystemInfoCall reports host and runtime information.
type SystemInfoCall struct{}

func (ExecuteCommandCall) ToolName() string { return ToolExecuteCommand }
func (FileOperationCall) ToolName() string  { return ToolFileOperation }
func (SystemInfoCall) ToolName() string     { return ToolSystemInfo }

func (ExecuteCommandCall) isToolCall() {}
func (FileOperationCall) isToolCall()  {}
func (SystemInfoCall) isToolCall()     {}
