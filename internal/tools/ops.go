// Package tools assembles the build tools and dispatches model tool calls.
package tools

import "fmt"

// Op is a tool the agent may call.
type Op string

const (
	OpReadFile   Op = "read_file"
	OpWriteFile  Op = "write_file"
	OpEditFile   Op = "edit_file"
	OpDeleteFile Op = "delete_file"
	OpListFiles  Op = "list_files"
	OpRunCommand Op = "run_command"
	OpGrep       Op = "grep"
	OpSearchCode Op = "search_code"
	OpViewImage  Op = "view_image"
)

// Ops lists every Op in the order they are described to the model.
var Ops = []Op{
	OpReadFile, OpWriteFile, OpEditFile, OpDeleteFile, OpListFiles,
	OpRunCommand, OpGrep, OpSearchCode, OpViewImage,
}

// ParseOp returns the Op named s.
func ParseOp(s string) (Op, error) {
	for _, op := range Ops {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown tool %q", s)
}

// Mutates reports whether the op can change the workspace.
func (o Op) Mutates() bool {
	switch o {
	case OpWriteFile, OpEditFile, OpDeleteFile, OpRunCommand:
		return true
	}
	return false
}
