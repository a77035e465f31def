package tools

import "fmt"

// ErrToolUnavailable reports a dispatch to a tool that is not registered.
// The agent records it as a failure observation; it never aborts a run.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrDuplicateTool is returned by Registry.Register when a tool name is
// already taken.
type ErrDuplicateTool struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrDuplicateTool) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.ToolName)
}
