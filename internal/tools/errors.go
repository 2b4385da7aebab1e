package tools

import "fmt"

// UnknownToolError reports a call to a name the lookup chain cannot resolve.
type UnknownToolError struct {
	ToolName string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("%s is not a valid tool", e.ToolName)
}

// ArgumentError reports tool arguments that failed to decode. Like every
// tool failure it surfaces as assistant-visible text in the result, never as
// a hard task failure.
type ArgumentError struct {
	ToolName string
	Cause    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.ToolName, e.Cause)
}

func (e *ArgumentError) Unwrap() error { return e.Cause }
