// Package tools resolves and executes tool calls on behalf of a client
// runtime. Calls are serialized per runtime instance: tools mutate shared
// local state (files, terminals) and must never interleave.
package tools

// Builtin tool names.
const (
	NameReadFile            = "readFile"
	NameWriteToFile         = "writeToFile"
	NameExecuteCommand      = "executeCommand"
	NameGlobFiles           = "globFiles"
	NameListFiles           = "listFiles"
	NameTodoWrite           = "todoWrite"
	NameAttemptCompletion   = "attemptCompletion"
	NameAskFollowupQuestion = "askFollowupQuestion"
)

// IsCompletionTool reports whether a tool call signals the task is done.
func IsCompletionTool(name string) bool {
	return name == NameAttemptCompletion
}

// IsUserInputTool reports whether a tool call requires input from the user
// before the task can continue.
func IsUserInputTool(name string) bool {
	return name == NameAskFollowupQuestion
}
