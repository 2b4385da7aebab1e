package pipeline

import (
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/sidekick/internal/tools"
)

// BuiltinToolInfos declares the builtin tool surface for model binding.
// External tools discovered at runtime carry no parameter schema here; the
// model receives their descriptions only.
func BuiltinToolInfos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: tools.NameReadFile,
			Desc: "Read the contents of a file with optional line offset and limit.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path":   {Type: schema.String, Desc: "Path to the file to read", Required: true},
				"offset": {Type: schema.Integer, Desc: "Line offset (0-based) to start reading from"},
				"limit":  {Type: schema.Integer, Desc: "Maximum number of lines to return"},
			}),
		},
		{
			Name: tools.NameWriteToFile,
			Desc: "Write content to a file, creating parent directories.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path":    {Type: schema.String, Desc: "Path to the file to write", Required: true},
				"content": {Type: schema.String, Desc: "Content to write", Required: true},
			}),
		},
		{
			Name: tools.NameExecuteCommand,
			Desc: "Execute a shell command. Returns stdout, stderr, and exit code.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"command":     {Type: schema.String, Desc: "The shell command to execute", Required: true},
				"working_dir": {Type: schema.String, Desc: "Working directory for the command"},
				"timeout":     {Type: schema.Integer, Desc: "Timeout in seconds"},
			}),
		},
		{
			Name: tools.NameGlobFiles,
			Desc: "Find files matching a glob pattern, including ** for recursive matches.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"pattern": {Type: schema.String, Desc: "Glob pattern to match", Required: true},
				"root":    {Type: schema.String, Desc: "Directory to search from"},
			}),
		},
		{
			Name: tools.NameListFiles,
			Desc: "List the entries of a directory.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path": {Type: schema.String, Desc: "Directory to list"},
			}),
		},
		{
			Name: tools.NameTodoWrite,
			Desc: "Replace the working checklist for the current task.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"todos": {
					Type: schema.Array,
					Desc: "The full checklist, replacing the previous one",
					ElemInfo: &schema.ParameterInfo{
						Type: schema.Object,
						SubParams: map[string]*schema.ParameterInfo{
							"id":      {Type: schema.String, Desc: "Stable item id"},
							"content": {Type: schema.String, Desc: "What to do", Required: true},
							"status":  {Type: schema.String, Desc: "Item status", Enum: []string{"pending", "in-progress", "completed"}},
						},
					},
					Required: true,
				},
			}),
		},
		{
			Name: tools.NameAttemptCompletion,
			Desc: "Signal that the task is complete, with a summary of the result.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"result": {Type: schema.String, Desc: "Summary of what was accomplished", Required: true},
			}),
		},
		{
			Name: tools.NameAskFollowupQuestion,
			Desc: "Ask the user a question and wait for their answer before continuing.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"question": {Type: schema.String, Desc: "The question to ask", Required: true},
			}),
		},
	}
}
