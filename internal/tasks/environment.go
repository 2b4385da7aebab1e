package tasks

import "fmt"

// EnvironmentInfo identifies the machine and workspace a task runs against.
type EnvironmentInfo struct {
	OS    string `json:"os"`
	CWD   string `json:"cwd"`
	Shell string `json:"shell,omitempty"`
}

// Workspace is a snapshot of the client's workspace file listing.
type Workspace struct {
	Files       []string `json:"files,omitempty"`
	IsTruncated bool     `json:"isTruncated,omitempty"`
}

// Environment is captured once at task creation or resume. A task may only
// be resumed from the same machine and working directory.
type Environment struct {
	CurrentTime string          `json:"currentTime,omitempty"`
	Info        EnvironmentInfo `json:"info"`
	Workspace   *Workspace      `json:"workspace,omitempty"`
}

// VerifyEnvironment checks a caller-supplied environment against the stored
// one. A nil on either side passes: a task created without an environment
// accepts any, and a caller that sends none is trusted to be the original.
// OS and CWD must match; anything else (open files, time) may drift freely.
func VerifyEnvironment(supplied, stored *Environment) error {
	if stored == nil || supplied == nil {
		return nil
	}
	if supplied.Info.OS != stored.Info.OS {
		return fmt.Errorf("%w: os %q != %q", ErrEnvironmentMismatch, supplied.Info.OS, stored.Info.OS)
	}
	if supplied.Info.CWD != stored.Info.CWD {
		return fmt.Errorf("%w: cwd %q != %q", ErrEnvironmentMismatch, supplied.Info.CWD, stored.Info.CWD)
	}
	return nil
}
