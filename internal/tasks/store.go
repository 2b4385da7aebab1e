package tasks

import "context"

// Patch is a partial task update. Nil fields are left untouched.
type Patch struct {
	Status       *Status
	Conversation []Message // non-nil replaces the stored conversation
	Environment  *Environment
	TotalTokens  *int
	Error        *TaskError
	ClearError   bool // null out the stored error
}

// ListFilter narrows List results.
type ListFilter struct {
	CWD string // match tasks whose environment cwd equals this path
}

// Page is a paged List result.
type Page struct {
	Tasks      []*Task `json:"data"`
	TotalCount int     `json:"totalCount"`
	Limit      int     `json:"limit"`
	Current    int     `json:"currentPage"`
	TotalPages int     `json:"totalPages"`
}

// Store is the persistence boundary for tasks. Implementations must make
// Create allocate TaskID from a per-user atomic sequence, UpdateIfNotStreaming
// a single conditional write, and AppendStreamID an atomic array append.
type Store interface {
	Create(ctx context.Context, userID string, initial *Task) (int64, error)
	Read(ctx context.Context, userID string, taskID int64) (*Task, error)
	ReadByRowID(ctx context.Context, rowID int64) (*Task, error)
	Update(ctx context.Context, userID string, taskID int64, patch Patch) error

	// UpdateIfNotStreaming applies the patch only when the persisted status is
	// not "streaming". The false return is the Conflict signal; it must be
	// decided by the store atomically, not read-modify-write by the caller.
	UpdateIfNotStreaming(ctx context.Context, userID string, taskID int64, patch Patch) (bool, error)

	AppendStreamID(ctx context.Context, userID string, taskID int64, streamID string) error
	LatestStreamID(ctx context.Context, userID string, taskID int64) (string, error)

	// ListStreaming returns every task whose persisted status is streaming,
	// across all users. It backs crash recovery on startup.
	ListStreaming(ctx context.Context) ([]*Task, error)

	List(ctx context.Context, userID string, page, limit int, filter ListFilter) (*Page, error)
	Delete(ctx context.Context, userID string, taskID int64) error
}
