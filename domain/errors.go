package domain

import "errors"

// Kind classifies engine failures so callers can map them without comparing
// message strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Error is a tagged engine error. Details are added by wrapping it with
// fmt.Errorf("%w: ...").
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrBoardNotFound  = newError(KindNotFound, "board_not_found", "board not found")
	ErrTaskNotFound   = newError(KindNotFound, "task_not_found", "task not found")
	ErrColumnNotFound = newError(KindNotFound, "column_not_found", "column not found")

	ErrInvalidInput           = newError(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidColumnSet       = newError(KindInvalidInput, "invalid_column_set", "invalid column set")
	ErrColumnSetMismatch      = newError(KindInvalidInput, "column_set_mismatch", "column order must include all existing columns")
	ErrIndexOutOfRange        = newError(KindInvalidInput, "index_out_of_range", "index out of range")
	ErrUseStatusChangeInstead = newError(KindInvalidInput, "use_status_change", "moving a task to another column requires a status change")
	ErrProjectMismatch        = newError(KindInvalidInput, "project_mismatch", "board does not belong to the task's project")

	ErrCannotDeleteDefaultBoard = newError(KindConflict, "default_board", "cannot delete default board")
	ErrBoardNotEmpty            = newError(KindConflict, "board_not_empty", "cannot delete board with active tasks")

	ErrConcurrentModification = newError(KindConcurrency, "concurrent_modification", "concurrent modification, retry the operation")
)

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// KindOf reports the Kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf reports the machine-readable code of err, or "internal".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}
