package nvme

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/vsrinivas/go-nvme/internal/ctrl"
)

// Error is a structured NVMe driver error: enough context to log or
// branch on without string-matching, and a wrapped cause for
// errors.Is/As chains.
type Error struct {
	Op         string    // operation that failed, e.g. "Bind", "Identify", "ReadBlocks"
	NSID       uint32    // namespace id, 0 if not applicable
	Queue      int       // queue id, -1 if not applicable
	Code       ErrorCode // high-level category
	StatusType uint8     // NVMe completion status type, if this came from a command
	StatusCode uint8     // NVMe completion status code, if this came from a command
	Errno      syscall.Errno
	Msg        string
	Inner      error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.NSID != 0 {
		parts = append(parts, fmt.Sprintf("nsid=%d", e.NSID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}
	if e.Code == ErrCodeCommandFailed {
		parts = append(parts, fmt.Sprintf("status=%d/%d", e.StatusType, e.StatusCode))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("nvme: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvme: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level category every Error carries.
type ErrorCode string

const (
	ErrCodeNotReady          ErrorCode = "controller not ready"
	ErrCodeFatal             ErrorCode = "controller reported a fatal status"
	ErrCodeTimeout           ErrorCode = "timed out waiting for the controller"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNamespaceNotFound ErrorCode = "namespace not found"
	ErrCodeCommandFailed     ErrorCode = "command completed with an error status"
	ErrCodeQueueFull         ErrorCode = "queue pair has no free submission slot"
	ErrCodeIOError           ErrorCode = "I/O error"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeNotSupported      ErrorCode = "not supported"
)

// NewError builds a bare structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Queue: -1}
}

// NewNamespaceError builds an error scoped to one namespace.
func NewNamespaceError(op string, nsid uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, NSID: nsid, Code: code, Msg: msg, Queue: -1}
}

// NewCommandError builds an error from a failed completion's status
// fields.
func NewCommandError(op string, nsid uint32, queue int, statusType, statusCode uint8) *Error {
	return &Error{
		Op: op, NSID: nsid, Queue: queue, Code: ErrCodeCommandFailed,
		StatusType: statusType, StatusCode: statusCode,
		Msg: fmt.Sprintf("command failed with status type %d code %d", statusType, statusCode),
	}
}

// translateCtrlErr maps internal/ctrl's sentinel errors and
// *ctrl.CommandFailure onto this package's ErrorCode taxonomy, scoped
// to nsid.
func translateCtrlErr(err error, nsid uint32) *Error {
	if err == nil {
		return nil
	}
	var cf *ctrl.CommandFailure
	if errors.As(err, &cf) {
		return &Error{Op: cf.Op, NSID: nsid, Queue: -1, Code: ErrCodeCommandFailed,
			StatusType: cf.StatusType, StatusCode: cf.StatusCode,
			Msg: fmt.Sprintf("command failed with status type %d code %d", cf.StatusType, cf.StatusCode)}
	}
	switch {
	case errors.Is(err, ctrl.ErrQueueFull):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeQueueFull, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrTimeout):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeTimeout, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrFatal):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeFatal, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrNotReady):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeNotReady, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrNotSupported), errors.Is(err, ctrl.ErrUnsupportedCommandSet):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeNotSupported, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrTransferTooLarge), errors.Is(err, ctrl.ErrNamespaceNotFound):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeInvalidParameters, Msg: err.Error()}
	case errors.Is(err, ctrl.ErrProgrammingFault):
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeIOError, Msg: err.Error()}
	default:
		return &Error{NSID: nsid, Queue: -1, Code: ErrCodeIOError, Msg: err.Error(), Inner: err}
	}
}

// WrapError wraps an arbitrary error with NVMe context, promoting
// syscall errnos to a matching ErrorCode and passing an existing
// *Error through with its operation updated.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		cp := *e
		cp.Op = op
		return &cp
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner, Queue: -1}
	}
	return &Error{Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner, Queue: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EINVAL:
		return ErrCodeInvalidParameters
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given
// code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
