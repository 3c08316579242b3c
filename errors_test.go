package nvme

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Bind", ErrCodeInvalidParameters, "invalid queue depth")

	if err.Op != "Bind" {
		t.Errorf("Op = %q, want Bind", err.Op)
	}
	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInvalidParameters)
	}

	expected := "nvme: invalid queue depth (op=Bind)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNamespaceError(t *testing.T) {
	err := NewNamespaceError("ReadBlocks", 7, ErrCodeNamespaceNotFound, "no such namespace")
	if err.NSID != 7 {
		t.Errorf("NSID = %d, want 7", err.NSID)
	}
	expected := "nvme: no such namespace (op=ReadBlocks)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	err := NewCommandError("ReadBlocks", 1, 1, 0x2, 0x80)
	if err.Code != ErrCodeCommandFailed {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeCommandFailed)
	}
	if err.StatusType != 0x2 || err.StatusCode != 0x80 {
		t.Errorf("status = %d/%d, want 2/128", err.StatusType, err.StatusCode)
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewNamespaceError("Identify", 1, ErrCodeTimeout, "deadline exceeded")
	wrapped := WrapError("ReadBlocks", inner)

	if wrapped.Op != "ReadBlocks" {
		t.Errorf("Op = %q, want ReadBlocks", wrapped.Op)
	}
	if wrapped.Code != ErrCodeTimeout {
		t.Errorf("Code = %s, want %s", wrapped.Code, ErrCodeTimeout)
	}
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("Bind", syscall.ENOMEM)
	if err.Code != ErrCodeInsufficientMemory {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInsufficientMemory)
	}
	if !errors.Is(err, syscall.ENOMEM) {
		t.Error("expected wrapped error to satisfy errors.Is for ENOMEM")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Bind", ErrCodeTimeout, "timed out")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for a matching code")
	}
	if IsCode(err, ErrCodeIOError) {
		t.Error("IsCode should return false for a non-matching code")
	}
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for a nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOMEM, ErrCodeInsufficientMemory},
		{syscall.ENOSPC, ErrCodeInsufficientMemory},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EIO, ErrCodeIOError},
	}
	for _, c := range cases {
		if got := mapErrnoToCode(c.errno); got != c.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", c.errno, got, c.expected)
		}
	}
}
