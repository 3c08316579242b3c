package ctrl

import (
	"errors"
	"strconv"
)

// Sentinel errors the bring-up sequence and command path return. The
// root nvme package maps these onto its structured Error/ErrorCode
// taxonomy; this package stays free of that dependency so it can be
// exercised and tested on its own.
var (
	ErrNotReady              = errors.New("ctrl: controller not ready")
	ErrFatal                 = errors.New("ctrl: controller reported a fatal status")
	ErrTimeout               = errors.New("ctrl: timed out waiting for the controller")
	ErrQueueFull             = errors.New("ctrl: queue pair has no free submission slot")
	ErrProgrammingFault      = errors.New("ctrl: transaction table and ring fell out of sync")
	ErrTransferTooLarge      = errors.New("ctrl: transfer exceeds the controller's maximum data transfer size")
	ErrNamespaceNotFound     = errors.New("ctrl: namespace not found")
	ErrUnsupportedCommandSet = errors.New("ctrl: controller does not support the NVM command set")
	ErrNotSupported          = errors.New("ctrl: not supported")
)

// CommandFailure wraps a completion whose status word was not
// generic-success, carrying the raw status fields for the caller.
type CommandFailure struct {
	Op         string
	StatusType uint8
	StatusCode uint8
}

func (e *CommandFailure) Error() string {
	return "ctrl: command " + e.Op + " failed with status type " + strconv.Itoa(int(e.StatusType)) + " code " + strconv.Itoa(int(e.StatusCode))
}
