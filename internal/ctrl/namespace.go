package ctrl

import "github.com/vsrinivas/go-nvme/internal/cmdschema"

// Namespace is one enumerated, bound namespace: its geometry plus a
// back-reference to the controller that owns the I/O queue pair it
// transfers on.
type Namespace struct {
	ctrl *Controller

	NSID              uint32
	BlockCount        uint64
	LogicalBlockSize  uint32
	MetadataSizeBytes uint16
}

// ReadBlocks reads count logical blocks starting at startLBA into
// dataPages (physical pages backing the destination buffer).
func (ns *Namespace) ReadBlocks(startLBA, count uint64, dataPages []uint64, vmoOffset uint64) error {
	return ns.ctrl.nvmTransfer(cmdschema.OpNVMRead, ns.NSID, startLBA, count, ns.LogicalBlockSize, dataPages, vmoOffset)
}

// WriteBlocks writes count logical blocks starting at startLBA from
// dataPages (physical pages backing the source buffer).
func (ns *Namespace) WriteBlocks(startLBA, count uint64, dataPages []uint64, vmoOffset uint64) error {
	return ns.ctrl.nvmTransfer(cmdschema.OpNVMWrite, ns.NSID, startLBA, count, ns.LogicalBlockSize, dataPages, vmoOffset)
}

// SizeBytes is the namespace's total addressable size.
func (ns *Namespace) SizeBytes() uint64 {
	return ns.BlockCount * uint64(ns.LogicalBlockSize)
}
