// Package nvme is the public API for binding an NVMe controller and
// driving namespace I/O against it.
package nvme

import (
	"github.com/vsrinivas/go-nvme/internal/cmdschema"
	"github.com/vsrinivas/go-nvme/internal/ctrl"
	"github.com/vsrinivas/go-nvme/internal/logging"
	"github.com/vsrinivas/go-nvme/internal/regs"
	"github.com/vsrinivas/go-nvme/internal/transport"
)

// Options configures Bind.
type Options struct {
	// Logger receives structured bring-up and command-path logging. If
	// nil, logging.Default() is used.
	Logger *logging.Logger

	// Observer receives per-command latency/byte-count samples. If nil,
	// Bind records into Telemetry when it is non-nil and otherwise uses
	// a NoOpObserver.
	Observer Observer

	// Telemetry, if non-nil, is snapshotted alongside per-queue ring
	// counters by Controller.Snapshot.
	Telemetry *Telemetry
}

// Controller is a bound NVMe controller: its admin/IO queue pairs,
// Identify data, and enumerated namespaces.
type Controller struct {
	inner     *ctrl.Controller
	observer  Observer
	telemetry *Telemetry
}

// Bind maps BAR0 through pcie, negotiates interrupts, and runs the full
// bring-up sequence (reset/configure, Identify-Controller, enumerate
// namespaces, create the I/O queue pair).
func Bind(pcie transport.Pcie, alloc transport.DmaAllocator, irqs transport.Interrupts, opts *Options) (*Controller, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := opts.Observer
	if observer == nil {
		if opts.Telemetry != nil {
			observer = NewTelemetryObserver(opts.Telemetry)
		} else {
			observer = NoOpObserver{}
		}
	}

	start := nowNanos()
	inner, err := ctrl.Bind(pcie, alloc, irqs, logger)
	observer.ObserveIdentify(uint64(nowNanos()-start), err == nil)
	if err != nil {
		return nil, WrapError("Bind", translateCtrlErr(err, 0))
	}

	return &Controller{inner: inner, observer: observer, telemetry: opts.Telemetry}, nil
}

// Identity returns the controller's parsed Identify-Controller data.
func (c *Controller) Identity() cmdschema.IdentifyControllerData { return c.inner.Identity() }

// Capabilities returns the CAP register snapshot taken at bind time.
func (c *Controller) Capabilities() regs.Capabilities { return c.inner.Capabilities() }

// Version returns the VS register snapshot taken at bind time.
func (c *Controller) Version() regs.Version { return c.inner.Version() }

// InterruptMode reports which delivery mechanism Bind negotiated.
func (c *Controller) InterruptMode() transport.InterruptMode { return c.inner.InterruptMode() }

// Namespaces returns every namespace enumerated at bind time.
func (c *Controller) Namespaces() []*Namespace {
	inner := c.inner.Namespaces()
	out := make([]*Namespace, 0, len(inner))
	for _, ns := range inner {
		out = append(out, &Namespace{inner: ns, ctrl: c})
	}
	return out
}

// Namespace returns the namespace with the given nsid, or (nil, false)
// if it was not in the active namespace list at bind time.
func (c *Controller) Namespace(nsid uint32) (*Namespace, bool) {
	inner, ok := c.inner.Namespace(nsid)
	if !ok {
		return nil, false
	}
	return &Namespace{inner: inner, ctrl: c}, true
}

// Shutdown disables the controller and waits for it to report
// not-ready.
func (c *Controller) Shutdown() error {
	if err := c.inner.Shutdown(); err != nil {
		return WrapError("Shutdown", err)
	}
	if c.telemetry != nil {
		c.telemetry.Stop()
	}
	return nil
}

// Snapshot returns a point-in-time telemetry snapshot, with the
// admin/IO queue pairs' own ring counters folded in. Returns the zero
// value if Bind was not given an Options.Telemetry.
func (c *Controller) Snapshot() TelemetrySnapshot {
	if c.telemetry == nil {
		return TelemetrySnapshot{}
	}
	adminShouldWait, adminProgErr, _, _ := c.inner.AdminQueueCounters()
	ioShouldWait, ioProgErr, _, _ := c.inner.IOQueueCounters()
	c.telemetry.ShouldWaitTotal.Store(adminShouldWait + ioShouldWait)
	c.telemetry.ProgrammingErrorTotal.Store(adminProgErr + ioProgErr)
	return c.telemetry.Snapshot()
}

// Namespace is one enumerated, bound namespace.
type Namespace struct {
	inner *ctrl.Namespace
	ctrl  *Controller
}

// NSID is the namespace identifier.
func (ns *Namespace) NSID() uint32 { return ns.inner.NSID }

// BlockCount is the namespace's size in logical blocks (NSZE).
func (ns *Namespace) BlockCount() uint64 { return ns.inner.BlockCount }

// LogicalBlockSize is the namespace's active LBA format's block size in
// bytes.
func (ns *Namespace) LogicalBlockSize() uint32 { return ns.inner.LogicalBlockSize }

// SizeBytes is BlockCount * LogicalBlockSize.
func (ns *Namespace) SizeBytes() uint64 { return ns.inner.SizeBytes() }

// ReadBlocks reads count logical blocks starting at startLBA into
// dataPages, timing the call into the bound Observer/Telemetry.
func (ns *Namespace) ReadBlocks(startLBA, count uint64, dataPages []uint64, vmoOffset uint64) error {
	start := nowNanos()
	err := ns.inner.ReadBlocks(startLBA, count, dataPages, vmoOffset)
	ns.ctrl.observer.ObserveRead(count*uint64(ns.LogicalBlockSize()), uint64(nowNanos()-start), err == nil)
	if err != nil {
		return WrapError("ReadBlocks", translateCtrlErr(err, ns.NSID()))
	}
	return nil
}

// WriteBlocks writes count logical blocks starting at startLBA from
// dataPages, timing the call into the bound Observer/Telemetry.
func (ns *Namespace) WriteBlocks(startLBA, count uint64, dataPages []uint64, vmoOffset uint64) error {
	start := nowNanos()
	err := ns.inner.WriteBlocks(startLBA, count, dataPages, vmoOffset)
	ns.ctrl.observer.ObserveWrite(count*uint64(ns.LogicalBlockSize()), uint64(nowNanos()-start), err == nil)
	if err != nil {
		return WrapError("WriteBlocks", translateCtrlErr(err, ns.NSID()))
	}
	return nil
}
