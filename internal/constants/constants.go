// Package constants holds tunable defaults shared by the controller,
// queue, and transport layers.
package constants

import "time"

// Queue sizing defaults
const (
	// AdminQueueMaxEntries is the maximum entry count requested for the
	// admin queue pair at Init time.
	AdminQueueMaxEntries = 4096

	// DefaultLogicalBlockSize is the common 512-byte LBA size. No code
	// in this module reads it: a namespace's block size always comes
	// from its current LBA format in the Identify-Namespace reply.
	DefaultLogicalBlockSize = 512

	// HostPageSize is the page size this host presents to the
	// controller during CC configuration and PRP-list math. NVMe hosts
	// always use a power-of-two page size; 4096 matches every platform
	// the simulated transport and real VFIO mappings target.
	HostPageSize = 4096

	// HostPageShift is log2(HostPageSize) - 12, the value CC.MPS expects.
	HostPageShift = 0

	// PrpEntrySize is the width of one PRP-list entry (a 64-bit physical
	// address).
	PrpEntrySize = 8
)

// Reset and bring-up timing
//
// The reset-and-configure sequence polls CSTS at a fixed cadence bounded
// by the controller's advertised timeout. Real NVMe controllers can take
// up to several seconds to leave reset; 1ms keeps the poll responsive
// without hammering the register file.
const (
	// ResetPollInterval is the cadence at which CSTS.RDY is polled
	// during both halves of the reset/configure sequence.
	ResetPollInterval = 1 * time.Millisecond

	// CapTimeoutUnitMs is the length of one CAP.TO unit: each count is
	// 500ms per the NVMe base specification.
	CapTimeoutUnitMs = 500 * time.Millisecond
)

// Simulated-transport defaults, used by internal/transport.Simulated and
// the cmd/nvme-sim demo when no override is supplied.
const (
	// SimulatedMaxQueueEntries caps the I/O queue pair size the
	// simulated controller advertises via CAP.
	SimulatedMaxQueueEntries = 256

	// SimulatedTimeoutTicks is CAP.TO for the simulated controller (in
	// CapTimeoutUnitMs units).
	SimulatedTimeoutTicks = 4
)
