// Package regs provides a typed view over the NVMe controller's
// memory-mapped register file. All multi-byte fields are little-endian
// on the wire; accessors convert so the rest of the driver never deals
// in raw bytes.
package regs

import "encoding/binary"

// Register byte offsets per the NVMe 2.0 Base Specification.
const (
	OffsetCAP   = 0x00 // Controller Capabilities, 8 bytes, read-only
	OffsetVS    = 0x08 // Version, 4 bytes, read-only
	OffsetINTMS = 0x0C // Interrupt Mask Set, 4 bytes, write-only
	OffsetINTMC = 0x10 // Interrupt Mask Clear, 4 bytes, write-only
	OffsetCC    = 0x14 // Controller Configuration, 4 bytes, read/write
	OffsetCSTS  = 0x1C // Controller Status, 4 bytes, read-only
	OffsetAQA   = 0x24 // Admin Queue Attributes, 4 bytes
	OffsetASQ   = 0x28 // Admin Submission Queue base address, 8 bytes
	OffsetACQ   = 0x30 // Admin Completion Queue base address, 8 bytes

	OffsetDoorbells = 0x1000 // doorbell array base
)

// CC field masks and shifts.
const (
	ccEnableBit    = 1 << 0
	ccCSSShift     = 4
	ccCSSMask      = 0x7 << ccCSSShift
	ccMPSShift     = 7
	ccMPSMask      = 0xF << ccMPSShift
	ccAMSShift     = 11
	ccAMSMask      = 0x7 << ccAMSShift
	ccShnShift     = 14
	ccShnMask      = 0x3 << ccShnShift
	ccIOSQESShift  = 16
	ccIOSQESMask   = 0xF << ccIOSQESShift
	ccIOCQESShift  = 20
	ccIOCQESMask   = 0xF << ccIOCQESShift
)

// CSS (I/O command set selected) values.
const (
	CSSNVM = 0x0
)

// Arbitration mechanism selection.
const (
	AMSRoundRobin = 0x0
)

// CSTS field masks.
const (
	cstsRdyBit = 1 << 0
	cstsCfsBit = 1 << 1
)

// Bar is the MMIO capability this package is built on: a byte-addressed
// register region. A real PCIe transport supplies a live mapping; tests
// and the demo supply internal/transport.Simulated's in-memory region.
// The register map never assumes a concrete implementation so both can
// share the same accessor code.
type Bar interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, v uint32)
	Read64(offset uintptr) uint64
	Write64(offset uintptr, v uint64)
}

// Capabilities is a read-once snapshot of CAP. CAP is read-only on the
// wire; downstream code must never treat it as mutable, so it is
// captured into this value type at bind time and never re-read.
type Capabilities struct {
	MaxQueueEntries      uint32 // MQES + 1
	ContiguousQueuesReq  bool   // CQR
	ArbitrationSupported uint8  // AMS bitmask
	TimeoutTicks         uint8  // TO, in 500ms units
	DoorbellStride       uint8  // DSTRD, power of two
	SubsystemResetSupp   bool   // NSSRS
	SupportsNVMCommand   bool   // CSS bit 0
	BootPartitionSupp    bool   // BPS
	MemPageSizeMinLog2   uint8  // MPSMIN, actual exponent is value+12
	MemPageSizeMaxLog2   uint8  // MPSMAX, actual exponent is value+12
}

// MemPageSizeMinBytes returns the minimum supported host page size.
func (c Capabilities) MemPageSizeMinBytes() uint64 {
	return 1 << (12 + uint(c.MemPageSizeMinLog2))
}

// MemPageSizeMaxBytes returns the maximum supported host page size.
func (c Capabilities) MemPageSizeMaxBytes() uint64 {
	return 1 << (12 + uint(c.MemPageSizeMaxLog2))
}

// TimeoutDuration is CAP.TO expressed as a count of 500ms units; callers
// multiply by the 500ms tick length themselves (see internal/constants).
func (c Capabilities) TimeoutDuration() uint8 {
	return c.TimeoutTicks
}

// ReadCapabilities snapshots CAP into a Capabilities value.
func ReadCapabilities(bar Bar) Capabilities {
	raw := bar.Read64(OffsetCAP)
	return Capabilities{
		MaxQueueEntries:      uint32(raw&0xFFFF) + 1,
		ContiguousQueuesReq:  raw&(1<<16) != 0,
		ArbitrationSupported: uint8((raw >> 17) & 0x3),
		TimeoutTicks:         uint8((raw >> 24) & 0xFF),
		DoorbellStride:       uint8((raw >> 32) & 0xF),
		SubsystemResetSupp:   raw&(1<<36) != 0,
		SupportsNVMCommand:   raw&(1<<37) != 0,
		BootPartitionSupp:    raw&(1<<45) != 0,
		MemPageSizeMinLog2:   uint8((raw >> 48) & 0xF),
		MemPageSizeMaxLog2:   uint8((raw >> 52) & 0xF),
	}
}

// Version is a read-once snapshot of VS, carried only for telemetry.
type Version struct {
	Major    uint16
	Minor    uint8
	Tertiary uint8
}

// ReadVersion snapshots VS into a Version value.
func ReadVersion(bar Bar) Version {
	raw := bar.Read32(OffsetVS)
	return Version{
		Tertiary: uint8(raw & 0xFF),
		Minor:    uint8((raw >> 8) & 0xFF),
		Major:    uint16(raw >> 16),
	}
}

// CCConfig describes the fields written to CC when enabling the
// controller.
type CCConfig struct {
	IOSubmissionEntrySizeLog2  uint8
	IOCompletionEntrySizeLog2  uint8
	MemPageSizeLog2Minus12     uint8
	ArbitrationMechanism       uint8
	IOCommandSet               uint8
	Enable                     bool
}

// WriteCC packs a CCConfig into CC and writes it.
func WriteCC(bar Bar, cfg CCConfig) {
	var v uint32
	if cfg.Enable {
		v |= ccEnableBit
	}
	v |= (uint32(cfg.IOCommandSet) << ccCSSShift) & ccCSSMask
	v |= (uint32(cfg.MemPageSizeLog2Minus12) << ccMPSShift) & ccMPSMask
	v |= (uint32(cfg.ArbitrationMechanism) << ccAMSShift) & ccAMSMask
	v |= (uint32(cfg.IOCompletionEntrySizeLog2) << ccIOCQESShift) & ccIOCQESMask
	v |= (uint32(cfg.IOSubmissionEntrySizeLog2) << ccIOSQESShift) & ccIOSQESMask
	bar.Write32(OffsetCC, v)
}

// ReadCC reads back the live CC register.
func ReadCC(bar Bar) CCConfig {
	v := bar.Read32(OffsetCC)
	return CCConfig{
		Enable:                    v&ccEnableBit != 0,
		IOCommandSet:              uint8((v & ccCSSMask) >> ccCSSShift),
		MemPageSizeLog2Minus12:    uint8((v & ccMPSMask) >> ccMPSShift),
		ArbitrationMechanism:      uint8((v & ccAMSMask) >> ccAMSShift),
		IOCompletionEntrySizeLog2: uint8((v & ccIOCQESMask) >> ccIOCQESShift),
		IOSubmissionEntrySizeLog2: uint8((v & ccIOSQESMask) >> ccIOSQESShift),
	}
}

// Status is a live (non-snapshotted) read of CSTS.
type Status struct {
	Ready bool
	Fatal bool
}

// ReadCSTS reads the live CSTS register.
func ReadCSTS(bar Bar) Status {
	v := bar.Read32(OffsetCSTS)
	return Status{
		Ready: v&cstsRdyBit != 0,
		Fatal: v&cstsCfsBit != 0,
	}
}

// WriteAQA writes the admin queue attributes (each count minus one).
func WriteAQA(bar Bar, submissionEntries, completionEntries uint32) {
	v := (submissionEntries - 1) | ((completionEntries - 1) << 16)
	bar.Write32(OffsetAQA, v)
}

// WriteASQ writes the admin submission queue's physical base address.
func WriteASQ(bar Bar, phys uint64) {
	bar.Write64(OffsetASQ, phys)
}

// WriteACQ writes the admin completion queue's physical base address.
func WriteACQ(bar Bar, phys uint64) {
	bar.Write64(OffsetACQ, phys)
}

// MaskInterrupts sets INTMS bit 0. Used only on the legacy (non-MSI-X)
// interrupt path, as a pre-reap barrier.
func MaskInterrupts(bar Bar) {
	bar.Write32(OffsetINTMS, 1)
}

// UnmaskInterrupts clears INTMS via INTMC bit 0. Used only on the
// legacy path, as a post-reap barrier.
func UnmaskInterrupts(bar Bar) {
	bar.Write32(OffsetINTMC, 1)
}

// SubmissionDoorbellOffset returns the offset of a queue id's
// submission-tail doorbell.
func SubmissionDoorbellOffset(queueID uint16, doorbellStride uint8) uintptr {
	return OffsetDoorbells + uintptr(2*int(queueID))*(4<<uintptr(doorbellStride))
}

// CompletionDoorbellOffset returns the offset of a queue id's
// completion-head doorbell, one stride-width further than the
// submission doorbell.
func CompletionDoorbellOffset(queueID uint16, doorbellStride uint8) uintptr {
	return SubmissionDoorbellOffset(queueID, doorbellStride) + (4 << uintptr(doorbellStride))
}

// RingSubmissionDoorbell writes a new submission tail value.
func RingSubmissionDoorbell(bar Bar, queueID uint16, doorbellStride uint8, value uint32) {
	bar.Write32(SubmissionDoorbellOffset(queueID, doorbellStride), value)
}

// RingCompletionDoorbell writes a new completion head value.
func RingCompletionDoorbell(bar Bar, queueID uint16, doorbellStride uint8, value uint32) {
	bar.Write32(CompletionDoorbellOffset(queueID, doorbellStride), value)
}

// byteOrder is the little-endian codec the register map uses; other
// packages reach it through ByteOrder.
var byteOrder = binary.LittleEndian

// ByteOrder returns the wire byte order used throughout this driver.
func ByteOrder() binary.ByteOrder {
	return byteOrder
}
