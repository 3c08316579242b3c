// Package cmdschema defines the wire layouts for NVMe submission and
// completion entries, the admin opcodes this driver issues, and parsers
// for the Identify command's reply payloads. Structs are marshaled by
// hand field-by-field with encoding/binary rather than cast through
// unsafe, since NVMe's packed bit fields do not fall on Go-natural
// struct alignment the way some C UAPI structs happen to.
package cmdschema

import "encoding/binary"

// SubmissionSize and CompletionSize are the fixed entry sizes this
// driver compiles for; the controller must agree (checked after
// Identify-Controller).
const (
	SubmissionSize = 64
	CompletionSize = 16

	// SubmissionSizeLog2 and CompletionSizeLog2 are the log2 forms of the
	// sizes above, in the units Identify-Controller's MinSQEntrySize/
	// MinCQEntrySize fields and CC.IOSQES/IOCQES use.
	SubmissionSizeLog2 = 6
	CompletionSizeLog2 = 4
)

// Admin opcodes this driver issues.
const (
	OpIdentify = 0x06
)

// NVM I/O opcodes.
const (
	OpNVMRead  = 0x02
	OpNVMWrite = 0x01
)

// Identify CNS selectors.
const (
	CNSNamespace           = 0x00
	CNSController          = 0x01
	CNSActiveNamespaceList = 0x02
	// IO-command-set variants: defined for completeness, never issued
	// by internal/ctrl since this driver only speaks the NVM command
	// set (spec open question: semantics for non-NVM sets unspecified).
	CNSIOCommandSetIdentifyNamespace  = 0x05
	CNSIOCommandSetIdentifyController = 0x06
	CNSIOCommandSetActiveNSList       = 0x07
	CNSIOCommandSetNSGranularity      = 0x08
)

// Status types (bits 1-3 of the status field).
const (
	StatusTypeGeneric = 0x0
)

// Submission is the 64-byte submission queue entry.
type Submission struct {
	Opcode      uint8
	Flags       uint8
	CommandID   uint16
	NSID        uint32
	MetadataPtr uint64
	PRP1        uint64
	PRP2        uint64
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
}

// Marshal writes the submission into a fresh 64-byte buffer.
func (s *Submission) Marshal() []byte {
	buf := make([]byte, SubmissionSize)
	buf[0] = s.Opcode
	buf[1] = s.Flags
	binary.LittleEndian.PutUint16(buf[2:4], s.CommandID)
	binary.LittleEndian.PutUint32(buf[4:8], s.NSID)
	// bytes 8-15 reserved, left zero
	binary.LittleEndian.PutUint64(buf[16:24], s.MetadataPtr)
	binary.LittleEndian.PutUint64(buf[24:32], s.PRP1)
	binary.LittleEndian.PutUint64(buf[32:40], s.PRP2)
	binary.LittleEndian.PutUint32(buf[40:44], s.CDW10)
	binary.LittleEndian.PutUint32(buf[44:48], s.CDW11)
	binary.LittleEndian.PutUint32(buf[48:52], s.CDW12)
	binary.LittleEndian.PutUint32(buf[52:56], s.CDW13)
	binary.LittleEndian.PutUint32(buf[56:60], s.CDW14)
	binary.LittleEndian.PutUint32(buf[60:64], s.CDW15)
	return buf
}

// UnmarshalSubmission reads a 64-byte submission entry out of a ring
// slot. Used by internal/transport.Simulated to interpret what the
// driver wrote.
func UnmarshalSubmission(data []byte) Submission {
	var s Submission
	s.Opcode = data[0]
	s.Flags = data[1]
	s.CommandID = binary.LittleEndian.Uint16(data[2:4])
	s.NSID = binary.LittleEndian.Uint32(data[4:8])
	s.MetadataPtr = binary.LittleEndian.Uint64(data[16:24])
	s.PRP1 = binary.LittleEndian.Uint64(data[24:32])
	s.PRP2 = binary.LittleEndian.Uint64(data[32:40])
	s.CDW10 = binary.LittleEndian.Uint32(data[40:44])
	s.CDW11 = binary.LittleEndian.Uint32(data[44:48])
	s.CDW12 = binary.LittleEndian.Uint32(data[48:52])
	s.CDW13 = binary.LittleEndian.Uint32(data[52:56])
	s.CDW14 = binary.LittleEndian.Uint32(data[56:60])
	s.CDW15 = binary.LittleEndian.Uint32(data[60:64])
	return s
}

// Completion is the 16-byte completion queue entry.
type Completion struct {
	DW0        uint32
	DW1        uint32
	SQHead     uint16
	SQID       uint16
	CommandID  uint16
	StatusWord uint16
}

// Phase returns bit 0 of the status word.
func (c Completion) Phase() bool {
	return c.StatusWord&1 != 0
}

// StatusType returns bits 1-3 (generic, command-specific, media, etc).
func (c Completion) StatusType() uint8 {
	return uint8((c.StatusWord >> 1) & 0x7)
}

// StatusCode returns bits 4-11.
func (c Completion) StatusCode() uint8 {
	return uint8((c.StatusWord >> 4) & 0xFF)
}

// Success reports whether the completion carries a generic-type,
// zero-code status.
func (c Completion) Success() bool {
	return c.StatusType() == StatusTypeGeneric && c.StatusCode() == 0
}

// Marshal writes the completion into a fresh 16-byte buffer, with the
// given phase bit. Used only by internal/transport.Simulated to
// fabricate completions.
func (c Completion) Marshal(phase bool) []byte {
	buf := make([]byte, CompletionSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], c.DW1)
	binary.LittleEndian.PutUint16(buf[8:10], c.SQHead)
	binary.LittleEndian.PutUint16(buf[10:12], c.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], c.CommandID)
	word := c.StatusWord &^ 1
	if phase {
		word |= 1
	}
	binary.LittleEndian.PutUint16(buf[14:16], word)
	return buf
}

// UnmarshalCompletion reads a 16-byte completion entry.
func UnmarshalCompletion(data []byte) Completion {
	var c Completion
	c.DW0 = binary.LittleEndian.Uint32(data[0:4])
	c.DW1 = binary.LittleEndian.Uint32(data[4:8])
	c.SQHead = binary.LittleEndian.Uint16(data[8:10])
	c.SQID = binary.LittleEndian.Uint16(data[10:12])
	c.CommandID = binary.LittleEndian.Uint16(data[12:14])
	c.StatusWord = binary.LittleEndian.Uint16(data[14:16])
	return c
}

// IdentifyControllerData is the fields this driver reads out of the
// one-page Identify(CNS=Controller) reply.
type IdentifyControllerData struct {
	SerialNumber     string
	ModelNumber      string
	FirmwareRevision string
	NumNamespaces    uint32
	MaxDataTransfer  uint8 // log2, 0 means no limit
	MinSQEntrySize   uint8 // log2 (low nibble of the byte)
	MinCQEntrySize   uint8 // log2 (low nibble of the byte)
}

// Identify-Controller reply field offsets (NVMe base spec, Figure
// "Identify Controller data structure").
const (
	idCtrlSerialOffset   = 4
	idCtrlSerialLen      = 20
	idCtrlModelOffset    = 24
	idCtrlModelLen       = 40
	idCtrlFirmwareOffset = 64
	idCtrlFirmwareLen    = 8
	idCtrlMDTSOffset     = 77
	idCtrlNNOffset       = 516
	idCtrlSQESOffset     = 512
	idCtrlCQESOffset     = 513
)

// ParseIdentifyController parses a one-page Identify(CNS=Controller)
// reply.
func ParseIdentifyController(page []byte) IdentifyControllerData {
	return IdentifyControllerData{
		SerialNumber:     trimASCII(page[idCtrlSerialOffset : idCtrlSerialOffset+idCtrlSerialLen]),
		ModelNumber:      trimASCII(page[idCtrlModelOffset : idCtrlModelOffset+idCtrlModelLen]),
		FirmwareRevision: trimASCII(page[idCtrlFirmwareOffset : idCtrlFirmwareOffset+idCtrlFirmwareLen]),
		NumNamespaces:    binary.LittleEndian.Uint32(page[idCtrlNNOffset : idCtrlNNOffset+4]),
		MaxDataTransfer:  page[idCtrlMDTSOffset],
		MinSQEntrySize:   page[idCtrlSQESOffset] & 0xF,
		MinCQEntrySize:   page[idCtrlCQESOffset] & 0xF,
	}
}

// ParseActiveNamespaceList parses a one-page Identify(CNS=
// ActiveNamespaceList) reply: an ordered array of 1024 32-bit nsids
// terminated by the first zero.
func ParseActiveNamespaceList(page []byte) []uint32 {
	var nsids []uint32
	for i := 0; i < 1024; i++ {
		off := i * 4
		id := binary.LittleEndian.Uint32(page[off : off+4])
		if id == 0 {
			break
		}
		nsids = append(nsids, id)
	}
	return nsids
}

// LBAFormat describes one entry of a namespace's LBA-format table.
type LBAFormat struct {
	MetadataSizeBytes uint16
	LBADataSizeLog2   uint8
	PerformanceClass  uint8
}

// SizeBytes returns 1 << LBADataSizeLog2.
func (f LBAFormat) SizeBytes() uint32 {
	return 1 << uint(f.LBADataSizeLog2)
}

// IdentifyNamespaceData is the fields this driver reads out of the
// one-page Identify(CNS=Namespace) reply.
type IdentifyNamespaceData struct {
	NSZE          uint64
	NumLBAFormats uint8
	FLBAS         uint8 // packed format selector
	LBAFormats    [64]LBAFormat
}

const (
	idNSNSZEOffset    = 0
	idNSNLBAFOffset   = 25
	idNSFLBASOffset   = 26
	idNSLBAFormatBase = 128
	idNSLBAFormatSize = 4
)

// ParseIdentifyNamespace parses a one-page Identify(CNS=Namespace)
// reply.
func ParseIdentifyNamespace(page []byte) IdentifyNamespaceData {
	var d IdentifyNamespaceData
	d.NSZE = binary.LittleEndian.Uint64(page[idNSNSZEOffset : idNSNSZEOffset+8])
	d.NumLBAFormats = page[idNSNLBAFOffset] + 1 // field stores count-1
	d.FLBAS = page[idNSFLBASOffset]
	for i := 0; i < 64; i++ {
		off := idNSLBAFormatBase + i*idNSLBAFormatSize
		raw := binary.LittleEndian.Uint32(page[off : off+idNSLBAFormatSize])
		d.LBAFormats[i] = LBAFormat{
			MetadataSizeBytes: uint16(raw & 0xFFFF),
			LBADataSizeLog2:   uint8((raw >> 16) & 0xFF),
			PerformanceClass:  uint8((raw >> 24) & 0x3),
		}
	}
	return d
}

// CurrentLBAFormatIndex reconstructs the active LBA-format index from
// FLBAS: the low nibble always, plus the high 2 bits when the
// namespace reports more than 16 formats.
func (d IdentifyNamespaceData) CurrentLBAFormatIndex() uint8 {
	idx := d.FLBAS & 0xF
	if d.NumLBAFormats > 16 {
		idx |= (d.FLBAS >> 5) & 0x3 << 4
	}
	return idx
}

// CurrentLBAFormat returns the namespace's active LBA format.
func (d IdentifyNamespaceData) CurrentLBAFormat() LBAFormat {
	return d.LBAFormats[d.CurrentLBAFormatIndex()]
}

func trimASCII(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}
