package transport

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vsrinivas/go-nvme/internal/cmdschema"
	"github.com/vsrinivas/go-nvme/internal/constants"
	"github.com/vsrinivas/go-nvme/internal/regs"
)

// SimulatedNamespace is the seed data for one namespace Simulated
// should expose through Identify and serve NVM reads/writes against.
type SimulatedNamespace struct {
	NSID           uint32
	BlockCount     uint64 // NSZE
	LogicalBlockSizeLog2 uint8
}

// SimulatedIdentity is the controller-level identity Simulated reports
// back from Identify(CNS=Controller).
type SimulatedIdentity struct {
	SerialNumber     string
	ModelNumber      string
	FirmwareRevision string
}

// simNamespace is a namespace's live, mutable state: its identity plus
// a backing store reads and writes actually land in.
type simNamespace struct {
	blockCount uint64
	lbaLog2    uint8
	data       []byte
}

func (n *simNamespace) blockSize() int { return 1 << uint(n.lbaLog2) }

// Simulated is an in-process fake NVMe controller. It implements Pcie,
// DmaAllocator and Interrupts itself, and doubles as the regs.Bar that
// MapBar0 hands back, so that register writes the driver makes (CC,
// doorbells) have observable side effects without a kernel or real
// hardware underneath. Grounded on go-ublk's testing.MockBackend (an
// in-process stand-in that answers the same interface real I/O would
// use) and backend/mem.go's in-memory data plane.
type Simulated struct {
	mem      *regs.MemoryBar
	pageSize int

	mu       sync.Mutex
	nextPhys uint64
	pages    map[uint64][]byte

	irqCh chan struct{}

	identity   SimulatedIdentity
	namespaces map[uint32]*simNamespace
	nsOrder    []uint32

	doorbellStride uint8
	ioQueueID      uint16
	ready          bool

	admin simQueueState
	io    simQueueState
	ioSet bool
}

// simQueueState is one queue pair's worth of device-side bookkeeping:
// where the rings live, how big they are, and where this fake
// controller's cursors sit in them.
type simQueueState struct {
	sqPhys, cqPhys     uint64
	sqEntries, cqEntries uint32
	subHead            uint32 // next slot this fake device will consume
	compTail           uint32 // next slot this fake device will fill
	phase              bool
}

// NewSimulated constructs a fake controller with the given identity
// and namespace set. Capacities and timeouts come from
// internal/constants so the demo and tests share one definition of
// "small enough to be fast, big enough to be realistic."
func NewSimulated(identity SimulatedIdentity, namespaces []SimulatedNamespace) *Simulated {
	const barSize = 0x2000
	s := &Simulated{
		mem:        regs.NewMemoryBar(barSize),
		pageSize:   constants.HostPageSize,
		pages:      make(map[uint64][]byte),
		irqCh:      make(chan struct{}, 64),
		identity:   identity,
		namespaces: make(map[uint32]*simNamespace),
		ioQueueID:  1,
	}
	s.admin.phase = true
	s.io.phase = true

	for _, n := range namespaces {
		blockSize := 1 << uint(n.LogicalBlockSizeLog2)
		s.namespaces[n.NSID] = &simNamespace{
			blockCount: n.BlockCount,
			lbaLog2:    n.LogicalBlockSizeLog2,
			data:       make([]byte, n.BlockCount*uint64(blockSize)),
		}
		s.nsOrder = append(s.nsOrder, n.NSID)
	}

	caps := uint64(constants.SimulatedMaxQueueEntries-1) |
		(1 << 16) | // CQR: contiguous queues required
		(uint64(constants.SimulatedTimeoutTicks) << 24) |
		(1 << 37) // CSS bit 0: NVM command set supported
	s.mem.Write64(regs.OffsetCAP, caps)
	s.mem.Write32(regs.OffsetVS, (2<<16)|(0<<8)|0) // 2.0.0

	return s
}

// --- Pcie ---

func (s *Simulated) MapBar0() (regs.Bar, error) { return s, nil }

func (s *Simulated) ConfigureInterrupts(requestedVectors int) (InterruptMode, error) {
	if requestedVectors > 1 {
		return InterruptModeMSIX, nil
	}
	return InterruptModeLegacy, nil
}

func (s *Simulated) AllocateBti() (Bti, error) {
	return Bti{id: 1}, nil
}

// --- Interrupts ---

func (s *Simulated) Chan() <-chan struct{} { return s.irqCh }

// --- DmaAllocator ---

// AllocContiguous backs each region in anonymous mmap'd memory rather
// than a plain Go slice: a real DMA allocator hands the device pages
// that live outside the Go heap and garbage collector, and mmap'd
// memory is the closest a test double gets to that without a kernel
// driver underneath. Mirrors go-ublk/internal/uring/minimal.go's
// mmap-based ring setup and go-ublk/internal/queue/runner.go's
// mmapQueues.
func (s *Simulated) AllocContiguous(sizeBytes int) (*DmaRegion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := (sizeBytes + s.pageSize - 1) / s.pageSize
	if pages == 0 {
		pages = 1
	}
	total := pages * s.pageSize
	buf, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("transport: mmap %d bytes: %w", total, err)
	}

	phys := make([]uint64, pages)
	for i := 0; i < pages; i++ {
		addr := s.nextPhys + uint64(i)*uint64(s.pageSize)
		phys[i] = addr
		s.pages[addr] = buf[i*s.pageSize : (i+1)*s.pageSize]
	}
	s.nextPhys += uint64(pages) * uint64(s.pageSize)
	return &DmaRegion{Virt: buf, Pages: phys}, nil
}

// resolve looks up length bytes at addr, which must fall entirely
// within one page this allocator handed out. Real hardware would walk
// an IOMMU table; this fake just indexes the page map directly.
func (s *Simulated) resolve(addr uint64, length int) ([]byte, bool) {
	pageAddr := addr &^ uint64(s.pageSize-1)
	offset := int(addr - pageAddr)
	page, ok := s.pages[pageAddr]
	if !ok || offset+length > len(page) {
		return nil, false
	}
	return page[offset : offset+length], true
}

// ConfigureIOQueue tells the fake device where the driver's I/O
// submission and completion rings live. A real controller learns this
// from the Create I/O Completion/Submission Queue admin commands; this
// driver builds its single I/O queue pair entirely host-side (see
// design notes on Identify-driven bring-up), so the simulated device
// needs an out-of-band way to find it. Exercised once per Controller
// bring-up, from internal/ctrl.
func (s *Simulated) ConfigureIOQueue(queueID uint16, sqPhys, cqPhys uint64, sqEntries, cqEntries uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioQueueID = queueID
	s.io = simQueueState{sqPhys: sqPhys, cqPhys: cqPhys, sqEntries: sqEntries, cqEntries: cqEntries, phase: true}
	s.ioSet = true
}

// --- regs.Bar, with side effects on the registers that matter ---

func (s *Simulated) Read32(offset uintptr) uint32 { return s.mem.Read32(offset) }
func (s *Simulated) Read64(offset uintptr) uint64 { return s.mem.Read64(offset) }

func (s *Simulated) Write32(offset uintptr, v uint32) {
	s.mem.Write32(offset, v)
	s.onWrite32(offset, v)
}

func (s *Simulated) Write64(offset uintptr, v uint64) {
	s.mem.Write64(offset, v)
	s.onWrite64(offset, v)
}

func (s *Simulated) onWrite64(offset uintptr, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch offset {
	case regs.OffsetASQ:
		s.admin.sqPhys = v
	case regs.OffsetACQ:
		s.admin.cqPhys = v
	}
}

func (s *Simulated) onWrite32(offset uintptr, v uint32) {
	switch {
	case offset == regs.OffsetAQA:
		s.mu.Lock()
		s.admin.sqEntries = (v & 0xFFFF) + 1
		s.admin.cqEntries = ((v >> 16) & 0xFFFF) + 1
		s.mu.Unlock()
	case offset == regs.OffsetCC:
		s.onWriteCC(v)
	case offset == uintptr(regs.SubmissionDoorbellOffset(0, s.doorbellStride)):
		s.processSubmissions(&s.admin, v)
	case s.ioSet && offset == uintptr(regs.SubmissionDoorbellOffset(s.ioQueueID, s.doorbellStride)):
		s.processSubmissions(&s.io, v)
	}
}

func (s *Simulated) onWriteCC(v uint32) {
	enable := v&1 != 0
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = enable
	if enable {
		s.admin.subHead = 0
		s.admin.compTail = 0
		s.admin.phase = true
		s.mem.Write32(regs.OffsetCSTS, 1)
	} else {
		s.mem.Write32(regs.OffsetCSTS, 0)
	}
}

// processSubmissions walks newly-posted entries in qs's submission
// ring up to newTail, answers each with a completion, and nudges the
// interrupt channel once. Called with s.mu unheld (doorbell writes
// come from onWrite32 which must not hold the lock across a full
// command execution), so it takes the lock itself per entry.
func (s *Simulated) processSubmissions(qs *simQueueState, newTail uint32) {
	s.mu.Lock()
	ready := s.ready
	sqPhys, cqPhys := qs.sqPhys, qs.cqPhys
	sqEntries, cqEntries := qs.sqEntries, qs.cqEntries
	head := qs.subHead
	s.mu.Unlock()

	if !ready || sqEntries == 0 || cqEntries == 0 {
		return
	}

	processed := false
	for head != newTail {
		entryAddr := sqPhys + uint64(head)*cmdschema.SubmissionSize
		raw, ok := s.resolve(entryAddr, cmdschema.SubmissionSize)
		if !ok {
			break
		}
		sub := cmdschema.UnmarshalSubmission(raw)
		comp := s.execute(sub)
		comp.SQHead = uint16(head + 1)
		if int(comp.SQHead) == int(sqEntries) {
			comp.SQHead = 0
		}

		s.mu.Lock()
		compAddr := cqPhys + uint64(qs.compTail)*cmdschema.CompletionSize
		cbuf, ok := s.resolve(compAddr, cmdschema.CompletionSize)
		if ok {
			copy(cbuf, comp.Marshal(qs.phase))
		}
		qs.compTail++
		if qs.compTail == cqEntries {
			qs.compTail = 0
			qs.phase = !qs.phase
		}
		s.mu.Unlock()

		head++
		if head == sqEntries {
			head = 0
		}
		processed = true
	}

	s.mu.Lock()
	qs.subHead = head
	s.mu.Unlock()

	if processed {
		select {
		case s.irqCh <- struct{}{}:
		default:
		}
	}
}

// execute interprets one submission entry and produces its completion.
// Only the opcodes this driver issues are handled; anything else comes
// back as a generic-type invalid-opcode status.
func (s *Simulated) execute(sub cmdschema.Submission) cmdschema.Completion {
	switch sub.Opcode {
	case cmdschema.OpIdentify:
		return s.executeIdentify(sub)
	case cmdschema.OpNVMRead:
		return s.executeNVMTransfer(sub, false)
	case cmdschema.OpNVMWrite:
		return s.executeNVMTransfer(sub, true)
	default:
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: 1 << 4} // generic, code 1: invalid opcode
	}
}

func (s *Simulated) executeIdentify(sub cmdschema.Submission) cmdschema.Completion {
	page := make([]byte, s.pageSize)
	cns := sub.CDW10 & 0xFF

	switch cns {
	case cmdschema.CNSController:
		s.fillIdentifyController(page)
	case cmdschema.CNSNamespace:
		ns, ok := s.namespaces[sub.NSID]
		if !ok {
			return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0xB << 4) | (0x2 << 1)} // invalid namespace
		}
		fillIdentifyNamespace(page, ns)
	case cmdschema.CNSActiveNamespaceList:
		fillActiveNamespaceList(page, s.nsOrder)
	default:
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0x2 << 4) | (0x1 << 1)} // invalid field
	}

	if !s.writeOutputPage(sub, page) {
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0xC << 4) | (0x1 << 1)}
	}
	return cmdschema.Completion{CommandID: sub.CommandID}
}

func (s *Simulated) fillIdentifyController(page []byte) {
	copy(page[4:24], padASCII(s.identity.SerialNumber, 20))
	copy(page[24:64], padASCII(s.identity.ModelNumber, 40))
	copy(page[64:72], padASCII(s.identity.FirmwareRevision, 8))
	page[77] = 0 // MDTS: no limit
	page[512] = 6 // SQES: 64-byte entries, log2 = 6, required == minimum
	page[513] = 4 // CQES: 16-byte entries, log2 = 4
	binary.LittleEndian.PutUint32(page[516:520], uint32(len(s.nsOrder)))
}

func fillActiveNamespaceList(page []byte, nsids []uint32) {
	for i, id := range nsids {
		if i >= 1024 {
			break
		}
		binary.LittleEndian.PutUint32(page[i*4:i*4+4], id)
	}
}

func fillIdentifyNamespace(page []byte, ns *simNamespace) {
	binary.LittleEndian.PutUint64(page[0:8], ns.blockCount)
	page[25] = 0 // one LBA format, field stores count-1
	page[26] = 0 // FLBAS: format index 0
	raw := uint32(ns.lbaLog2) << 16
	binary.LittleEndian.PutUint32(page[128:132], raw)
}

// writeOutputPage copies page into the command's PRP1-addressed
// buffer. Identify replies are always exactly one page, so PRP2 is
// never consulted on the output side.
func (s *Simulated) writeOutputPage(sub cmdschema.Submission, page []byte) bool {
	dst, ok := s.resolve(sub.PRP1, len(page))
	if !ok {
		return false
	}
	copy(dst, page)
	return true
}

// executeNVMTransfer services a Read (opcode 0x02) or Write (opcode
// 0x01) against a namespace's backing store. CDW10/CDW11 hold the
// 64-bit starting LBA, CDW12 bits 0-15 hold NLB (blocks - 1).
func (s *Simulated) executeNVMTransfer(sub cmdschema.Submission, isWrite bool) cmdschema.Completion {
	ns, ok := s.namespaces[sub.NSID]
	if !ok {
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0xB << 4) | (0x2 << 1)}
	}
	startLBA := uint64(sub.CDW10) | (uint64(sub.CDW11) << 32)
	nlb := uint64(sub.CDW12&0xFFFF) + 1
	blockSize := uint64(ns.blockSize())
	length := int(nlb * blockSize)

	if startLBA+nlb > ns.blockCount {
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0x80 << 4) | (0x2 << 1)} // LBA out of range
	}

	pages, err := s.gatherDataPages(sub.PRP1, sub.PRP2, length)
	if err != nil {
		return cmdschema.Completion{CommandID: sub.CommandID, StatusWord: (0xC << 4) | (0x1 << 1)}
	}

	storeOff := startLBA * blockSize
	remaining := length
	for _, chunk := range pages {
		n := len(chunk)
		if n > remaining {
			n = remaining
		}
		if isWrite {
			copy(ns.data[storeOff:storeOff+uint64(n)], chunk[:n])
		} else {
			copy(chunk[:n], ns.data[storeOff:storeOff+uint64(n)])
		}
		storeOff += uint64(n)
		remaining -= n
	}

	return cmdschema.Completion{CommandID: sub.CommandID}
}

// gatherDataPages resolves the host buffer chunks a PRP1/PRP2 pair (or
// PRP1 plus a PRP-list chain via PRP2) describes, in transfer order.
func (s *Simulated) gatherDataPages(prp1, prp2 uint64, totalBytes int) ([][]byte, error) {
	var chunks [][]byte

	firstLen := s.pageSize - int(prp1%uint64(s.pageSize))
	if firstLen > totalBytes {
		firstLen = totalBytes
	}
	first, ok := s.resolve(prp1, firstLen)
	if !ok {
		return nil, errResolve
	}
	chunks = append(chunks, first)
	remaining := totalBytes - firstLen
	if remaining <= 0 {
		return chunks, nil
	}

	if remaining <= s.pageSize {
		second, ok := s.resolve(prp2, remaining)
		if !ok {
			return nil, errResolve
		}
		return append(chunks, second), nil
	}

	// PRP2 points at a PRP list: (pageSize/8 - 1) data pointers per
	// list page, with the last slot chaining to the next list page.
	perPage := s.pageSize / 8
	listAddr := prp2
	for remaining > 0 {
		listPage, ok := s.resolve(listAddr, s.pageSize)
		if !ok {
			return nil, errResolve
		}
		for i := 0; i < perPage-1 && remaining > 0; i++ {
			dataAddr := binary.LittleEndian.Uint64(listPage[i*8 : i*8+8])
			n := s.pageSize
			if n > remaining {
				n = remaining
			}
			chunk, ok := s.resolve(dataAddr, n)
			if !ok {
				return nil, errResolve
			}
			chunks = append(chunks, chunk)
			remaining -= n
		}
		if remaining <= 0 {
			break
		}
		listAddr = binary.LittleEndian.Uint64(listPage[(perPage-1)*8 : perPage*8])
	}
	return chunks, nil
}

func padASCII(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}

var errResolve = simError("transport: address not resolvable against any allocated DMA region")

type simError string

func (e simError) Error() string { return string(e) }

var _ Pcie = (*Simulated)(nil)
var _ DmaAllocator = (*Simulated)(nil)
var _ Interrupts = (*Simulated)(nil)
var _ regs.Bar = (*Simulated)(nil)
