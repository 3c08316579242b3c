package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsrinivas/go-nvme/internal/cmdschema"
	"github.com/vsrinivas/go-nvme/internal/logging"
	"github.com/vsrinivas/go-nvme/internal/regs"
	"github.com/vsrinivas/go-nvme/internal/transport"
)

// Completer is invoked once per completed command, from whatever
// goroutine calls CheckForNewCompletions. err is non-nil exactly when
// the completion's status word was not generic-success.
type Completer func(cmdschema.Completion, error)

// CommandError wraps a non-success completion so callers can recover
// the raw status fields without this package depending on the root
// error taxonomy.
type CommandError struct {
	Completion cmdschema.Completion
}

func (e *CommandError) Error() string {
	return "queue: command completed with non-success status"
}

// SubmitOutcome reports what Submit did without allocating an error
// for the expected, non-exceptional cases (an full ring is routine
// backpressure, not a fault).
type SubmitOutcome int

const (
	// SubmitOK means the command was written into the ring and the
	// doorbell rung; its completion will arrive asynchronously.
	SubmitOK SubmitOutcome = iota
	// SubmitShouldWait means the ring has no free slot; the caller
	// should drain completions and retry.
	SubmitShouldWait
	// SubmitBadState means the chosen ring slot's transaction table
	// entry was already active, which never happens unless the ring
	// and the transaction table have fallen out of sync.
	SubmitBadState
)

type transaction struct {
	active    bool
	completer Completer
	prpRegion *transport.DmaRegion
	issuedAt  time.Time
}

// QueuePair is one submission/completion ring pair plus the
// transaction table that maps completions back to callers by command
// id. Three locks guard disjoint state, always acquired in this
// order: submission, then completion (never needed together), then
// transaction. Grounded on go-ublk/internal/queue/runner.go's
// TagState bookkeeping and lock discipline, generalized from a single
// io_uring ring to NVMe's independent submission and completion
// rings.
type QueuePair struct {
	id             uint16
	bar            regs.Bar
	doorbellStride uint8
	alloc          transport.DmaAllocator
	pageSize       int
	logger         *logging.Logger

	subMu sync.Mutex
	sq    *Queue
	sqHead atomic.Uint32

	compMu        sync.Mutex
	cq            *Queue
	expectedPhase bool

	txMu    sync.Mutex
	txTable []transaction

	shouldWaitCount     atomic.Uint64
	programmingErrCount atomic.Uint64
	submittedCount      atomic.Uint64
	completedCount      atomic.Uint64
}

// Config describes one queue pair's shape.
type Config struct {
	ID                uint16
	Bar               regs.Bar
	DoorbellStride    uint8
	Alloc             transport.DmaAllocator
	PageSize          int
	MaxEntries        uint32
	SubmissionEntSize int
	CompletionEntSize int
	Logger            *logging.Logger
}

// Create allocates a fresh submission/completion ring pair and
// transaction table. It does not touch any register; callers decide
// when (and how) the device should be told where these rings live —
// via AQA/ASQ/ACQ for the admin pair, or transport's
// ConfigureIOQueue-style side channel for an I/O pair built without
// issuing a Create I/O Queue admin command.
func Create(cfg Config) (*QueuePair, error) {
	sq, err := newQueue(cfg.Alloc, cfg.PageSize, cfg.SubmissionEntSize, cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	cq, err := newQueue(cfg.Alloc, cfg.PageSize, cfg.CompletionEntSize, cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	entries := sq.EntryCount()
	if cq.EntryCount() < entries {
		entries = cq.EntryCount()
	}
	qp := &QueuePair{
		id:             cfg.ID,
		bar:            cfg.Bar,
		doorbellStride: cfg.DoorbellStride,
		alloc:          cfg.Alloc,
		pageSize:       cfg.PageSize,
		logger:         cfg.Logger,
		sq:             sq,
		cq:             cq,
		expectedPhase:  true,
		txTable:        make([]transaction, entries),
	}
	return qp, nil
}

// SubmissionAddress and CompletionAddress are the physical addresses
// the controller needs to be told about.
func (qp *QueuePair) SubmissionAddress() uint64 { return qp.sq.DeviceAddress() }
func (qp *QueuePair) CompletionAddress() uint64 { return qp.cq.DeviceAddress() }
func (qp *QueuePair) SubmissionEntries() uint32 { return qp.sq.EntryCount() }
func (qp *QueuePair) CompletionEntries() uint32 { return qp.cq.EntryCount() }

// Submit installs cmd into the next free submission slot and rings
// the doorbell. dataPages, if non-empty, are the physical pages the
// command's data transfer touches, in order; vmoOffset is added to
// the first page's address so transfers need not start at a page
// boundary. Per 4.3.1: one page needs only PRP1, two need PRP1+PRP2,
// more than two need a PRP list (built here, and kept alive in the
// transaction table until the completion arrives).
func (qp *QueuePair) Submit(cmd cmdschema.Submission, dataPages []uint64, vmoOffset uint64, completer Completer) (SubmitOutcome, error) {
	qp.subMu.Lock()
	defer qp.subMu.Unlock()

	entryCount := qp.sq.EntryCount()
	next := qp.sq.NextIndex()
	if (next+1)%entryCount == qp.sqHead.Load() {
		qp.shouldWaitCount.Add(1)
		return SubmitShouldWait, nil
	}

	qp.txMu.Lock()
	if qp.txTable[next].active {
		qp.txMu.Unlock()
		qp.programmingErrCount.Add(1)
		return SubmitBadState, nil
	}
	qp.txMu.Unlock()

	cmd.CommandID = uint16(next)
	cmd.MetadataPtr = 0
	cmd.PRP1 = 0
	cmd.PRP2 = 0

	var prpRegion *transport.DmaRegion
	switch len(dataPages) {
	case 0:
	case 1:
		cmd.PRP1 = dataPages[0] + vmoOffset
	case 2:
		cmd.PRP1 = dataPages[0] + vmoOffset
		cmd.PRP2 = dataPages[1]
	default:
		region, err := PreparePrpList(qp.alloc, qp.pageSize, dataPages[1:])
		if err != nil {
			return SubmitOK, err
		}
		cmd.PRP1 = dataPages[0] + vmoOffset
		cmd.PRP2 = region.Pages[0]
		prpRegion = region
	}

	qp.txMu.Lock()
	qp.txTable[next] = transaction{active: true, completer: completer, prpRegion: prpRegion, issuedAt: time.Now()}
	qp.txMu.Unlock()

	buf := qp.sq.Next()
	copy(buf, cmd.Marshal())

	regs.RingSubmissionDoorbell(qp.bar, qp.id, qp.doorbellStride, qp.sq.NextIndex())
	qp.submittedCount.Add(1)
	return SubmitOK, nil
}

// CheckForNewCompletions drains every completion currently posted
// (phase bit matching what this side expects), in order, invoking each
// one's Completer before moving to the next. Per 4.3.2: peek, compare
// phase, only then advance and toggle; update the shared sq_head so
// Submit's ring-full check stays accurate; look the command id up in
// the transaction table with the transaction lock held only long
// enough to claim the slot, never while the completer runs.
func (qp *QueuePair) CheckForNewCompletions() {
	qp.compMu.Lock()
	defer qp.compMu.Unlock()

	processed := false
	for {
		entry := qp.cq.Peek()
		comp := cmdschema.UnmarshalCompletion(entry)
		if comp.Phase() != qp.expectedPhase {
			break
		}
		qp.cq.Next()
		if qp.cq.NextIndex() == 0 {
			qp.expectedPhase = !qp.expectedPhase
		}
		qp.sqHead.Store(uint32(comp.SQHead))

		qp.txMu.Lock()
		var tx transaction
		var ok bool
		if int(comp.CommandID) < len(qp.txTable) && qp.txTable[comp.CommandID].active {
			tx = qp.txTable[comp.CommandID]
			qp.txTable[comp.CommandID] = transaction{}
			ok = true
		} else {
			qp.programmingErrCount.Add(1)
		}
		qp.txMu.Unlock()

		if ok {
			qp.completedCount.Add(1)
			if tx.completer != nil {
				if comp.Success() {
					tx.completer(comp, nil)
				} else {
					tx.completer(comp, &CommandError{Completion: comp})
				}
			}
		} else if qp.logger != nil {
			qp.logger.Warn("completion referenced an inactive command id", "command_id", comp.CommandID, "queue", qp.id)
		}
		processed = true
	}

	if processed {
		regs.RingCompletionDoorbell(qp.bar, qp.id, qp.doorbellStride, qp.cq.NextIndex())
	}
}

// ShouldWaitCount, ProgrammingErrorCount, SubmittedCount and
// CompletedCount feed nvme.Telemetry's per-queue counters.
func (qp *QueuePair) ShouldWaitCount() uint64     { return qp.shouldWaitCount.Load() }
func (qp *QueuePair) ProgrammingErrorCount() uint64 { return qp.programmingErrCount.Load() }
func (qp *QueuePair) SubmittedCount() uint64      { return qp.submittedCount.Load() }
func (qp *QueuePair) CompletedCount() uint64      { return qp.completedCount.Load() }
