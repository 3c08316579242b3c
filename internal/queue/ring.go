// Package queue implements the host side of an NVMe queue pair: the
// submission/completion ring pair, the per-command-id transaction
// table, and the PRP-list construction needed for transfers spanning
// more than two pages.
//
// Grounded on go-ublk/internal/queue/runner.go's ring bookkeeping
// (mmapQueues, the per-tag state machine in handleCompletion) and
// go-ublk/internal/uring/minimal.go's mmap-backed ring setup, adapted
// from a single io_uring-style ring to NVMe's paired submission and
// completion rings with a software-maintained phase bit.
package queue

import "github.com/vsrinivas/go-nvme/internal/transport"

// Queue is one ring (submission or completion): a single contiguous
// DMA page, sliced into fixed-size entries, with a cursor the caller
// advances one entry at a time.
type Queue struct {
	region     *transport.DmaRegion
	entrySize  int
	entryCount uint32
	nextIndex  uint32
}

// newQueue allocates one page and fits as many entrySize entries in it
// as both the page and maxEntries allow.
func newQueue(alloc transport.DmaAllocator, pageSize, entrySize int, maxEntries uint32) (*Queue, error) {
	perPage := uint32(pageSize / entrySize)
	entries := maxEntries
	if perPage < entries {
		entries = perPage
	}
	region, err := alloc.AllocContiguous(pageSize)
	if err != nil {
		return nil, err
	}
	return &Queue{region: region, entrySize: entrySize, entryCount: entries}, nil
}

// DeviceAddress is the physical address the controller's ASQ/ACQ (or,
// for the I/O pair, the out-of-band ConfigureIOQueue call) should be
// told about.
func (q *Queue) DeviceAddress() uint64 { return q.region.Pages[0] }

// EntryCount is how many fixed-size entries this ring holds.
func (q *Queue) EntryCount() uint32 { return q.entryCount }

// NextIndex is the slot the next Next() call will hand out.
func (q *Queue) NextIndex() uint32 { return q.nextIndex }

func (q *Queue) slot(i uint32) []byte {
	off := int(i) * q.entrySize
	return q.region.Virt[off : off+q.entrySize]
}

// Peek returns the entry at the current cursor without advancing it.
func (q *Queue) Peek() []byte { return q.slot(q.nextIndex) }

// Next returns the entry at the current cursor and advances it,
// wrapping at EntryCount.
func (q *Queue) Next() []byte {
	s := q.slot(q.nextIndex)
	q.nextIndex++
	if q.nextIndex == q.entryCount {
		q.nextIndex = 0
	}
	return s
}
