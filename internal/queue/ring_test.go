package queue

import (
	"testing"

	"github.com/vsrinivas/go-nvme/internal/transport"
)

func TestQueueWrapsAtEntryCount(t *testing.T) {
	alloc := transport.NewSimulated(transport.SimulatedIdentity{}, nil)
	q, err := newQueue(alloc, 4096, 64, 4)
	if err != nil {
		t.Fatalf("newQueue: %v", err)
	}
	if q.EntryCount() != 4 {
		t.Fatalf("EntryCount = %d, want 4", q.EntryCount())
	}

	for i := uint32(0); i < 4; i++ {
		if q.NextIndex() != i {
			t.Fatalf("NextIndex = %d, want %d", q.NextIndex(), i)
		}
		q.Next()
	}
	if q.NextIndex() != 0 {
		t.Fatalf("NextIndex after wrap = %d, want 0", q.NextIndex())
	}
}

func TestQueueCappedByPageSize(t *testing.T) {
	alloc := transport.NewSimulated(transport.SimulatedIdentity{}, nil)
	// 4096 / 64 = 64 entries fit in a page; requesting more should be
	// capped down rather than overrun the page.
	q, err := newQueue(alloc, 4096, 64, 1000)
	if err != nil {
		t.Fatalf("newQueue: %v", err)
	}
	if q.EntryCount() != 64 {
		t.Errorf("EntryCount = %d, want 64", q.EntryCount())
	}
}
