package queue

import (
	"encoding/binary"
	"testing"

	"github.com/vsrinivas/go-nvme/internal/transport"
)

func TestPreparePrpListTwoTrailingPages(t *testing.T) {
	alloc := transport.NewSimulated(transport.SimulatedIdentity{}, nil)
	const pageSize = 4096

	// Simulate three data pages total: the first goes directly in
	// PRP1 by convention, so pages here is [p1, p2].
	d1, _ := alloc.AllocContiguous(pageSize)
	d2, _ := alloc.AllocContiguous(pageSize)

	region, err := PreparePrpList(alloc, pageSize, []uint64{d1.Pages[0], d2.Pages[0]})
	if err != nil {
		t.Fatalf("PreparePrpList: %v", err)
	}

	got0 := binary.LittleEndian.Uint64(region.Virt[0:8])
	got1 := binary.LittleEndian.Uint64(region.Virt[8:16])
	if got0 != d1.Pages[0] {
		t.Errorf("list[0] = 0x%x, want 0x%x", got0, d1.Pages[0])
	}
	if got1 != d2.Pages[0] {
		t.Errorf("list[1] = 0x%x, want 0x%x", got1, d2.Pages[0])
	}
}

func TestPreparePrpListChains(t *testing.T) {
	alloc := transport.NewSimulated(transport.SimulatedIdentity{}, nil)
	const pageSize = 4096
	perPage := pageSize / 8
	dataSlots := perPage - 1

	// Enough trailing pages to force at least one chain entry.
	n := dataSlots + 2
	pages := make([]uint64, n)
	for i := range pages {
		d, _ := alloc.AllocContiguous(pageSize)
		pages[i] = d.Pages[0]
	}

	region, err := PreparePrpList(alloc, pageSize, pages)
	if err != nil {
		t.Fatalf("PreparePrpList: %v", err)
	}
	if len(region.Pages) < 2 {
		t.Fatalf("expected at least 2 list pages, got %d", len(region.Pages))
	}

	chainPtr := binary.LittleEndian.Uint64(region.Virt[dataSlots*8 : dataSlots*8+8])
	if chainPtr != region.Pages[1] {
		t.Errorf("chain entry = 0x%x, want second list page 0x%x", chainPtr, region.Pages[1])
	}

	secondPageStart := pageSize
	firstOfSecond := binary.LittleEndian.Uint64(region.Virt[secondPageStart : secondPageStart+8])
	if firstOfSecond != pages[dataSlots] {
		t.Errorf("list[perPage] = 0x%x, want %d'th data page 0x%x", firstOfSecond, dataSlots, pages[dataSlots])
	}
}
