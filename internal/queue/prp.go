package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/vsrinivas/go-nvme/internal/transport"
)

// PreparePrpList builds the PRP-list pages needed to describe a data
// transfer spanning more than two pages. pages is every data page
// after the first (the first page's address goes directly in PRP1;
// PRP2 becomes the address of the first list page this returns).
//
// Each list page holds (pageSize/8 - 1) data-pointer entries; the last
// slot in a full list page chains to the next list page rather than
// holding a data pointer, exactly mirroring a virtio descriptor-ring
// chain (see go-ublk's io_uring submission entries for the sibling
// idea of a fixed-size slot reserved for "where the next one is"
// instead of payload).
func PreparePrpList(alloc transport.DmaAllocator, pageSize int, pages []uint64) (*transport.DmaRegion, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("queue: PreparePrpList called with no trailing pages")
	}

	perPage := pageSize / 8
	if perPage < 2 {
		return nil, fmt.Errorf("queue: page size %d too small for a PRP list", pageSize)
	}
	dataSlotsPerListPage := perPage - 1

	listPageCount := ceilDiv(len(pages), dataSlotsPerListPage) + 1 // one page of slack
	region, err := alloc.AllocContiguous(listPageCount * pageSize)
	if err != nil {
		return nil, err
	}

	listIdx := 0
	cursor := 0
	for _, p := range pages {
		if cursor == dataSlotsPerListPage {
			if listIdx+1 >= len(region.Pages) {
				return nil, fmt.Errorf("queue: PRP list ran out of slack pages")
			}
			writePrpEntry(region.Virt, pageSize, listIdx, cursor, region.Pages[listIdx+1])
			listIdx++
			cursor = 0
		}
		writePrpEntry(region.Virt, pageSize, listIdx, cursor, p)
		cursor++
	}
	return region, nil
}

func writePrpEntry(virt []byte, pageSize, pageIdx, slot int, value uint64) {
	off := pageIdx*pageSize + slot*8
	binary.LittleEndian.PutUint64(virt[off:off+8], value)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
