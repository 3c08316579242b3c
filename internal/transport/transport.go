// Package transport defines the capabilities a bound NVMe device needs
// from its driver-framework shell: a mapped BAR0 register window, a
// contiguous DMA allocator, and an interrupt-delivery channel. These
// mirror the opaque Pcie/DmaAllocator/Interrupts collaborators the
// controller bring-up sequence treats as non-goals; the only concrete
// implementation this module ships is Simulated, an in-process fake
// used by tests, the demo binary, and development without hardware.
//
// Grounded on go-ublk's backend.Interface split (a narrow capability
// interface the runner drives, with a MockBackend standing in for a
// kernel) and usbarmory-tamago's byte-slice BAR abstraction for PCIe
// devices.
package transport

import "github.com/vsrinivas/go-nvme/internal/regs"

// DmaRegion is a block of host memory the device can access directly,
// described by its physical page addresses. Pages are always the host
// page size; callers that need fewer bytes than a full page just use a
// prefix of Virt.
type DmaRegion struct {
	Virt  []byte
	Pages []uint64
}

// DmaAllocator hands out physically-contiguous-per-page DMA memory.
// "Contiguous" here means each page has a stable physical address for
// the lifetime of the region, not that the whole region is one
// physically contiguous run; multi-page transfers still need PRP
// chaining exactly as real hardware would require.
type DmaAllocator interface {
	AllocContiguous(sizeBytes int) (*DmaRegion, error)
}

// InterruptMode reports which delivery mechanism ConfigureInterrupts
// negotiated.
type InterruptMode int

const (
	InterruptModeLegacy InterruptMode = iota
	InterruptModeMSIX
)

func (m InterruptMode) String() string {
	if m == InterruptModeMSIX {
		return "msi-x"
	}
	return "legacy"
}

// Bti is an opaque bus-transaction-initiator handle, standing in for
// the pinned-memory token a real platform bus driver would hand back.
// The simulated transport never needs to do anything with it beyond
// carry an identity.
type Bti struct {
	id uint64
}

// Pcie is the subset of driver-framework PCIe services this driver
// needs during bind: map BAR0, negotiate an interrupt mode, and obtain
// a BTI for DMA pinning.
type Pcie interface {
	MapBar0() (regs.Bar, error)
	ConfigureInterrupts(requestedVectors int) (InterruptMode, error)
	AllocateBti() (Bti, error)
}

// Interrupts is signaled once per batch of newly posted completions,
// on both the legacy and MSI-X paths; the controller's reap loop
// waits on it alongside a poll ticker.
type Interrupts interface {
	Chan() <-chan struct{}
}
