package regs

// MemoryBar is a Bar backed by a plain byte slice. A real PCIe bind
// maps BAR0 into exactly such a slice via mmap; internal/transport's
// simulated controller uses the same type directly. Grounded on
// usbarmory-tamago's virtio PCI capability region, which treats a BAR
// as a byte-slice with little-endian Put/Get accessors rather than an
// unsafe-cast struct.
type MemoryBar struct {
	mem []byte
}

// NewMemoryBar allocates a zeroed register region of the given size.
func NewMemoryBar(size int) *MemoryBar {
	return &MemoryBar{mem: make([]byte, size)}
}

// WrapMemoryBar views an existing byte slice as a Bar without copying.
func WrapMemoryBar(mem []byte) *MemoryBar {
	return &MemoryBar{mem: mem}
}

func (b *MemoryBar) Read32(offset uintptr) uint32 {
	return byteOrder.Uint32(b.mem[offset : offset+4])
}

func (b *MemoryBar) Write32(offset uintptr, v uint32) {
	byteOrder.PutUint32(b.mem[offset:offset+4], v)
}

func (b *MemoryBar) Read64(offset uintptr) uint64 {
	return byteOrder.Uint64(b.mem[offset : offset+8])
}

func (b *MemoryBar) Write64(offset uintptr, v uint64) {
	byteOrder.PutUint64(b.mem[offset:offset+8], v)
}

var _ Bar = (*MemoryBar)(nil)
