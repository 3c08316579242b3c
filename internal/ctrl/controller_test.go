package ctrl

import (
	"testing"

	"github.com/vsrinivas/go-nvme/internal/logging"
	"github.com/vsrinivas/go-nvme/internal/regs"
	"github.com/vsrinivas/go-nvme/internal/transport"
)

func regsReady(c *Controller) bool {
	return regs.ReadCSTS(c.bar).Ready
}

func bindSimulated(t *testing.T) (*Controller, *transport.Simulated) {
	t.Helper()
	sim := transport.NewSimulated(transport.SimulatedIdentity{
		SerialNumber:     "12345678",
		ModelNumber:      "PL4T-1234",
		FirmwareRevision: "7.4.2.1",
	}, []transport.SimulatedNamespace{
		{NSID: 1, BlockCount: 2048, LogicalBlockSizeLog2: 9},
	})

	c, err := Bind(sim, sim, sim, logging.NewLogger(nil))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return c, sim
}

func TestBindIdentifiesController(t *testing.T) {
	c, _ := bindSimulated(t)

	id := c.Identity()
	if id.SerialNumber != "12345678" {
		t.Errorf("SerialNumber = %q, want 12345678", id.SerialNumber)
	}
	if id.ModelNumber != "PL4T-1234" {
		t.Errorf("ModelNumber = %q, want PL4T-1234", id.ModelNumber)
	}
	if id.FirmwareRevision != "7.4.2.1" {
		t.Errorf("FirmwareRevision = %q, want 7.4.2.1", id.FirmwareRevision)
	}
}

func TestBindEnumeratesNamespaces(t *testing.T) {
	c, _ := bindSimulated(t)

	nss := c.Namespaces()
	if len(nss) != 1 {
		t.Fatalf("len(Namespaces()) = %d, want 1", len(nss))
	}
	ns := nss[0]
	if ns.NSID != 1 {
		t.Errorf("NSID = %d, want 1", ns.NSID)
	}
	if ns.BlockCount != 2048 {
		t.Errorf("BlockCount = %d, want 2048", ns.BlockCount)
	}
	if ns.LogicalBlockSize != 512 {
		t.Errorf("LogicalBlockSize = %d, want 512", ns.LogicalBlockSize)
	}

	if _, ok := c.Namespace(1); !ok {
		t.Error("Namespace(1) not found")
	}
	if _, ok := c.Namespace(99); ok {
		t.Error("Namespace(99) unexpectedly found")
	}
}

func TestControllerReadWriteRoundTrip(t *testing.T) {
	c, _ := bindSimulated(t)
	ns, ok := c.Namespace(1)
	if !ok {
		t.Fatal("namespace 1 not found")
	}

	writeRegion, err := c.alloc.AllocContiguous(c.pageSize)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	payload := []byte("hello namespace wired through ctrl")
	copy(writeRegion.Virt, payload)

	if err := ns.WriteBlocks(0, 1, writeRegion.Pages, 0); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	readRegion, err := c.alloc.AllocContiguous(c.pageSize)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	if err := ns.ReadBlocks(0, 1, readRegion.Pages, 0); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}

	if got := readRegion.Virt[:len(payload)]; string(got) != string(payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}
}

func TestShutdownClearsReady(t *testing.T) {
	c, _ := bindSimulated(t)

	if !regsReady(c) {
		t.Fatal("expected controller ready after Bind")
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if regsReady(c) {
		t.Error("expected CSTS.RDY clear after Shutdown")
	}
}

func TestNvmTransferRejectsOversizedRequest(t *testing.T) {
	c, _ := bindSimulated(t)
	ns, _ := c.Namespace(1)
	c.identity.MaxDataTransfer = 1 // 2 pages max

	hugePages := make([]uint64, 16)
	err := ns.WriteBlocks(0, uint64(len(hugePages)*c.pageSize/int(ns.LogicalBlockSize)), hugePages, 0)
	if err != ErrTransferTooLarge {
		t.Errorf("err = %v, want ErrTransferTooLarge", err)
	}
}

func TestQueueCountersAccessible(t *testing.T) {
	c, _ := bindSimulated(t)
	// identifyController + enumerateNamespaces issue at least 2 admin
	// commands during bind.
	_, _, submitted, completed := c.AdminQueueCounters()
	if submitted == 0 || completed == 0 {
		t.Errorf("admin counters = submitted=%d completed=%d, want both > 0", submitted, completed)
	}
}
