package queue

import (
	"testing"

	"github.com/vsrinivas/go-nvme/internal/cmdschema"
	"github.com/vsrinivas/go-nvme/internal/regs"
	"github.com/vsrinivas/go-nvme/internal/transport"
)

func bringUpAdmin(t *testing.T, sim *transport.Simulated) (regs.Bar, *QueuePair) {
	t.Helper()
	bar, err := sim.MapBar0()
	if err != nil {
		t.Fatalf("MapBar0: %v", err)
	}
	admin, err := Create(Config{
		ID: 0, Bar: bar, Alloc: sim, PageSize: 4096,
		MaxEntries: 64, SubmissionEntSize: cmdschema.SubmissionSize, CompletionEntSize: cmdschema.CompletionSize,
	})
	if err != nil {
		t.Fatalf("Create admin pair: %v", err)
	}
	regs.WriteAQA(bar, admin.SubmissionEntries(), admin.CompletionEntries())
	regs.WriteASQ(bar, admin.SubmissionAddress())
	regs.WriteACQ(bar, admin.CompletionAddress())
	regs.WriteCC(bar, regs.CCConfig{Enable: true, IOSubmissionEntrySizeLog2: 6, IOCompletionEntrySizeLog2: 4})
	if st := regs.ReadCSTS(bar); !st.Ready {
		t.Fatal("controller did not come ready")
	}
	return bar, admin
}

func TestQueuePairIdentifyRoundTrip(t *testing.T) {
	sim := transport.NewSimulated(transport.SimulatedIdentity{
		SerialNumber: "12345678", ModelNumber: "PL4T-1234", FirmwareRevision: "7.4.2.1",
	}, nil)
	_, admin := bringUpAdmin(t, sim)

	out, err := sim.AllocContiguous(4096)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}

	var gotComp cmdschema.Completion
	var gotErr error
	done := make(chan struct{}, 1)

	cmd := cmdschema.Submission{Opcode: cmdschema.OpIdentify, CDW10: uint32(cmdschema.CNSController)}
	outcome, err := admin.Submit(cmd, []uint64{out.Pages[0]}, 0, func(c cmdschema.Completion, e error) {
		gotComp, gotErr = c, e
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome != SubmitOK {
		t.Fatalf("outcome = %v, want SubmitOK", outcome)
	}

	admin.CheckForNewCompletions()
	<-done

	if gotErr != nil {
		t.Fatalf("completion error: %v", gotErr)
	}
	if !gotComp.Success() {
		t.Fatalf("expected success completion, got status word 0x%x", gotComp.StatusWord)
	}

	id := cmdschema.ParseIdentifyController(out.Virt)
	if id.SerialNumber != "12345678" {
		t.Errorf("SerialNumber = %q", id.SerialNumber)
	}
	if id.ModelNumber != "PL4T-1234" {
		t.Errorf("ModelNumber = %q", id.ModelNumber)
	}
	if id.FirmwareRevision != "7.4.2.1" {
		t.Errorf("FirmwareRevision = %q", id.FirmwareRevision)
	}
}

func TestQueuePairRingFullReturnsShouldWait(t *testing.T) {
	sim := transport.NewSimulated(transport.SimulatedIdentity{}, nil)
	bar, err := sim.MapBar0()
	if err != nil {
		t.Fatalf("MapBar0: %v", err)
	}
	// A two-entry ring means exactly one command can be outstanding
	// (one slot must always stay free to distinguish full from empty).
	admin, err := Create(Config{
		ID: 0, Bar: bar, Alloc: sim, PageSize: 4096,
		MaxEntries: 2, SubmissionEntSize: cmdschema.SubmissionSize, CompletionEntSize: cmdschema.CompletionSize,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	regs.WriteAQA(bar, admin.SubmissionEntries(), admin.CompletionEntries())
	regs.WriteASQ(bar, admin.SubmissionAddress())
	regs.WriteACQ(bar, admin.CompletionAddress())

	// Don't enable: hold the fake device off so it never drains the
	// ring, letting us observe backpressure purely from Submit's own
	// bookkeeping.
	page, _ := sim.AllocContiguous(4096)
	cmd := cmdschema.Submission{Opcode: cmdschema.OpIdentify, CDW10: uint32(cmdschema.CNSController)}

	outcome, err := admin.Submit(cmd, []uint64{page.Pages[0]}, 0, func(cmdschema.Completion, error) {})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if outcome != SubmitOK {
		t.Fatalf("first outcome = %v, want SubmitOK", outcome)
	}

	outcome, err = admin.Submit(cmd, []uint64{page.Pages[0]}, 0, func(cmdschema.Completion, error) {})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if outcome != SubmitShouldWait {
		t.Fatalf("second outcome = %v, want SubmitShouldWait", outcome)
	}
	if admin.ShouldWaitCount() != 1 {
		t.Errorf("ShouldWaitCount = %d, want 1", admin.ShouldWaitCount())
	}
}

func TestQueuePairNVMReadWrite(t *testing.T) {
	sim := transport.NewSimulated(transport.SimulatedIdentity{}, []transport.SimulatedNamespace{
		{NSID: 1, BlockCount: 1000, LogicalBlockSizeLog2: 9},
	})
	bar, _ := bringUpAdmin(t, sim)

	ioQP, err := Create(Config{
		ID: 1, Bar: bar, Alloc: sim, PageSize: 4096,
		MaxEntries: 64, SubmissionEntSize: cmdschema.SubmissionSize, CompletionEntSize: cmdschema.CompletionSize,
	})
	if err != nil {
		t.Fatalf("Create io pair: %v", err)
	}
	sim.ConfigureIOQueue(1, ioQP.SubmissionAddress(), ioQP.CompletionAddress(), ioQP.SubmissionEntries(), ioQP.CompletionEntries())

	buf, err := sim.AllocContiguous(512)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	copy(buf.Virt, []byte("hello namespace"))

	writeDone := make(chan error, 1)
	writeCmd := cmdschema.Submission{Opcode: cmdschema.OpNVMWrite, NSID: 1, CDW10: 5, CDW11: 0, CDW12: 0}
	_, err = ioQP.Submit(writeCmd, []uint64{buf.Pages[0]}, 0, func(c cmdschema.Completion, e error) { writeDone <- e })
	if err != nil {
		t.Fatalf("Submit write: %v", err)
	}
	ioQP.CheckForNewCompletions()
	if err := <-writeDone; err != nil {
		t.Fatalf("write completion error: %v", err)
	}

	readBuf, err := sim.AllocContiguous(512)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	readDone := make(chan error, 1)
	readCmd := cmdschema.Submission{Opcode: cmdschema.OpNVMRead, NSID: 1, CDW10: 5, CDW11: 0, CDW12: 0}
	_, err = ioQP.Submit(readCmd, []uint64{readBuf.Pages[0]}, 0, func(c cmdschema.Completion, e error) { readDone <- e })
	if err != nil {
		t.Fatalf("Submit read: %v", err)
	}
	ioQP.CheckForNewCompletions()
	if err := <-readDone; err != nil {
		t.Fatalf("read completion error: %v", err)
	}

	if string(readBuf.Virt[:15]) != "hello namespace" {
		t.Errorf("read back %q, want %q", readBuf.Virt[:15], "hello namespace")
	}
}
