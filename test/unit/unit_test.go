// +build !integration

// Package unit exercises the wire-level and structured-error pieces of
// this driver that don't need a bound controller: command marshaling,
// Identify payload parsing, and the nvme package's error/telemetry
// types. Tests requiring a full bind/enumerate/I-O lifecycle live under
// test/integration, built with the integration tag.
package unit

import (
	"errors"
	"testing"

	nvme "github.com/vsrinivas/go-nvme"
	"github.com/vsrinivas/go-nvme/internal/cmdschema"
)

func TestSubmissionMarshalRoundTrip(t *testing.T) {
	want := cmdschema.Submission{
		Opcode:    cmdschema.OpNVMRead,
		Flags:     0,
		CommandID: 0x1234,
		NSID:      1,
		PRP1:      0x1000,
		PRP2:      0x2000,
		CDW10:     42,
		CDW11:     0,
		CDW12:     7,
	}

	got := cmdschema.UnmarshalSubmission(want.Marshal())
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestCompletionPhaseAndStatus(t *testing.T) {
	c := cmdschema.Completion{CommandID: 5, StatusWord: 0}

	buf := c.Marshal(true)
	got := cmdschema.UnmarshalCompletion(buf)
	if !got.Phase() {
		t.Error("Phase() = false after Marshal(true)")
	}
	if !got.Success() {
		t.Error("Success() = false, want true for a zero status word")
	}

	buf = c.Marshal(false)
	got = cmdschema.UnmarshalCompletion(buf)
	if got.Phase() {
		t.Error("Phase() = true after Marshal(false)")
	}
}

func TestCompletionStatusDecode(t *testing.T) {
	// status type 2 (media error), status code 0x81, phase 1.
	word := uint16(1) | (2 << 1) | (0x81 << 4)
	c := cmdschema.Completion{StatusWord: word}

	if got := c.StatusType(); got != 2 {
		t.Errorf("StatusType() = %d, want 2", got)
	}
	if got := c.StatusCode(); got != 0x81 {
		t.Errorf("StatusCode() = %#x, want 0x81", got)
	}
	if c.Success() {
		t.Error("Success() = true for a non-generic, non-zero status")
	}
}

func TestParseIdentifyController(t *testing.T) {
	page := make([]byte, 4096)
	copy(page[4:24], []byte("SN123               "))
	copy(page[24:64], []byte("MODEL-XYZ                               "))
	copy(page[64:72], []byte("1.2.3   "))
	page[512] = 6 // SQES log2
	page[513] = 4 // CQES log2
	page[77] = 5  // MDTS
	page[516], page[517], page[518], page[519] = 4, 0, 0, 0

	got := cmdschema.ParseIdentifyController(page)
	if got.SerialNumber != "SN123" {
		t.Errorf("SerialNumber = %q, want SN123", got.SerialNumber)
	}
	if got.ModelNumber != "MODEL-XYZ" {
		t.Errorf("ModelNumber = %q, want MODEL-XYZ", got.ModelNumber)
	}
	if got.FirmwareRevision != "1.2.3" {
		t.Errorf("FirmwareRevision = %q, want 1.2.3", got.FirmwareRevision)
	}
	if got.NumNamespaces != 4 {
		t.Errorf("NumNamespaces = %d, want 4", got.NumNamespaces)
	}
	if got.MaxDataTransfer != 5 {
		t.Errorf("MaxDataTransfer = %d, want 5", got.MaxDataTransfer)
	}
	if got.MinSQEntrySize != 6 || got.MinCQEntrySize != 4 {
		t.Errorf("SQES/CQES = %d/%d, want 6/4", got.MinSQEntrySize, got.MinCQEntrySize)
	}
}

func TestParseActiveNamespaceListStopsAtZero(t *testing.T) {
	page := make([]byte, 4096)
	page[0], page[4], page[8] = 1, 2, 3 // nsids 1, 2, 3, then zero

	got := cmdschema.ParseActiveNamespaceList(page)
	want := []uint32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("nsid[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestParseIdentifyNamespaceCurrentLBAFormat(t *testing.T) {
	page := make([]byte, 4096)
	// NSZE = 1000 blocks
	page[0] = 0xE8
	page[1] = 0x03
	page[25] = 1 // NumLBAFormats - 1, so 2 formats
	page[26] = 1 // FLBAS selects format index 1
	// format 0 at offset 128: 512-byte blocks (log2 9)
	page[128+2] = 9
	// format 1 at offset 132: 4096-byte blocks (log2 12)
	page[132+2] = 12

	data := cmdschema.ParseIdentifyNamespace(page)
	if data.NSZE != 1000 {
		t.Errorf("NSZE = %d, want 1000", data.NSZE)
	}
	if data.NumLBAFormats != 2 {
		t.Errorf("NumLBAFormats = %d, want 2", data.NumLBAFormats)
	}

	format := data.CurrentLBAFormat()
	if format.SizeBytes() != 4096 {
		t.Errorf("CurrentLBAFormat().SizeBytes() = %d, want 4096", format.SizeBytes())
	}
	if idx := data.CurrentLBAFormatIndex(); idx != 1 {
		t.Errorf("CurrentLBAFormatIndex() = %d, want 1", idx)
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := nvme.NewNamespaceError("ReadBlocks", 1, nvme.ErrCodeTimeout, "timed out")
	b := nvme.NewNamespaceError("WriteBlocks", 2, nvme.ErrCodeTimeout, "also timed out")

	if !errors.Is(a, b) {
		t.Error("errors with the same code should match via errors.Is")
	}
	if nvme.IsCode(a, nvme.ErrCodeFatal) {
		t.Error("IsCode matched the wrong code")
	}
	if !nvme.IsCode(a, nvme.ErrCodeTimeout) {
		t.Error("IsCode failed to match the right code")
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := nvme.NewError("Bind", nvme.ErrCodeNotReady, "controller not ready")
	wrapped := nvme.WrapError("Retry", inner)

	if wrapped.Op != "Retry" {
		t.Errorf("Op = %q, want Retry", wrapped.Op)
	}
	if wrapped.Code != nvme.ErrCodeNotReady {
		t.Errorf("Code = %q, want %q", wrapped.Code, nvme.ErrCodeNotReady)
	}
}

func TestTelemetrySnapshotComputesRates(t *testing.T) {
	tel := nvme.NewTelemetry()
	tel.RecordRead(4096, 5_000, true)
	tel.RecordWrite(4096, 10_000, true)
	tel.RecordRead(0, 1_000, false)

	snap := tel.Snapshot()
	if snap.ReadOps != 2 {
		t.Errorf("ReadOps = %d, want 2", snap.ReadOps)
	}
	if snap.WriteOps != 1 {
		t.Errorf("WriteOps = %d, want 1", snap.WriteOps)
	}
	if snap.ReadErrors != 1 {
		t.Errorf("ReadErrors = %d, want 1", snap.ReadErrors)
	}
	if snap.TotalBytes != 8192 {
		t.Errorf("TotalBytes = %d, want 8192", snap.TotalBytes)
	}
	if snap.ErrorRate <= 0 {
		t.Errorf("ErrorRate = %v, want > 0", snap.ErrorRate)
	}
}

func TestNoOpObserverImplementsObserver(t *testing.T) {
	var o nvme.Observer = nvme.NoOpObserver{}
	o.ObserveRead(0, 0, true)
	o.ObserveWrite(0, 0, true)
	o.ObserveIdentify(0, true)
}
