package transport

import (
	"testing"

	"github.com/vsrinivas/go-nvme/internal/regs"
)

func TestSimulatedAllocContiguousAndResolve(t *testing.T) {
	s := NewSimulated(SimulatedIdentity{SerialNumber: "12345678"}, nil)

	region, err := s.AllocContiguous(5000)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	if len(region.Pages) != 2 {
		t.Fatalf("expected 2 pages for 5000 bytes, got %d", len(region.Pages))
	}

	region.Virt[0] = 0xAB
	chunk, ok := s.resolve(region.Pages[0], 1)
	if !ok || chunk[0] != 0xAB {
		t.Fatalf("resolve did not see write through shared backing array")
	}
}

func TestSimulatedCapabilitiesReadable(t *testing.T) {
	s := NewSimulated(SimulatedIdentity{}, nil)
	bar, err := s.MapBar0()
	if err != nil {
		t.Fatalf("MapBar0: %v", err)
	}
	caps := regs.ReadCapabilities(bar)
	if !caps.SupportsNVMCommand {
		t.Error("expected simulated controller to advertise NVM command set support")
	}
	if !caps.ContiguousQueuesReq {
		t.Error("expected simulated controller to require contiguous queues")
	}
}

func TestSimulatedEnableSetsReady(t *testing.T) {
	s := NewSimulated(SimulatedIdentity{}, nil)
	bar, _ := s.MapBar0()

	st := regs.ReadCSTS(bar)
	if st.Ready {
		t.Fatal("expected controller not ready before enable")
	}

	regs.WriteCC(bar, regs.CCConfig{Enable: true, IOSubmissionEntrySizeLog2: 6, IOCompletionEntrySizeLog2: 4})
	st = regs.ReadCSTS(bar)
	if !st.Ready {
		t.Fatal("expected controller ready after enable")
	}

	regs.WriteCC(bar, regs.CCConfig{Enable: false})
	st = regs.ReadCSTS(bar)
	if st.Ready {
		t.Fatal("expected controller not ready after disable")
	}
}

func TestSimulatedConfigureInterrupts(t *testing.T) {
	s := NewSimulated(SimulatedIdentity{}, nil)
	mode, err := s.ConfigureInterrupts(4)
	if err != nil {
		t.Fatalf("ConfigureInterrupts: %v", err)
	}
	if mode != InterruptModeMSIX {
		t.Errorf("mode = %v, want msi-x for 4 requested vectors", mode)
	}

	mode, err = s.ConfigureInterrupts(1)
	if err != nil {
		t.Fatalf("ConfigureInterrupts: %v", err)
	}
	if mode != InterruptModeLegacy {
		t.Errorf("mode = %v, want legacy for 1 requested vector", mode)
	}
}
