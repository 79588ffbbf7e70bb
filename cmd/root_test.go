package cmd

import (
	"testing"

	"github.com/rtsched-sim/rtsched-sim/harness"
)

func TestDefaultScenario_Valid(t *testing.T) {
	spec := defaultScenario()
	if err := spec.Validate(); err != nil {
		t.Fatalf("built-in scenario invalid: %v", err)
	}
	if len(spec.Tasks) != 3 {
		t.Errorf("built-in scenario has %d task specs, want 3", len(spec.Tasks))
	}
}

func TestDefaultScenario_Admissible(t *testing.T) {
	spec := defaultScenario()
	spec.HorizonMs = 50
	h, err := harness.New(spec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := h.Run()
	if res.Rejected != 0 {
		t.Errorf("built-in scenario rejected %d tasks", res.Rejected)
	}
}
