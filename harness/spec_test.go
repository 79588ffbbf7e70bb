package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validSpec() *ScenarioSpec {
	return &ScenarioSpec{
		Cores:     2,
		HorizonMs: 100,
		TickUs:    1000,
		Tasks: []TaskSpec{
			{Name: "video", Count: 1, Policy: "deadline",
				RuntimeUs: 3000, DeadlineUs: 16000, PeriodUs: 16000,
				ExecUs: 2000, SleepUs: 14000},
			{Name: "ctrl", Count: 1, Policy: "fixed", Prio: 10,
				ExecUs: 500, SleepUs: 5000},
		},
	}
}

func TestScenarioSpec_ValidAccepted(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}

func TestScenarioSpec_ApplyDefaults(t *testing.T) {
	s := &ScenarioSpec{Tasks: []TaskSpec{{Name: "t", Policy: "fixed", ExecUs: 100}}}
	s.ApplyDefaults()
	if s.Cores != 2 {
		t.Errorf("default cores = %d, want 2", s.Cores)
	}
	if s.HorizonMs != 1000 {
		t.Errorf("default horizon = %dms, want 1000", s.HorizonMs)
	}
	if s.TickUs != 1000 {
		t.Errorf("default tick = %dus, want 1000", s.TickUs)
	}
	if s.Tasks[0].Count != 1 {
		t.Errorf("default count = %d, want 1", s.Tasks[0].Count)
	}
}

func TestScenarioSpec_ValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ScenarioSpec)
		want   string
	}{
		{"no tasks", func(s *ScenarioSpec) { s.Tasks = nil }, "no tasks"},
		{"zero cores", func(s *ScenarioSpec) { s.Cores = 0 }, "cores"},
		{"too many cores", func(s *ScenarioSpec) { s.Cores = 65 }, "cores"},
		{"negative horizon", func(s *ScenarioSpec) { s.HorizonMs = -1 }, "horizon_ms"},
		{"zero tick", func(s *ScenarioSpec) { s.TickUs = 0 }, "tick_us"},
		{"unnamed task", func(s *ScenarioSpec) { s.Tasks[0].Name = "" }, "name"},
		{"unknown policy", func(s *ScenarioSpec) { s.Tasks[0].Policy = "lottery" }, "policy"},
		{"deadline without runtime", func(s *ScenarioSpec) { s.Tasks[0].RuntimeUs = 0 }, "runtime_us"},
		{"prio out of range", func(s *ScenarioSpec) { s.Tasks[1].Prio = 100 }, "prio"},
		{"zero exec", func(s *ScenarioSpec) { s.Tasks[1].ExecUs = 0 }, "exec_us"},
		{"negative sleep", func(s *ScenarioSpec) { s.Tasks[1].SleepUs = -1 }, "sleep_us"},
		{"unknown sleep dist", func(s *ScenarioSpec) { s.Tasks[1].SleepDist = "zipf" }, "sleep_dist"},
		{"affinity out of range", func(s *ScenarioSpec) { s.Tasks[0].Affinity = []int{2} }, "affinity"},
	}
	for _, tc := range cases {
		s := validSpec()
		tc.mutate(s)
		err := s.Validate()
		if err == nil {
			t.Errorf("%s: accepted, want error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadScenario_YAML(t *testing.T) {
	doc := `
version: "1"
seed: 42
cores: 2
horizon_ms: 200
tasks:
  - name: video
    policy: deadline
    runtime_us: 3000
    deadline_us: 16000
    period_us: 16000
    exec_us: 2000
    sleep_us: 14000
  - name: ctrl
    count: 2
    policy: fixed
    prio: 10
    exec_us: 500
    sleep_us: 5000
    affinity: [0]
`
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	spec, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if spec.Seed != 42 || spec.Cores != 2 || spec.HorizonMs != 200 {
		t.Errorf("header fields = seed %d cores %d horizon %d", spec.Seed, spec.Cores, spec.HorizonMs)
	}
	if spec.TickUs != 1000 {
		t.Errorf("tick default not applied, got %d", spec.TickUs)
	}
	if len(spec.Tasks) != 2 || spec.Tasks[1].Count != 2 {
		t.Errorf("tasks parsed as %+v", spec.Tasks)
	}
	if len(spec.Tasks[1].Affinity) != 1 || spec.Tasks[1].Affinity[0] != 0 {
		t.Errorf("affinity parsed as %v", spec.Tasks[1].Affinity)
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("missing file accepted")
	}
}

func TestLoadScenario_InvalidContentRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tasks: []\n"), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	if _, err := LoadScenario(path); err == nil {
		t.Errorf("scenario without tasks accepted")
	}
}
