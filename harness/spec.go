package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rtsched-sim/rtsched-sim/sched"
)

// ScenarioSpec is the top-level scenario configuration.
// Loaded from YAML via LoadScenario(path).
type ScenarioSpec struct {
	Version string `yaml:"version"`
	Seed    int64  `yaml:"seed"`
	Cores   int    `yaml:"cores"`

	HorizonMs int64 `yaml:"horizon_ms"`
	TickUs    int64 `yaml:"tick_us"`

	// DeadlineBandwidthPct caps deadline reservations per core; 0 uses the
	// default 95, a negative value disables admission control.
	DeadlineBandwidthPct int   `yaml:"deadline_bandwidth_pct,omitempty"`
	GroupRuntimeMs       int64 `yaml:"group_runtime_ms,omitempty"`
	GroupPeriodMs        int64 `yaml:"group_period_ms,omitempty"`

	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec defines one synthetic task (or a set of identical replicas).
type TaskSpec struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count,omitempty"` // replicas, default 1

	Policy string `yaml:"policy"` // "deadline" or "fixed"

	// Deadline policy reservation.
	RuntimeUs  int64 `yaml:"runtime_us,omitempty"`
	DeadlineUs int64 `yaml:"deadline_us,omitempty"`
	PeriodUs   int64 `yaml:"period_us,omitempty"`
	Reclaim    bool  `yaml:"reclaim,omitempty"`

	// Fixed policy level, 0 = highest.
	Prio int `yaml:"prio,omitempty"`

	// Behavior: busy ExecUs (± uniform jitter) per job, then sleep SleepUs.
	// SleepDist "fixed" (default) sleeps exactly SleepUs; "exp" draws an
	// exponential sleep with mean SleepUs, giving Poisson wakeups.
	ExecUs       int64  `yaml:"exec_us"`
	ExecJitterUs int64  `yaml:"exec_jitter_us,omitempty"`
	SleepUs      int64  `yaml:"sleep_us"`
	SleepDist    string `yaml:"sleep_dist,omitempty"`

	Affinity []int `yaml:"affinity,omitempty"` // empty = all cores
}

// LoadScenario reads, defaults and validates a scenario file.
func LoadScenario(path string) (*ScenarioSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var spec ScenarioSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ApplyDefaults fills the omitted fields with workable values.
func (s *ScenarioSpec) ApplyDefaults() {
	if s.Cores == 0 {
		s.Cores = 2
	}
	if s.HorizonMs == 0 {
		s.HorizonMs = 1000
	}
	if s.TickUs == 0 {
		s.TickUs = 1000
	}
	for i := range s.Tasks {
		if s.Tasks[i].Count == 0 {
			s.Tasks[i].Count = 1
		}
	}
}

// Validate rejects scenarios the harness cannot run. Reservation parameters
// themselves are validated again by the scheduler's admission gate.
func (s *ScenarioSpec) Validate() error {
	if s.Cores < 1 || s.Cores > 64 {
		return fmt.Errorf("cores must be in [1, 64], got %d", s.Cores)
	}
	if s.HorizonMs <= 0 {
		return fmt.Errorf("horizon_ms must be positive, got %d", s.HorizonMs)
	}
	if s.TickUs <= 0 {
		return fmt.Errorf("tick_us must be positive, got %d", s.TickUs)
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("scenario defines no tasks")
	}
	for i := range s.Tasks {
		t := &s.Tasks[i]
		if t.Name == "" {
			return fmt.Errorf("task %d: name is required", i)
		}
		switch t.Policy {
		case "deadline":
			if t.RuntimeUs <= 0 || t.DeadlineUs <= 0 {
				return fmt.Errorf("task %q: deadline policy needs runtime_us and deadline_us", t.Name)
			}
		case "fixed":
			if t.Prio < 0 || t.Prio >= sched.NumPriorities {
				return fmt.Errorf("task %q: prio must be in [0, %d)", t.Name, sched.NumPriorities)
			}
		default:
			return fmt.Errorf("task %q: unknown policy %q", t.Name, t.Policy)
		}
		if t.ExecUs <= 0 {
			return fmt.Errorf("task %q: exec_us must be positive", t.Name)
		}
		if t.SleepUs < 0 {
			return fmt.Errorf("task %q: sleep_us must not be negative", t.Name)
		}
		switch t.SleepDist {
		case "", "fixed", "exp":
		default:
			return fmt.Errorf("task %q: unknown sleep_dist %q", t.Name, t.SleepDist)
		}
		for _, core := range t.Affinity {
			if core < 0 || core >= s.Cores {
				return fmt.Errorf("task %q: affinity core %d outside [0, %d)", t.Name, core, s.Cores)
			}
		}
	}
	return nil
}
