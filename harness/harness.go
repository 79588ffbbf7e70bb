package harness

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rtsched-sim/rtsched-sim/sched"
)

// Task is one synthetic task instance: its entity, its behavior parameters
// and its remaining work in the current job.
type Task struct {
	Name string

	spec      *TaskSpec
	entity    *sched.Entity
	remaining int64
	lastCore  int

	jobs   int64
	misses int64
}

// TaskResult summarizes one task's run.
type TaskResult struct {
	Name   string
	Jobs   int64
	Misses int64
}

// Result aggregates a finished run.
type Result struct {
	Horizon  int64
	Tasks    []TaskResult
	Rejected int
	CoreUtil []int64 // decayed running average per core, [0, 1024]
	Sched    *sched.Metrics
}

// Print displays the run summary.
func (r *Result) Print() {
	fmt.Println("=== Run Summary ===")
	fmt.Printf("Horizon              : %dms\n", r.Horizon/sched.Millisecond)
	fmt.Printf("Rejected Admissions  : %d\n", r.Rejected)
	for i, u := range r.CoreUtil {
		fmt.Printf("Core %d Utilization   : %d.%d%%\n", i, u*100/1024, u*1000/1024%10)
	}
	for _, t := range r.Tasks {
		fmt.Printf("  %-20s jobs=%-6d deadline misses=%d\n", t.Name, t.Jobs, t.Misses)
	}
	r.Sched.Print()
}

// Harness owns one deterministic run: the scheduler system under a manual
// clock, the synthetic tasks and the event loop driving both.
type Harness struct {
	spec  *ScenarioSpec
	sys   *sched.System
	clock *sched.ManualClock
	rng   *PartitionedRNG

	events      *EventHeap
	nextEventID uint64

	tasks    []*Task
	byEntity map[*sched.Entity]*Task
	prevCurr []*sched.Entity
	lastTick int64
	rejected int
}

// New builds the system and admits every task of the scenario. Tasks whose
// reservation fails admission are reported, counted and left out of the run;
// any other setup failure aborts.
func New(spec *ScenarioSpec) (*Harness, error) {
	clock := sched.NewManualClock(0)
	cfg := sched.Config{
		Cores: spec.Cores,
		Clock: clock,
	}
	if spec.DeadlineBandwidthPct > 0 {
		cfg.DeadlineBandwidth = sched.BWUnit * int64(spec.DeadlineBandwidthPct) / 100
	} else if spec.DeadlineBandwidthPct < 0 {
		cfg.DeadlineBandwidth = sched.UnlimitedBandwidth
	}
	if spec.GroupRuntimeMs != 0 {
		cfg.GroupRuntime = spec.GroupRuntimeMs * sched.Millisecond
	}
	if spec.GroupPeriodMs != 0 {
		cfg.GroupPeriod = spec.GroupPeriodMs * sched.Millisecond
	}

	h := &Harness{
		spec:     spec,
		sys:      sched.NewSystem(cfg),
		clock:    clock,
		rng:      NewPartitionedRNG(spec.Seed),
		events:   NewEventHeap(),
		byEntity: make(map[*sched.Entity]*Task),
		prevCurr: make([]*sched.Entity, spec.Cores),
	}

	for i := range spec.Tasks {
		ts := &spec.Tasks[i]
		for r := 0; r < ts.Count; r++ {
			name := ts.Name
			if ts.Count > 1 {
				name = fmt.Sprintf("%s-%d", ts.Name, r)
			}
			if err := h.addTask(name, ts); err != nil {
				return nil, err
			}
		}
	}
	if len(h.tasks) == 0 {
		return nil, fmt.Errorf("no task survived admission")
	}
	return h, nil
}

func (h *Harness) addTask(name string, ts *TaskSpec) error {
	e := h.sys.NewEntity(name)
	if len(ts.Affinity) > 0 {
		if err := h.sys.SetAffinity(e, sched.MaskOf(ts.Affinity...)); err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
	}
	switch ts.Policy {
	case "deadline":
		var flags sched.DeadlineFlags
		if ts.Reclaim {
			flags |= sched.DeadlineReclaim
		}
		params := sched.DeadlineParams{
			Runtime:  ts.RuntimeUs * sched.Microsecond,
			Deadline: ts.DeadlineUs * sched.Microsecond,
			Period:   ts.PeriodUs * sched.Microsecond,
			Flags:    flags,
		}
		if err := h.sys.SetDeadlinePolicy(e, params); err != nil {
			if errors.Is(err, sched.ErrAdmissionRejected) {
				logrus.Warnf("task %q: %v", name, err)
				h.rejected++
				return nil
			}
			return fmt.Errorf("task %q: %w", name, err)
		}
	case "fixed":
		if err := h.sys.SetFixedPriority(e, ts.Prio, nil); err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
	}
	t := &Task{Name: name, spec: ts, entity: e}
	h.tasks = append(h.tasks, t)
	h.byEntity[e] = t
	return nil
}

func (h *Harness) newEventID() uint64 {
	h.nextEventID++
	return h.nextEventID
}

func (h *Harness) scheduleWake(t *Task, at int64) {
	h.events.Schedule(&WakeEvent{BaseEvent{at, h.newEventID()}, t})
}

func (h *Harness) scheduleTick(at int64) {
	h.events.Schedule(&TickEvent{BaseEvent{at, h.newEventID()}})
}

// drawExec returns the next job's execution burst for t.
func (h *Harness) drawExec(t *Task) int64 {
	exec := t.spec.ExecUs * sched.Microsecond
	if j := t.spec.ExecJitterUs; j > 0 {
		rng := h.rng.ForTask(t.Name)
		exec += (rng.Int63n(2*j+1) - j) * sched.Microsecond
	}
	if exec < sched.Microsecond {
		exec = sched.Microsecond
	}
	return exec
}

// Run executes the scenario to its horizon and returns the summary.
func (h *Harness) Run() *Result {
	horizon := h.spec.HorizonMs * sched.Millisecond
	tick := h.spec.TickUs * sched.Microsecond

	for _, t := range h.tasks {
		h.scheduleWake(t, 0)
	}
	h.scheduleTick(tick)

	for h.events.Len() > 0 {
		ev := h.events.PopNext()
		now := ev.Timestamp()
		if now > horizon {
			break
		}
		h.clock.AdvanceTo(now)

		switch e := ev.(type) {
		case *WakeEvent:
			t := e.task
			t.remaining = h.drawExec(t)
			h.sys.Wake(t.entity, t.lastCore)
		case *TickEvent:
			h.runTick(now)
			if now+tick <= horizon {
				h.scheduleTick(now + tick)
			}
		}
	}

	res := &Result{Horizon: horizon, Rejected: h.rejected, Sched: h.sys.Metrics()}
	for _, c := range h.sys.Cores() {
		res.CoreUtil = append(res.CoreUtil, c.Utilization())
	}
	for _, t := range h.tasks {
		res.Tasks = append(res.Tasks, TaskResult{Name: t.Name, Jobs: t.jobs, Misses: t.misses})
	}
	return res
}

// runTick accounts the work done since the last tick, fires the scheduler
// tick on every core and reschedules where needed.
func (h *Harness) runTick(now int64) {
	delta := now - h.lastTick
	h.lastTick = now

	if delta > 0 {
		for i := range h.prevCurr {
			t := h.byEntity[h.prevCurr[i]]
			if t == nil || t.remaining <= 0 {
				continue
			}
			t.remaining -= delta
			if t.remaining <= 0 {
				h.completeJob(t, now)
			}
		}
	}

	cores := h.sys.Cores()
	for i := range cores {
		h.sys.Tick(i)
	}
	for i, c := range cores {
		if c.NeedResched() || c.Current() == nil {
			h.sys.Schedule(i)
		}
		h.prevCurr[i] = c.Current()
	}
}

// drawSleep returns the next inter-job sleep for t: fixed, or exponential
// with mean sleep_us for Poisson wakeups.
func (h *Harness) drawSleep(t *Task) int64 {
	sleep := t.spec.SleepUs * sched.Microsecond
	if t.spec.SleepDist == "exp" {
		rng := h.rng.ForTask(t.Name)
		sleep = int64(rng.ExpFloat64() * float64(sleep))
	}
	if sleep < sched.Microsecond {
		sleep = sched.Microsecond
	}
	return sleep
}

// completeJob finishes the current burst: block the entity and schedule the
// next wakeup after the task's sleep interval.
func (h *Harness) completeJob(t *Task, now int64) {
	t.jobs++
	if t.entity.Policy() == sched.PolicyDeadline && now > t.entity.AbsDeadline() {
		t.misses++
	}
	t.lastCore = t.entity.Core()
	h.sys.Block(t.entity)

	h.scheduleWake(t, now+h.drawSleep(t))
}
