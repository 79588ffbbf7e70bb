package sched

import "fmt"

// Fixed-point scales, matching the arithmetic the admission and CBS tests
// are specified in.
const (
	// BWShift/BWUnit scale bandwidth ratios: BWUnit means 100% of one core.
	BWShift = 20
	BWUnit  = int64(1) << BWShift

	// DLScale shifts nanosecond values to ~microsecond granularity before
	// cross-multiplication so the overflow test cannot itself overflow.
	DLScale = 10

	// CapacityShift/CapacityUnit scale core capacity and frequency:
	// CapacityUnit is a full-speed, full-capacity core.
	CapacityShift = 10
	CapacityUnit  = int64(1) << CapacityShift
)

// Parameter validation bounds. Values at or above the guard would overflow
// the signed fixed-point arithmetic; the period bounds keep timers and
// admission math in a sane range and are configurable per domain.
const (
	MinRuntimeResolution = 1 * Microsecond
	ParamRangeGuard      = int64(1) << 62
	DefaultPeriodMin     = 100 * Microsecond
	DefaultPeriodMax     = (int64(1) << 22) * Microsecond // ~4.19s
)

// PeriodBounds are the domain-wide limits on deadline periods.
type PeriodBounds struct {
	Min int64
	Max int64
}

// DefaultPeriodBounds returns the default [100µs, ~4.19s] range.
func DefaultPeriodBounds() PeriodBounds {
	return PeriodBounds{Min: DefaultPeriodMin, Max: DefaultPeriodMax}
}

// toRatio converts runtime-per-period to BW units. period must be > 0.
func toRatio(period, runtime int64) int64 {
	return (runtime << BWShift) / period
}

// ValidateDeadlineParams is the gate every deadline parameter set passes
// before any scheduler state is mutated. A zero Period is normalized to the
// relative deadline (implicit-deadline entity) before checking.
//
// The checks, in order: range guard, runtime resolution, the
// runtime ≤ deadline ≤ period chain, and the domain period bounds.
func ValidateDeadlineParams(p *DeadlineParams, bounds PeriodBounds) error {
	if p.Period == 0 {
		p.Period = p.Deadline
	}
	if p.Runtime < 0 || p.Deadline < 0 || p.Period < 0 ||
		p.Runtime >= ParamRangeGuard || p.Deadline >= ParamRangeGuard || p.Period >= ParamRangeGuard {
		return fmt.Errorf("%w: values outside signed range guard", ErrInvalidParameters)
	}
	if p.Runtime < MinRuntimeResolution {
		return fmt.Errorf("%w: runtime %dns below minimum resolution %dns",
			ErrInvalidParameters, p.Runtime, MinRuntimeResolution)
	}
	if p.Deadline < p.Runtime {
		return fmt.Errorf("%w: relative deadline %dns < runtime %dns",
			ErrInvalidParameters, p.Deadline, p.Runtime)
	}
	if p.Period < p.Deadline {
		return fmt.Errorf("%w: period %dns < relative deadline %dns",
			ErrInvalidParameters, p.Period, p.Deadline)
	}
	if p.Period < bounds.Min || p.Period > bounds.Max {
		return fmt.Errorf("%w: period %dns outside domain bounds [%d, %d]",
			ErrInvalidParameters, p.Period, bounds.Min, bounds.Max)
	}
	return nil
}
