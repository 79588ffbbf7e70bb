package sched

import "errors"

// The only failures visible to callers of the scheduler core. Everything else
// (clock lag, migration races, ledger underflow) is corrected defensively and
// at most logged.
var (
	// ErrAdmissionRejected is returned when accepting a reservation would
	// push a domain's total reserved bandwidth past its capacity. The
	// entity's state is unchanged.
	ErrAdmissionRejected = errors.New("sched: admission rejected, reservation exceeds domain capacity")

	// ErrInvalidParameters is returned when deadline parameters fail the
	// validation gate. Checked before any state mutation.
	ErrInvalidParameters = errors.New("sched: invalid scheduling parameters")

	// ErrEmptyAffinity is returned when a requested affinity mask would
	// leave the entity with no allowed core in the domain.
	ErrEmptyAffinity = errors.New("sched: affinity mask allows no core")
)
