package sched

// Decayed utilization averages. Running, runnable and load contributions are
// folded into geometric-series sums over 1024µs sub-periods with a 32-period
// half-life: a contribution from n periods ago weighs y^n where y^32 = 0.5.
// Everything is integer arithmetic on precomputed tables; Update never
// blocks and never allocates.

const (
	// peltPeriod is the sub-period length in microseconds.
	peltPeriod = 1024
	// peltHalfLife is the number of sub-periods after which a contribution
	// has decayed to half its weight.
	peltHalfLife = 32
	// peltSumMax is the convergence bound of the series:
	// 1024 * (y^0 + y^1 + ...) with y^32 = 0.5.
	peltSumMax = 47742
)

// peltDecayInv[n] = y^n * 2^32, n in [0, 31].
var peltDecayInv = [peltHalfLife]uint64{
	0xffffffff, 0xfa83b2da, 0xf5257d14, 0xefe4b99a,
	0xeac0c6e6, 0xe5b906e6, 0xe0ccdeeb, 0xdbfbb796,
	0xd744fcc9, 0xd2a81d91, 0xce248c14, 0xc9b9bd85,
	0xc5672a10, 0xc12c4cc9, 0xbd08a39e, 0xb8fbaf46,
	0xb504f333, 0xb123f581, 0xad583ee9, 0xa9a15ab4,
	0xa5fed6a9, 0xa2704302, 0x9ef5325f, 0x9b8d39b9,
	0x9837f050, 0x94f4efa8, 0x91c3d373, 0x8ea4398a,
	0x8b95c1e3, 0x88980e80, 0x85aac367, 0x82cd8698,
}

// decayLoad computes val * y^n. Halvings are exact shifts; the sub-half-life
// remainder multiplies through the inverse table.
func decayLoad(val, n uint64) uint64 {
	if n > 63*peltHalfLife {
		return 0
	}
	val >>= n / peltHalfLife
	n %= peltHalfLife
	return (val * peltDecayInv[n]) >> 32
}

// accumulateSegments sums the three pieces of an update spanning one or more
// whole sub-periods: the tail of the previously open period decayed by the
// full span (c1), the closed middle periods at full series weight (c2), and
// the still-open remainder undecayed (d3).
func accumulateSegments(periods, d1, d3 uint64) uint64 {
	c1 := decayLoad(d1, periods)
	c2 := uint64(peltSumMax) - decayLoad(peltSumMax, periods) - peltPeriod
	return c1 + c2 + d3
}

// UtilizationAverage holds the decayed sums and derived averages for one
// entity or one core. Averages are in [0, 1024]: 1024 means continuously
// contributing for the full history window.
type UtilizationAverage struct {
	lastUpdate    int64  // ns timestamp of the last folded reading
	periodContrib uint32 // µs already accumulated in the open sub-period

	loadSum     uint64
	runnableSum uint64
	runningSum  uint64

	LoadAvg     int64
	RunnableAvg int64
	RunningAvg  int64
}

// Reset clears history and restarts the window at now.
func (a *UtilizationAverage) Reset(now int64) {
	*a = UtilizationAverage{lastUpdate: now}
}

// Update folds the interval since the last update into the sums, attributing
// it to whichever of load/runnable/running were true for the interval.
//
// Returns true when at least one whole sub-period closed, meaning the derived
// averages changed and dependent consumers (frequency scaling) should
// re-observe them. A backward clock reading resets the timestamp and reports
// no update.
func (a *UtilizationAverage) Update(now int64, load, runnable, running bool) bool {
	delta := now - a.lastUpdate
	if delta < 0 {
		a.lastUpdate = now
		return false
	}
	delta >>= DLScale // ns to ~µs
	if delta == 0 {
		return false
	}
	a.lastUpdate += delta << DLScale

	d := uint64(delta)
	total := uint64(a.periodContrib) + d
	periods := total / peltPeriod

	contrib := d
	if periods > 0 {
		a.loadSum = decayLoad(a.loadSum, periods)
		a.runnableSum = decayLoad(a.runnableSum, periods)
		a.runningSum = decayLoad(a.runningSum, periods)
		contrib = accumulateSegments(periods, peltPeriod-uint64(a.periodContrib), total%peltPeriod)
	}
	a.periodContrib = uint32(total % peltPeriod)

	if load {
		a.loadSum += contrib
	}
	if runnable {
		a.runnableSum += contrib
	}
	if running {
		a.runningSum += contrib
	}

	if periods == 0 {
		return false
	}

	divider := uint64(peltSumMax) - peltPeriod + uint64(a.periodContrib)
	a.LoadAvg = int64(a.loadSum * peltPeriod / divider)
	a.RunnableAvg = int64(a.runnableSum * peltPeriod / divider)
	a.RunningAvg = int64(a.runningSum * peltPeriod / divider)
	return true
}
