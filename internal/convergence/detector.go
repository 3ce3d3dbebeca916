// Package convergence implements the idle-counter heuristic that terminates
// open-ended scroll loops.
package convergence

// Detector tracks rendered-element counts across scroll rounds. The idle
// counter increments whenever a round renders the same count as the round
// before it and resets otherwise.
type Detector struct {
	idleThreshold int
	maxRounds     int

	rounds    int
	idle      int
	lastCount int
	observed  bool
}

const (
	defaultIdleThreshold = 3
	defaultMaxRounds     = 50
)

// NewDetector builds a Detector. Non-positive arguments fall back to the
// defaults (idle threshold 3, 50 bounded rounds).
func NewDetector(idleThreshold, maxRounds int) *Detector {
	if idleThreshold <= 0 {
		idleThreshold = defaultIdleThreshold
	}
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &Detector{
		idleThreshold: idleThreshold,
		maxRounds:     maxRounds,
	}
}

// Observe records the rendered count for one completed round.
func (d *Detector) Observe(renderedCount int) {
	d.rounds++
	if d.observed && renderedCount == d.lastCount {
		d.idle++
	} else {
		d.idle = 0
	}
	d.lastCount = renderedCount
	d.observed = true
}

// Converged reports whether the loop should stop: the idle counter reached
// its threshold and the scrolled element has no remaining distance.
func (d *Detector) Converged(noScrollLeft bool) bool {
	return d.idle >= d.idleThreshold && noScrollLeft
}

// Exhausted reports whether the bounded round budget has run out.
func (d *Detector) Exhausted() bool {
	return d.rounds >= d.maxRounds
}

// Rounds returns how many rounds have been observed.
func (d *Detector) Rounds() int {
	return d.rounds
}

// Idle returns the current idle-streak length.
func (d *Detector) Idle() int {
	return d.idle
}
