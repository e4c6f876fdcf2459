package resilience

import (
	"sync"

	"github.com/ragrelay/ragrelay/pkg/logging"
)

// DefaultDegradationLevels are the level names used when none are supplied.
// Level 0 is full service; higher levels are progressively more degraded.
var DefaultDegradationLevels = []string{
	"full_service",
	"reduced_functionality",
	"minimal_service",
	"emergency_mode",
}

// DegradationLadder is a discrete severity ladder with explicit
// degrade/recover transitions. The level only ever moves by one step per
// call and stays within [0, len(levels)-1].
type DegradationLadder struct {
	mutex   sync.Mutex
	levels  []string
	current int
	reasons []string
	logger  *logging.Logger
}

// NewDegradationLadder creates a ladder with the given ordered level names.
// With no arguments the default levels are used.
func NewDegradationLadder(levels ...string) *DegradationLadder {
	if len(levels) == 0 {
		levels = DefaultDegradationLevels
	}
	return &DegradationLadder{
		levels: levels,
		logger: logging.GetLogger(),
	}
}

// Degrade records the reason and moves one level down the ladder, clamped
// to the deepest defined level.
func (d *DegradationLadder) Degrade(reason string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.reasons = append(d.reasons, reason)
	if d.current < len(d.levels)-1 {
		d.current++
		d.logger.Warn("Service degraded",
			"level", d.current,
			"level_name", d.levels[d.current],
			"reason", reason,
		)
	}
}

// Recover moves one level back up, clamped to 0, and drops the oldest
// recorded reason so the reasons list stays a meaningful audit trail.
func (d *DegradationLadder) Recover() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.reasons) > 0 {
		d.reasons = d.reasons[1:]
	}
	if d.current > 0 {
		d.current--
		d.logger.Info("Service recovered",
			"level", d.current,
			"level_name", d.levels[d.current],
		)
	}
}

// CurrentLevel returns the current degradation level (0 = full service)
func (d *DegradationLadder) CurrentLevel() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.current
}

// CurrentLevelName returns the name of the current degradation level
func (d *DegradationLadder) CurrentLevelName() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.levels[d.current]
}

// IsDegraded reports whether any degradation is active
func (d *DegradationLadder) IsDegraded() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.current > 0
}

// CanPerformOperation reports whether an operation that tolerates at most
// requiredLevel degradation may run. Operations declaring level 0 are
// blocked as soon as any degradation exists.
func (d *DegradationLadder) CanPerformOperation(requiredLevel int) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.current <= requiredLevel
}

// Reasons returns a copy of the active degradation reasons, oldest first
func (d *DegradationLadder) Reasons() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	out := make([]string, len(d.reasons))
	copy(out, d.reasons)
	return out
}

// Reset returns the ladder to full service and clears all reasons
func (d *DegradationLadder) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.current = 0
	d.reasons = nil
}
