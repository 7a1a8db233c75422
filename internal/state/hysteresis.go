package state

// Level is a discrete severity band assigned to a scalar metric.
type Level int

const (
	LevelUninitialized Level = iota
	LevelLow
	LevelNormal
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelNormal:
		return "NORMAL"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	default:
		return "UNINITIALIZED"
	}
}

// Thresholds are the band breakpoints of a hysteresis machine.
// High is not a band edge; callers use it to grade severity inside the HIGH band.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// Classify maps v to a level. Anything above Medium is HIGH, anything at or
// below Low is LOW, and the MEDIUM test covers the rest. NORMAL stays the
// nominal default and is unreachable with Low <= Medium.
func Classify(v float64, th Thresholds) Level {
	level := LevelNormal
	if v > th.Medium {
		level = LevelHigh
	} else if v <= th.Low {
		level = LevelLow
	} else if v > th.Low && v <= th.Medium {
		level = LevelMedium
	}
	return level
}

// Evaluate computes the level for v and reports whether it differs from prev.
// Leaving LevelUninitialized is always silent.
func Evaluate(prev Level, v float64, th Thresholds) (Level, bool) {
	next := Classify(v, th)
	if prev == LevelUninitialized {
		return next, false
	}
	return next, next != prev
}

// Hysteresis owns the current level of one metric.
type Hysteresis struct {
	th    Thresholds
	level Level
}

// NewHysteresis builds an uninitialised machine.
func NewHysteresis(th Thresholds) *Hysteresis {
	return &Hysteresis{th: th}
}

// Observe feeds v and persists the computed level.
func (h *Hysteresis) Observe(v float64) (Level, bool) {
	next, transitioned := Evaluate(h.level, v, h.th)
	h.level = next
	return next, transitioned
}

// Level returns the current level.
func (h *Hysteresis) Level() Level { return h.level }

// Initialized reports whether at least one observation has been made.
func (h *Hysteresis) Initialized() bool { return h.level != LevelUninitialized }

// Thresholds returns the configured breakpoints.
func (h *Hysteresis) Thresholds() Thresholds { return h.th }
