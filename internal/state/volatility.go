package state

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Direction of a price excursion.
type Direction string

const (
	DirectionRise Direction = "rise"
	DirectionFall Direction = "fall"
)

// Magnitude grades an excursion against the high threshold.
type Magnitude string

const (
	MagnitudeSignificant Magnitude = "SIGNIFICANT"
	MagnitudeMajor       Magnitude = "MAJOR"
)

// VolatilityConfig holds the absolute change thresholds (currency units).
type VolatilityConfig struct {
	Low      decimal.Decimal
	High     decimal.Decimal
	Cooldown time.Duration
	Lookback time.Duration
}

// VolatilityReference is the anti-spam state. A zero Price means armed.
type VolatilityReference struct {
	Price     decimal.Decimal
	LastAlert time.Time
}

// Armed reports whether no excursion is currently being tracked.
func (r VolatilityReference) Armed() bool { return r.Price.IsZero() }

// Excursion describes a price move that qualified for an alert.
type Excursion struct {
	Direction Direction
	Magnitude Magnitude
	Current   decimal.Decimal
	Previous  decimal.Decimal
	Change    decimal.Decimal
	ChangePct decimal.Decimal
	Since     time.Time
}

// EvaluateVolatility compares current against the newest sample older than
// the lookback window and decides whether a new excursion alert is due.
// The returned reference must replace ref.
func EvaluateVolatility(current decimal.Decimal, history *RollingHistory[decimal.Decimal], cfg VolatilityConfig, now time.Time, ref VolatilityReference) (*Excursion, VolatilityReference) {
	if !current.IsPositive() || history == nil {
		return nil, ref
	}
	old, ok := history.Before(now.Add(-cfg.Lookback))
	if !ok || !old.Value.IsPositive() {
		return nil, ref
	}

	change := current.Sub(old.Value)
	changePct := change.Div(old.Value).Mul(hundred)

	if !ref.Armed() && current.Sub(ref.Price).Abs().LessThan(cfg.Low.Div(two)) {
		ref.Price = decimal.Zero
	}

	if change.Abs().LessThan(cfg.Low) || !ref.Armed() || now.Sub(ref.LastAlert) <= cfg.Cooldown {
		return nil, ref
	}

	exc := &Excursion{
		Direction: DirectionRise,
		Magnitude: MagnitudeSignificant,
		Current:   current,
		Previous:  old.Value,
		Change:    change,
		ChangePct: changePct,
		Since:     old.At,
	}
	if change.IsNegative() {
		exc.Direction = DirectionFall
	}
	if change.Abs().GreaterThanOrEqual(cfg.High) {
		exc.Magnitude = MagnitudeMajor
	}

	return exc, VolatilityReference{Price: current, LastAlert: now}
}

// Volatility owns one reference and applies EvaluateVolatility to it.
type Volatility struct {
	cfg VolatilityConfig
	ref VolatilityReference
}

// NewVolatility builds an armed tracker.
func NewVolatility(cfg VolatilityConfig) *Volatility {
	return &Volatility{cfg: cfg}
}

// Evaluate runs one step and stores the new reference.
func (v *Volatility) Evaluate(current decimal.Decimal, history *RollingHistory[decimal.Decimal], now time.Time) *Excursion {
	exc, ref := EvaluateVolatility(current, history, v.cfg, now, v.ref)
	v.ref = ref
	return exc
}

// Reference returns the current anti-spam state.
func (v *Volatility) Reference() VolatilityReference { return v.ref }

// Config returns the thresholds in use.
func (v *Volatility) Config() VolatilityConfig { return v.cfg }
