package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func priceHistory(points ...Point[decimal.Decimal]) *RollingHistory[decimal.Decimal] {
	h := NewRollingHistory[decimal.Decimal](4*time.Hour, 64)
	for _, p := range points {
		h.Append(p.Value, p.At)
	}
	return h
}

func pt(v int64, at time.Time) Point[decimal.Decimal] {
	return Point[decimal.Decimal]{Value: decimal.NewFromInt(v), At: at}
}

func testVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{
		Low:      decimal.NewFromInt(1000),
		High:     decimal.NewFromInt(2000),
		Cooldown: time.Minute,
		Lookback: 120 * time.Minute,
	}
}

func TestVolatilitySingleShotPerExcursion(t *testing.T) {
	cfg := testVolatilityConfig()
	t0 := time.Unix(1_700_000_000, 0)
	hist := priceHistory(pt(60000, t0))
	ref := VolatilityReference{}

	now := t0.Add(121 * time.Minute)
	exc, ref := EvaluateVolatility(decimal.NewFromInt(61500), hist, cfg, now, ref)
	if exc == nil {
		t.Fatal("a 1500 jump must alert")
	}
	if exc.Direction != DirectionRise || exc.Magnitude != MagnitudeSignificant {
		t.Fatalf("unexpected classification %s/%s", exc.Direction, exc.Magnitude)
	}
	if !ref.Price.Equal(decimal.NewFromInt(61500)) || !ref.LastAlert.Equal(now) {
		t.Fatalf("reference must be set to the alerting price, got %s", ref.Price)
	}

	now = now.Add(5 * time.Minute)
	exc, ref = EvaluateVolatility(decimal.NewFromInt(63100), hist, cfg, now, ref)
	if exc != nil {
		t.Fatal("a further move inside the same excursion must not alert")
	}
	if ref.Armed() {
		t.Fatal("reference must stay held while away from it")
	}

	// price comes back within half the low threshold of the reference
	now = now.Add(5 * time.Minute)
	calm := priceHistory(pt(61000, now.Add(-125*time.Minute)))
	exc, ref = EvaluateVolatility(decimal.NewFromInt(61200), calm, cfg, now, ref)
	if exc != nil {
		t.Fatal("a 200 change must not alert")
	}
	if !ref.Armed() {
		t.Fatal("reference must reset once price returns near it")
	}

	now = now.Add(5 * time.Minute)
	drop := priceHistory(pt(61200, now.Add(-121*time.Minute)))
	exc, _ = EvaluateVolatility(decimal.NewFromInt(58900), drop, cfg, now, ref)
	if exc == nil {
		t.Fatal("next qualifying excursion must alert")
	}
	if exc.Direction != DirectionFall || exc.Magnitude != MagnitudeMajor {
		t.Fatalf("want major fall, got %s/%s", exc.Magnitude, exc.Direction)
	}
}

func TestVolatilityCooldownHoldsEvenWhenArmed(t *testing.T) {
	cfg := testVolatilityConfig()
	cfg.Cooldown = 4 * time.Hour
	t0 := time.Unix(1_700_000_000, 0)
	now := t0.Add(121 * time.Minute)
	ref := VolatilityReference{LastAlert: now.Add(-time.Hour)}

	exc, _ := EvaluateVolatility(decimal.NewFromInt(62000), priceHistory(pt(60000, t0)), cfg, now, ref)
	if exc != nil {
		t.Fatal("cooldown must suppress the alert")
	}
}

func TestVolatilityNeedsLookbackSample(t *testing.T) {
	cfg := testVolatilityConfig()
	t0 := time.Unix(1_700_000_000, 0)
	hist := priceHistory(pt(50000, t0))

	v := NewVolatility(cfg)
	if exc := v.Evaluate(decimal.NewFromInt(70000), hist, t0.Add(30*time.Minute)); exc != nil {
		t.Fatal("no sample older than the lookback means no evaluation")
	}
	if !v.Reference().Armed() {
		t.Fatal("reference must be untouched")
	}
}
