package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusErrored = "errored"
)

// MarketSample represents a persisted market observation bucket.
type MarketSample struct {
	Bucket      time.Time
	PriceUSD    decimal.NullDecimal
	PriceEUR    decimal.NullDecimal
	FastestFee  *float64
	HalfHourFee *float64
	HourFee     *float64
	FeeLevel    string
	Status      string
	Error       *string
	CreatedAt   time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Key       string
	Severity  string
	Message   string
	Channel   string
	CreatedAt time.Time
}
