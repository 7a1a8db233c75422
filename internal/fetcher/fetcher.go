package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Fees are mempool.space recommended fee rates in sat/vB.
type Fees struct {
	Fastest  float64 `json:"fastestFee"`
	HalfHour float64 `json:"halfHourFee"`
	Hour     float64 `json:"hourFee"`
	Economy  float64 `json:"economyFee"`
	Minimum  float64 `json:"minimumFee"`
}

// Difficulty is the next difficulty adjustment estimate.
type Difficulty struct {
	ProgressPercent   float64 `json:"progressPercent"`
	DifficultyChange  float64 `json:"difficultyChange"`
	RemainingBlocks   int64   `json:"remainingBlocks"`
	EstimatedRetarget int64   `json:"estimatedRetargetDate"`
}

// Prices is the BTC spot price in the quoted currencies.
type Prices struct {
	USD decimal.Decimal
	EUR decimal.Decimal
}

// FeeSource retrieves recommended fees.
type FeeSource interface {
	FetchFees(ctx context.Context) (Fees, error)
}

// PriceSource retrieves the BTC spot price.
type PriceSource interface {
	FetchPrices(ctx context.Context) (Prices, error)
}

// ChainSource retrieves public chain statistics.
type ChainSource interface {
	FetchDifficulty(ctx context.Context) (Difficulty, error)
}

// Analyst produces a short contextual explanation for a market query.
type Analyst interface {
	Analyze(ctx context.Context, query string) (Analysis, error)
}

func decodeJSON(resp *http.Response, into any, api string) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", api, err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(api, resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("decode %s response: %w", api, err)
	}
	return nil
}

type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// HTTPError is a non-200 answer from an upstream API.
type HTTPError struct {
	API    string
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s api error (%d)", e.API, e.Status)
	}
	return fmt.Sprintf("%s api error (%d): %s", e.API, e.Status, e.Detail)
}

func parseHTTPError(api string, status int, payload []byte) error {
	httpErr := &HTTPError{API: api, Status: status}
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			httpErr.Detail = apiErr.Message
			return httpErr
		case len(apiErr.Error) > 0 && string(apiErr.Error) != "null":
			httpErr.Detail = strings.Trim(string(apiErr.Error), `"`)
			return httpErr
		}
	}
	if len(payload) > 0 {
		httpErr.Detail = truncateDetail(strings.TrimSpace(string(payload)))
	}
	return httpErr
}

func truncateDetail(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
