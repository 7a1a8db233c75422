package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/faults"
)

const (
	feesPath       = "/fees/recommended"
	difficultyPath = "/difficulty-adjustment"
)

// ErrRateLimited is returned when the price API answers 429.
var ErrRateLimited = errors.New("rate limited")

// MarketOptions parameterise the mempool.space and CoinGecko fetchers.
type MarketOptions struct {
	MempoolBaseURL string
	PriceURL       string
	Timeout        time.Duration
	UserAgent      string
}

// Market fetches fees, chain statistics and spot prices over HTTP.
type Market struct {
	opts       MarketOptions
	logger     zerolog.Logger
	client     *http.Client
	mempoolURL string
	priceURL   string
}

// NewMarket constructs a market fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	mempoolURL := strings.TrimRight(opts.MempoolBaseURL, "/")
	if mempoolURL == "" {
		mempoolURL = "https://mempool.space/api/v1"
	}
	priceURL := opts.PriceURL
	if priceURL == "" {
		priceURL = "https://api.coingecko.com/api/v3/simple/price"
	}

	return &Market{
		opts:       opts,
		logger:     logger.With().Str("component", "market_fetcher").Logger(),
		client:     &http.Client{Timeout: timeout},
		mempoolURL: mempoolURL,
		priceURL:   priceURL,
	}
}

// FetchFees retrieves the recommended fee rates.
func (m *Market) FetchFees(ctx context.Context) (Fees, error) {
	var fees Fees
	if err := m.get(ctx, m.mempoolURL+feesPath, "mempool", &fees); err != nil {
		return Fees{}, faults.Sampling("mempool", err)
	}
	if fees.Fastest <= 0 {
		return Fees{}, faults.Parse("mempool", errors.New("fastestFee missing from response"))
	}
	return fees, nil
}

// FetchDifficulty retrieves the difficulty adjustment estimate.
func (m *Market) FetchDifficulty(ctx context.Context) (Difficulty, error) {
	var diff Difficulty
	if err := m.get(ctx, m.mempoolURL+difficultyPath, "mempool", &diff); err != nil {
		return Difficulty{}, faults.Sampling("mempool", err)
	}
	return diff, nil
}

// FetchPrices retrieves the BTC price in USD and EUR. A 429 is a sampling
// failure; the next cycle simply tries again.
func (m *Market) FetchPrices(ctx context.Context) (Prices, error) {
	endpoint, err := url.Parse(m.priceURL)
	if err != nil {
		return Prices{}, fmt.Errorf("parse price url: %w", err)
	}
	q := endpoint.Query()
	q.Set("ids", "bitcoin")
	q.Set("vs_currencies", "eur,usd")
	endpoint.RawQuery = q.Encode()

	var payload map[string]map[string]json.Number
	if err := m.get(ctx, endpoint.String(), "coingecko", &payload); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
			m.logger.Warn().Msg("coingecko rate limit hit")
			err = fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Prices{}, faults.Sampling("coingecko", err)
	}

	quotes := payload["bitcoin"]
	usd, errUSD := decimal.NewFromString(quotes["usd"].String())
	eur, errEUR := decimal.NewFromString(quotes["eur"].String())
	if errUSD != nil || errEUR != nil || !usd.IsPositive() || !eur.IsPositive() {
		return Prices{}, faults.Parse("coingecko", errors.New("incomplete price data"))
	}
	return Prices{USD: usd, EUR: eur}, nil
}

func (m *Market) get(ctx context.Context, endpoint, api string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "nodesentinel/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(resp, into, api)
}

var (
	_ FeeSource   = (*Market)(nil)
	_ PriceSource = (*Market)(nil)
	_ ChainSource = (*Market)(nil)
)
