package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nodesentinel/internal/faults"
)

func TestFetchFeesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/fees/recommended" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"fastestFee":12,"halfHourFee":9,"hourFee":7,"economyFee":3,"minimumFee":1}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{MempoolBaseURL: srv.URL + "/api/v1", Timeout: time.Second}, noopLogger())
	fees, err := m.FetchFees(context.Background())
	if err != nil {
		t.Fatalf("fetch fees: %v", err)
	}
	if fees.Fastest != 12 || fees.HalfHour != 9 || fees.Hour != 7 {
		t.Fatalf("unexpected fees %+v", fees)
	}
}

func TestFetchFeesHTTPErrorIsSampling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{MempoolBaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := m.FetchFees(context.Background())
	if faults.KindOf(err) != faults.KindSampling {
		t.Fatalf("expected sampling failure, got %v", err)
	}
}

func TestFetchPricesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "bitcoin" || r.URL.Query().Get("vs_currencies") != "eur,usd" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64250.5,"eur":59010}}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{PriceURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := m.FetchPrices(context.Background())
	if err != nil {
		t.Fatalf("fetch prices: %v", err)
	}
	if !prices.USD.Equal(decimal.RequireFromString("64250.5")) || !prices.EUR.Equal(decimal.NewFromInt(59010)) {
		t.Fatalf("unexpected prices %+v", prices)
	}
}

func TestFetchPricesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{PriceURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := m.FetchPrices(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if faults.KindOf(err) != faults.KindSampling {
		t.Fatalf("429 must be a sampling failure, got %v", faults.KindOf(err))
	}
}

func TestFetchPricesIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000}}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{PriceURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := m.FetchPrices(context.Background()); faults.KindOf(err) != faults.KindParse {
		t.Fatalf("missing eur quote must be a parse failure, got %v", err)
	}
}

func TestFetchDifficulty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"progressPercent":41.5,"difficultyChange":-1.2,"remainingBlocks":1180,"estimatedRetargetDate":1760000000000}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{MempoolBaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	diff, err := m.FetchDifficulty(context.Background())
	if err != nil {
		t.Fatalf("fetch difficulty: %v", err)
	}
	if diff.RemainingBlocks != 1180 || diff.ProgressPercent != 41.5 {
		t.Fatalf("unexpected difficulty %+v", diff)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
