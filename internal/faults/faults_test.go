package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"sampling", Sampling("mempool", base), KindSampling},
		{"parse", Parse("top", base), KindParse},
		{"delivery", Delivery("telegram", base), KindDelivery},
		{"wrapped", fmt.Errorf("outer: %w", Sampling("ssh", base)), KindSampling},
		{"deadline", context.DeadlineExceeded, KindSampling},
		{"authorization", Authorization("restart", 42), KindAuthorization},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("%s: want %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestWrapKeepsFirstClassification(t *testing.T) {
	inner := Parse("df", errors.New("short output"))
	outer := Sampling("ssh", inner)
	if KindOf(outer) != KindParse {
		t.Fatalf("re-wrapping must keep the original kind")
	}
	if SourceOf(outer) != "df" {
		t.Fatalf("unexpected source %q", SourceOf(outer))
	}
	if Sampling("x", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestTimeout(t *testing.T) {
	err := Sampling("ssh", fmt.Errorf("run: %w", context.DeadlineExceeded))
	var fe *Error
	if !errors.As(err, &fe) || !fe.Timeout() {
		t.Fatal("deadline must be reported as timeout")
	}
}
