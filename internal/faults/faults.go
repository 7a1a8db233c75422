package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failure by how the monitor must react to it.
type Kind int

const (
	// KindUnknown is returned for errors that were never classified.
	KindUnknown Kind = iota
	// KindSampling marks a network/SSH/RPC error or timeout. The cycle's state update is skipped.
	KindSampling
	// KindParse marks an unexpected text shape. The affected sub-metric is defaulted.
	KindParse
	// KindDelivery marks an unreachable notification sink. The alert is lost.
	KindDelivery
	// KindAuthorization marks a privileged request from an untrusted caller.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindSampling:
		return "sampling"
	case KindParse:
		return "parse"
	case KindDelivery:
		return "delivery"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error carries a classified failure together with the collaborator that produced it.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failure (%s)", e.Kind, e.Source)
	}
	return fmt.Sprintf("%s failure (%s): %v", e.Kind, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the underlying cause was a deadline.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Sampling wraps err as a sampling failure of source.
func Sampling(source string, err error) error {
	return wrap(KindSampling, source, err)
}

// Parse wraps err as a parse failure of source.
func Parse(source string, err error) error {
	return wrap(KindParse, source, err)
}

// Delivery wraps err as a delivery failure of source.
func Delivery(source string, err error) error {
	return wrap(KindDelivery, source, err)
}

// Authorization builds an authorization failure for the given caller.
func Authorization(source string, caller int64) error {
	return &Error{Kind: KindAuthorization, Source: source, Err: fmt.Errorf("caller %d is not trusted", caller)}
}

func wrap(kind Kind, source string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Source: source, Err: err}
}

// KindOf returns the classification of err. Deadline errors that were never
// wrapped are treated as sampling failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindSampling
	}
	return KindUnknown
}

// SourceOf returns the collaborator name recorded on err, if any.
func SourceOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Source
	}
	return ""
}
