// Package adapter defines the contract between the refresh core and the
// per-center fetch strategies, plus the built-in strategies.
package adapter

import (
	"context"

	"github.com/slotwatch/slotwatch/internal/models"
)

// Adapter fetches the current availability for one center.
//
// Implementations must classify every failure into an Outcome instead of
// returning an error. They should honour ctx, but callers enforce their own
// deadline regardless.
type Adapter interface {
	Fetch(ctx context.Context, center models.Center) Outcome
}

// Func adapts a function into an Adapter.
type Func func(ctx context.Context, center models.Center) Outcome

// Fetch implements Adapter.
func (f Func) Fetch(ctx context.Context, center models.Center) Outcome {
	return f(ctx, center)
}

// Kind classifies an Outcome. The zero Kind is not valid; consumers treat it
// as a temporary failure.
type Kind int

const (
	KindSuccess   Kind = iota + 1 // slot result replaces the previous one
	KindTemporary                 // keep previous data, retry with backoff
	KindPermanent                 // keep previous data, mark failed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTemporary:
		return "temporary"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one adapter call.
// Slot is set only for KindSuccess; Err only for failures.
type Outcome struct {
	Kind Kind
	Slot models.SlotResult
	Err  *FetchError
}

// Success wraps a slot result.
func Success(slot models.SlotResult) Outcome {
	return Outcome{Kind: KindSuccess, Slot: slot}
}

// Temporary wraps a retryable failure.
func Temporary(err *FetchError) Outcome {
	return Outcome{Kind: KindTemporary, Err: err}
}

// Permanent wraps a failure that will not clear without outside action.
func Permanent(err *FetchError) Outcome {
	return Outcome{Kind: KindPermanent, Err: err}
}

// Failure builds the Outcome whose kind matches err's code.
func Failure(err *FetchError) Outcome {
	if err.Permanent() {
		return Permanent(err)
	}
	return Temporary(err)
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Label returns the outcome kind, or the error code for failures.
// Used as a metrics label and in trace output.
func (o Outcome) Label() string {
	if o.Kind == KindSuccess || o.Err == nil {
		return o.Kind.String()
	}
	return o.Err.Code
}
