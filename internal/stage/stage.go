// Package stage defines the uniform contract shared by every pipeline stage:
// a stage never returns a Go error for expected failures, it returns a Result
// tagged with a Kind so callers can branch without inspecting payloads.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Kind classifies why a stage failed.
type Kind string

const (
	KindCancelled           Kind = "cancelled"
	KindUpstreamUnavailable Kind = "upstream-unavailable"
	KindMalformedResponse   Kind = "malformed-response"
	KindConfigMissing       Kind = "config-missing"
	KindInternal            Kind = "internal"
)

// Error is the failure half of a Result.
type Error struct {
	Kind    Kind
	Message string
	// Raw holds the upstream text that failed validation, if any.
	Raw string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is either a value or an Error.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail builds a failed result.
func Fail[T any](kind Kind, format string, args ...any) Result[T] {
	return Result[T]{Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// FailRaw builds a failed result that keeps the offending upstream text.
func FailRaw[T any](kind Kind, raw string, format string, args ...any) Result[T] {
	r := Fail[T](kind, format, args...)
	r.Err.Raw = raw
	return r
}

// Cancelled builds a cancelled result.
func Cancelled[T any]() Result[T] {
	return Fail[T](KindCancelled, "operation cancelled")
}

// Propagate converts a failed result of one type into another.
func Propagate[T, U any](r Result[U]) Result[T] {
	return Result[T]{Err: r.Err}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// IsCancelled reports whether the result failed because of cancellation.
func (r Result[T]) IsCancelled() bool {
	return r.Err != nil && r.Err.Kind == KindCancelled
}

// Unwrap returns the value and the error as a Go error (nil on success).
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}

// FromError classifies err. Context cancellation always wins over the
// supplied kind, so a cancelled HTTP call is never reported as an outage.
func FromError[T any](ctx context.Context, err error, kind Kind, what string) Result[T] {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled[T]()
	}
	return Fail[T](kind, "%s: %v", what, err)
}

// Stage is one unit of the pipeline.
type Stage[In, Out any] interface {
	Name() string
	Description() string
	Run(ctx context.Context, in In) Result[Out]
}

// Invoke runs s with the contract checks applied: a done context returns
// cancelled without calling the stage, and a panic inside the stage is
// converted to an internal failure.
func Invoke[In, Out any](ctx context.Context, s Stage[In, Out], in In) (res Result[Out]) {
	if ctx.Err() != nil {
		return Cancelled[Out]()
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("stage", s.Name()).Interface("panic", p).Msg("stage panicked")
			res = Fail[Out](KindInternal, "stage %s panicked: %v", s.Name(), p)
		}
	}()
	return s.Run(ctx, in)
}
