// Package result contains a two-variant outcome type for operations whose failures
// travel as values instead of being returned alongside them.
package result

import (
	"context"
	"fmt"

	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
)

// Result is either a success carrying a value of type T
// or a failure carrying an error of type E.
// The zero value is a failure with zero error and should not be used.
type Result[T, E any] struct {
	value T
	err   E
	ok    bool
}

// Ok creates a successful Result.
func Ok[T, E any](value T) Result[T, E] {
	return Result[T, E]{value: value, ok: true}
}

// Err creates a failed Result.
func Err[T, E any](err E) Result[T, E] {
	return Result[T, E]{err: err}
}

// IsOk returns true for successful results.
func (r Result[T, E]) IsOk() bool {
	return r.ok
}

// Get returns both fields and the discriminant.
// Only one of the fields is meaningful depending on the discriminant.
func (r Result[T, E]) Get() (T, E, bool) {
	return r.value, r.err, r.ok
}

// Value returns the success value. It panics on failed results.
func (r Result[T, E]) Value() T {
	if !r.ok {
		panic(fmt.Sprintf("value of failed result: %v", r.err))
	}

	return r.value
}

// Err returns the failure error. It panics on successful results.
func (r Result[T, E]) Err() E {
	if r.ok {
		panic("error of successful result")
	}

	return r.err
}

func (r Result[T, E]) String() string {
	if r.ok {
		return fmt.Sprintf("ok(%v)", r.value)
	}

	return fmt.Sprintf("err(%v)", r.err)
}

// MapErr converts the error of a failed Result. Successful results are passed through.
func MapErr[T, E, F any](r Result[T, E], convert func(E) F) Result[T, F] {
	if r.ok {
		return Ok[T, F](r.value)
	}

	return Err[T](convert(r.err))
}

// Message replaces the error with its text.
func Message[T any](r Result[T, error]) Result[T, string] {
	return MapErr(r, func(err error) string { return err.Error() })
}

// FromRef waits for the Ref and wraps the outcome.
// Panics raised while resolving are recovered into a failure.
func FromRef[T any](ctx context.Context, ref syncf.Ref[T]) (r Result[T, error]) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r = Err[T](recoveredError(recovered))
		}
	}()

	value, err := ref.Get(ctx)
	if err != nil {
		return Err[T](err)
	}

	return Ok[T, error](value)
}

// From runs the body in the current goroutine and wraps the outcome.
func From[T any](ctx context.Context, body syncf.Resolve[T]) Result[T, error] {
	return FromRef[T](ctx, body)
}

// Async runs the body in a new goroutine.
// Use Await to join the returned Ref.
func Async[T any](ctx context.Context, body syncf.Resolve[T]) syncf.Ref[Result[T, error]] {
	return syncf.Async[Result[T, error]](ctx, func(ctx context.Context) (Result[T, error], error) {
		return From(ctx, body), nil
	})
}

// Await joins a Ref produced by Async.
// Context errors of the join itself are reported as failures.
func Await[T any](ctx context.Context, ref syncf.Ref[Result[T, error]]) Result[T, error] {
	r, err := ref.Get(ctx)
	if err != nil {
		return Err[T](err)
	}

	return r
}

func recoveredError(value any) error {
	if err, ok := value.(error); ok {
		return errors.Wrap(err, "recovered")
	}

	return errors.Errorf("recovered: %v", value)
}
