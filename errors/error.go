package errors

import "fmt"

// Error is the structured error returned by contentcache packages.
type Error interface {
	error

	// Code identifies the failure.
	Code() Code

	// Classification reports whether the failure is retryable.
	Classification() Classification

	// Message returns the message without the wrapped cause.
	Message() string

	// Context returns a copy of the attached metadata, or nil.
	Context() map[string]any

	// Unwrap returns the wrapped cause, or nil.
	Unwrap() error
}

// cacheError is the only implementation of Error. Values are never mutated
// after construction; every helper returns a new value.
type cacheError struct {
	code           Code
	classification Classification
	message        string
	context        map[string]any
	cause          error
}

// Error formats the error as "[CODE] message" with ": cause" appended when wrapped.
func (e *cacheError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *cacheError) Code() Code                     { return e.code }
func (e *cacheError) Classification() Classification { return e.classification }
func (e *cacheError) Message() string                { return e.message }
func (e *cacheError) Unwrap() error                  { return e.cause }

func (e *cacheError) Context() map[string]any {
	return copyContext(e.context)
}

func copyContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
