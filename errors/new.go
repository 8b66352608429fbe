package errors

import (
	stderrors "errors"
	"fmt"
)

// New creates an Error with the default classification for code.
func New(code Code, message string) Error {
	return &cacheError{
		code:           code,
		classification: classify(code),
		message:        message,
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. If err already carries a cache
// error, its classification is kept; otherwise the default for code is used.
// Wrap returns nil if err is nil.
func Wrap(err error, code Code, message string) Error {
	if err == nil {
		return nil
	}

	classification := classify(code)
	var inner Error
	if stderrors.As(err, &inner) {
		classification = inner.Classification()
	}

	return &cacheError{
		code:           code,
		classification: classification,
		message:        message,
		cause:          err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithContext returns a copy of err with key set to value in its context.
// Plain errors are converted with CodeUnknown. Returns nil if err is nil.
func WithContext(err error, key string, value any) Error {
	if err == nil {
		return nil
	}
	base := asCacheError(err)
	ctx := copyContext(base.context)
	if ctx == nil {
		ctx = make(map[string]any, 1)
	}
	ctx[key] = value

	out := *base
	out.context = ctx
	return &out
}

// WithClassification returns a copy of err with its classification replaced.
// Plain errors are converted with CodeUnknown. Returns nil if err is nil.
func WithClassification(err error, classification Classification) Error {
	if err == nil {
		return nil
	}
	base := asCacheError(err)
	out := *base
	out.context = copyContext(base.context)
	out.classification = classification
	return &out
}

// asCacheError returns the outermost cache error in err's chain, or converts
// a plain error into one that wraps it.
func asCacheError(err error) *cacheError {
	var ce *cacheError
	if stderrors.As(err, &ce) && ce == err {
		return ce
	}
	if stderrors.As(err, &ce) {
		// err wraps a cache error under a foreign wrapper; keep err as the cause
		// so the foreign message is not lost.
		return &cacheError{
			code:           ce.code,
			classification: ce.classification,
			message:        err.Error(),
			context:        ce.context,
			cause:          err,
		}
	}
	return &cacheError{
		code:           CodeUnknown,
		classification: ClassificationPermanent,
		message:        err.Error(),
		cause:          err,
	}
}
