package errors

import (
	stderrors "errors"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// GetCode returns the code of the outermost cache error in err's chain.
// Returns CodeUnknown if err is nil or carries no code.
func GetCode(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var ce Error
	if stderrors.As(err, &ce) {
		return ce.Code()
	}
	return CodeUnknown
}

// GetClassification returns the classification of the outermost cache error
// in err's chain. Plain errors are permanent.
func GetClassification(err error) Classification {
	if err == nil {
		return ClassificationPermanent
	}
	var ce Error
	if stderrors.As(err, &ce) {
		return ce.Classification()
	}
	return ClassificationPermanent
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	return GetClassification(err).IsRetryable()
}

// HasCode reports whether any cache error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if ce, ok := err.(Error); ok && ce.Code() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
