package errors

// Classification tells retry loops whether an error is worth another attempt.
type Classification string

const (
	// ClassificationRetryable marks failures that may succeed if attempted again.
	ClassificationRetryable Classification = "RETRYABLE"

	// ClassificationPermanent marks failures that will fail the same way again.
	ClassificationPermanent Classification = "PERMANENT"
)

// IsRetryable reports whether c is ClassificationRetryable.
func (c Classification) IsRetryable() bool {
	return c == ClassificationRetryable
}

var defaultClassifications = map[Code]Classification{
	CodeStorage: ClassificationRetryable,
	CodeNetwork: ClassificationRetryable,
	CodeTimeout: ClassificationRetryable,

	// An accepted status with the wrong content type is treated as a
	// malformed response and retried, unlike an explicit rejection.
	CodeUnsupportedContent: ClassificationRetryable,

	CodeInvalidInput:  ClassificationPermanent,
	CodeInvalidConfig: ClassificationPermanent,
	CodeClosed:        ClassificationPermanent,
	CodeNotFound:      ClassificationPermanent,
	CodeRejected:      ClassificationPermanent,
	CodeTooLarge:      ClassificationPermanent,
	CodeCorrupted:     ClassificationPermanent,
	CodeInternal:      ClassificationPermanent,
	CodeUnknown:       ClassificationPermanent,
}

// classify returns the default classification for code.
// Unknown codes are permanent so that nothing is retried by accident.
func classify(code Code) Classification {
	if c, ok := defaultClassifications[code]; ok {
		return c
	}
	return ClassificationPermanent
}
