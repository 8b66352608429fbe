package errors

// Code identifies a specific failure condition.
// Codes are strings so they read well in logs and JSON output.
type Code string

const (
	// Caller errors.

	// CodeInvalidInput indicates an argument was missing or malformed.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInvalidConfig indicates the cache configuration is unusable.
	CodeInvalidConfig Code = "INVALID_CONFIGURATION"

	// CodeClosed indicates an operation was attempted on a closed engine or table.
	CodeClosed Code = "CLOSED"

	// Lookup errors.

	// CodeNotFound indicates the requested entry does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// Infrastructure errors.

	// CodeStorage indicates a durable table operation failed.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeNetwork indicates a network fetch failed.
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout Code = "TIMEOUT"

	// Resource rejections.

	// CodeRejected indicates the remote refused the resource (non-success status).
	CodeRejected Code = "REJECTED"

	// CodeUnsupportedContent indicates the response carried an unexpected content type.
	CodeUnsupportedContent Code = "UNSUPPORTED_CONTENT"

	// CodeTooLarge indicates a resource exceeds the configured item size ceiling.
	CodeTooLarge Code = "TOO_LARGE"

	// Data errors.

	// CodeCorrupted indicates stored data or metadata could not be decoded or verified.
	CodeCorrupted Code = "CORRUPTED"

	// System errors.

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL_ERROR"

	// CodeUnknown is used for errors that carry no code.
	CodeUnknown Code = "UNKNOWN"
)
