// Package errors provides the structured errors used throughout contentcache.
//
// Every failure the cache can observe falls into one of a few groups, and the
// group decides what the engine does with it:
//
//   - Transient infrastructure failures (CodeStorage, CodeNetwork, CodeTimeout)
//     are retryable. Retry loops consult IsRetryable; once the
//     retry budget is spent the engine degrades to an empty or skipped result.
//   - A success status carrying the wrong content type (CodeUnsupportedContent)
//     is treated as a malformed response and is retryable as well.
//   - Resource rejections (CodeRejected, CodeTooLarge) are permanent and are
//     never retried.
//   - Corrupted stored metadata (CodeCorrupted) is permanent; the affected
//     entry becomes eligible for removal.
//   - Caller contract violations (CodeInvalidInput, CodeInvalidConfig,
//     CodeClosed) are permanent and are returned to the caller immediately.
//
// # Creating and wrapping
//
//	err := errors.New(errors.CodeInvalidInput, "identifier is required")
//
//	data, err := table.Get(ctx, key)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeStorage, "failed to read content")
//	}
//
// Wrapping keeps the classification of the nearest cache error in the chain,
// so a permanent rejection stays permanent no matter how many layers wrap it.
//
// # Context
//
// Debugging metadata can be attached without changing the message:
//
//	err = errors.WithContext(err, "key", key)
//
// # Compatibility
//
// Errors created here work with the standard library's errors.Is, errors.As
// and errors.Unwrap. Is and As are re-exported for convenience.
package errors
