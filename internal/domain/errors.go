package domain

import "errors"

var (
	// ErrCacheMiss signals that a cache tier has no live entry for the lookup.
	ErrCacheMiss = errors.New("cache miss")
	// ErrInvalidInput signals query text that fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnparseableInput signals query text with no extractable location and intent.
	ErrUnparseableInput = errors.New("unparseable input")
	// ErrEmbeddingUnavailable signals that no embedding could be produced for a text.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrUpstream signals a failed request-critical upstream call (query parser).
	ErrUpstream = errors.New("upstream unavailable")
	// ErrSourceFailed signals a content source that failed, timed out or was short-circuited.
	ErrSourceFailed = errors.New("content source failed")
	// ErrSourceSkipped signals a content source that is not configured for this deployment.
	ErrSourceSkipped = errors.New("content source skipped")
)
