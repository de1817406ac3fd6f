package fetcher

import "errors"

var (
	// ErrInvalidURL is returned when a URL has a bad scheme, no host or does not parse.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrPrivateIP is returned when DenyPrivateIPs is set and the host resolves to a private address.
	ErrPrivateIP = errors.New("URL resolves to private IP")

	// ErrTooManyRedirects is returned when a response redirects more than MaxRedirects times.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrRetriesExhausted is returned when every attempt failed with a retryable
	// status or a network error. It wraps the last attempt's error.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrBodyTooLarge is returned by FetchJSON when the body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("response body too large")
)
