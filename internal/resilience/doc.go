// Package resilience groups the fault tolerance helpers used by outbound
// HTTP calls and the networked backends.
//
// Subpackages:
//   - retry: exponential backoff, Retry-After parsing, retryable error classification
//   - circuitbreaker: gobreaker wrappers for the state backend and the remote cache tier
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.StateBackendConfig("state-redis"))
//	_, err := cb.Execute(func() (interface{}, error) {
//	    return nil, client.Set(ctx, key, payload, 0).Err()
//	})
//
//	err := retry.WithBackoff(ctx, retry.BackendConnectConfig(), func() error {
//	    return client.Ping(ctx).Err()
//	})
package resilience
