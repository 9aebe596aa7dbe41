// Package httputil provides HTTP helpers for the remote layout gateway.
//
// # Retry
//
// [Retry] re-runs an operation with exponential backoff while it fails with
// a transient error: a network failure, a timeout or a 5xx response. Errors
// are marked transient either by wrapping them in [RetryableError] or by
// carrying the transport code from pkg/errors.
//
//	err := httputil.Retry(ctx, 3, 200*time.Millisecond, func() error {
//	    return doRequest(ctx)
//	})
//
// Retries are bounded. A persist that still fails after the last attempt is
// reported to the caller, which decides whether the user retries.
//
// # Client
//
// [NewClient] returns an *http.Client with a request timeout and a
// User-Agent carrying the build version.
package httputil
