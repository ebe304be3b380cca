// Package retry implements exponential backoff with jitter for connect and
// reconnect paths.
//
// The delay for attempt n is InitialDelay × Multiplier^(n-1), capped at
// MaxDelay, with optional jitter of up to 25%. Backoff sleeps honor context
// cancellation so a stopping receiver never waits out a full delay.
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts:  3,
//	    InitialDelay: 100 * time.Millisecond,
//	    OnAttempt:    func(n int, err error) { counters.Reconnects.Add(1) },
//	}, func() error { return provider.Open(desc) })
//
// Wrap errors with NonRetryable to abort immediately (e.g. an invalid
// source descriptor will not become valid by retrying).
package retry
