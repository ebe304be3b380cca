// Package errors implements the error taxonomy for the acquisition engine.
//
// Three classes drive handling policy:
//
//   - Transient: absorbed locally and retried with backoff (pull timeouts,
//     dropped connections, unreachable discovery).
//   - Invalid: bad input that is fatal for one source or one sample only
//     (non-positive nominal rate, channel-count mismatch).
//   - Fatal: conditions that make a stream unusable (source gone); these end
//     the receive loop rather than being retried.
//
// Recoverable conditions are reflected in counters and connection state, not
// raised up the stack. Only conditions that make a stream or the whole
// manager unusable surface as explicit errors.
//
// Usage:
//
//	if err := conn.Pull(timeout); err != nil {
//	    if errors.IsFatal(err) {
//	        return errors.WrapFatal(err, "receiver", "receiveLoop", "pull")
//	    }
//	    // transient: retry
//	}
package errors
