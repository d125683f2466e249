package domain

import "fmt"

// TransientError wraps a network-level failure reaching upstream. The cycle
// stops without advancing the checkpoint and the next invocation retries
// the same page.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx response from the upstream API. Status and a
// body excerpt are kept for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// DecodeError is an unparseable upstream payload, fatal for the cycle.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode upstream response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidRecordError marks one raw item the normalizer rejected. Local and
// non-fatal: the item is counted and excluded from the write batch.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return "invalid record: " + e.Reason
}
