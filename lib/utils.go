package lib

import (
	"context"
	"errors"
	"net"
)

// SeqIncrement returns the id after seq, wrapping to 0 after maxSeq.
func SeqIncrement(seq, maxSeq uint32) uint32 {
	if seq >= maxSeq {
		return 0
	}
	return seq + 1
}

type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

// contextError turns an expired deadline into a *TimeoutError so callers can
// check it the way they check net.Error.
func contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{msg: op + ": deadline exceeded"}
	}
	return ctx.Err()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sameAddr compares two datagram addresses by their string form.
func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// notify wakes a goroutine waiting on a one-slot signal channel without blocking.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
