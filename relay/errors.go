package relay

import "fmt"

// FrameError conveys how a session should react to a malformed or
// out-of-sequence frame, mirroring the teacher's node/p2p ReadError: the
// engine never panics or throws on bad input, it returns a typed error the
// caller can log and act on.
type FrameError struct {
	Err           error
	BanScoreDelta int
	Disconnect    bool
}

func (e *FrameError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func frameErr(delta int, disconnect bool, format string, args ...any) *FrameError {
	return &FrameError{Err: fmt.Errorf(format, args...), BanScoreDelta: delta, Disconnect: disconnect}
}

// fatal builds a disconnect-worthy FrameError. Nearly everything this
// engine rejects is fatal: the receive-path state machine has no notion of
// "drop this frame and keep going" for framing violations, unlike the
// teacher's checksum-mismatch tolerance.
func fatal(format string, args ...any) *FrameError {
	return frameErr(25, true, format, args...)
}
