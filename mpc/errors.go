package mpc

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrResultBufferInUse is returned when a batch asks for the result
	// buffer while an earlier batch still holds it.
	ErrResultBufferInUse = errors.New("mpc: result buffer is already taken")

	// ErrStateTooLarge is returned when a SyncState does not fit the fixed
	// record size.
	ErrStateTooLarge = errors.New("mpc: sync state too large to serialize")

	// ErrOutOfSync is returned by AssertSync when the parties disagree on
	// their protocol position or PRG state.
	ErrOutOfSync = errors.New("mpc: parties out of sync")
)

// ConfigError reports malformed inputs detected before any device or
// network work starts.
type ConfigError struct {
	Op  string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mpc: %s: %s", e.Op, e.Msg)
}

func configErrorf(op, format string, args ...interface{}) error {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// DecodeError reports a malformed wire payload.
type DecodeError struct {
	What   string
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("mpc: decoding %s at byte %d: %s", e.What, e.Offset, e.Msg)
}

func decodeErrorf(what string, offset int, format string, args ...interface{}) error {
	return &DecodeError{What: what, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// PeerError wraps a failed exchange with another party. The round that
// produced it must be abandoned.
type PeerError struct {
	Party PartyID
	Op    string
	Err   error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("mpc: %s with party %d: %v", e.Op, e.Party, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the peer failed to respond within the deadline.
func (e *PeerError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func peerError(party PartyID, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PeerError
	if errors.As(err, &pe) {
		return err
	}
	return &PeerError{Party: party, Op: op, Err: err}
}
