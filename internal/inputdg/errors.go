package inputdg

import "github.com/pkg/errors"

// ErrOversized is returned by Encode when a payload exceeds its field's
// representable length. This is a programmer bug, not an input error: the
// caller is expected to have validated its own sizes before calling Encode.
var ErrOversized = errors.New("inputdg: payload exceeds maximum representable size")

// ErrMalformedDatagram wraps every reason Decode can refuse a buffer.
var ErrMalformedDatagram = errors.New("inputdg: malformed datagram")

// reject wraps reason under ErrMalformedDatagram so callers can test with
// errors.Is(err, ErrMalformedDatagram) without caring about the specifics.
func reject(reason string) error {
	return errors.Wrap(ErrMalformedDatagram, reason)
}
