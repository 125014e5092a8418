// Package uuid generates and parses UUIDs for anomaly event identifiers.
// Adapted from the teacher's top-level uuid package, which wraps
// github.com/google/uuid behind a project-local type so call sites never
// import the vendor package directly.
package uuid

import "github.com/google/uuid"

// UUID is a 16 byte (128 bit) id, usable as a map key and in direct
// comparisons.
type UUID uuid.UUID

// Nil represents an invalid or empty UUID.
var Nil = UUID(uuid.Nil)

// New returns a randomly generated UUID, used to give each anomaly event a
// stable identifier an operator can reference in a bug report.
func New() UUID {
	return UUID(uuid.New())
}

// Must returns u or panics if err is not nil.
func Must(u UUID, err error) UUID {
	if err != nil {
		panic(err)
	}
	return u
}

// Parse an UUID of the forms "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" and
// "urn:uuid:xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx".
func Parse(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	return UUID(u), err
}

// String represents the UUID in the form "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx".
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Short returns the first 8 hex characters, enough to distinguish events in
// a log line without printing the full 36-character form every time.
func (u UUID) Short() string {
	s := u.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}
