package rules

import (
	"errors"
	"fmt"
)

// ErrNotRule is returned for lines that do not start with "allow ".
// Rule sources commonly hold such lines; it is not a failure.
var ErrNotRule = errors.New("rules: not an allow rule")

// ErrRejected is wrapped by every recoverable rejection. A rejected line
// produces no rule and the loader moves on to the next row.
var ErrRejected = errors.New("rules: rule rejected")

var (
	// ErrConflict is returned when a rule names both a host and an ipv4 target.
	ErrConflict = fmt.Errorf("%w: host and ipv4 are mutually exclusive", ErrRejected)

	// ErrNoTarget is returned when a rule names neither a host nor an ipv4 target.
	ErrNoTarget = fmt.Errorf("%w: no host or ipv4 target", ErrRejected)
)

// ErrDuplicateField is wrapped by InvariantError. Rule text is produced by
// a machine, so a repeated field means the producer is broken.
var ErrDuplicateField = errors.New("rules: duplicate field")

// InvariantError reports a field that appeared more than once in one rule.
type InvariantError struct {
	Field Field
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("rules: duplicate field %q in constraint set", string(e.Field))
}

func (e *InvariantError) Unwrap() error {
	return ErrDuplicateField
}
