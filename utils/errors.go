package utils

import (
	"github.com/pkg/errors"
)

// NewLengthMismatchError is used when a per-module slice does not match the drivetrain's module count.
func NewLengthMismatchError(what string, expected, actual int) error {
	return errors.Errorf("expected %d %s but got %d", expected, what, actual)
}
