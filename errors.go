package forestseg

import (
	"fmt"
)

// Error is a wrapper for specific types of errors for which there is no additional information
// necessary. These errors are defined as global variables.
type Error struct{ string }

func (err Error) Error() string {
	return err.string
}

// These are the global errors that may be returned or panicked.
var (
	ErrRegisterWrongType = Error{"Type is not recognized"}
	ErrRegisterNilReturn = Error{"Function return is nil"}
	ErrNotFinalized      = Error{"Network has not been finalized"}
	ErrFinalized         = Error{"Network has already been finalized"}
)

// NilArgError documents errors resulting from certain arguments provided to a function being nil.
type NilArgError struct{ string }

func (err NilArgError) Error() string {
	return err.string + " is nil"
}

// SizeMismatchError is returned when a slice given to the Network does not have the length the
// Network expects. It is the Network-level analogue of a malformed sample.
type SizeMismatchError struct {
	What      string
	Got, Need int
}

func (err SizeMismatchError) Error() string {
	return fmt.Sprintf("Size of %s does not match (%d != %d)", err.What, err.Got, err.Need)
}
