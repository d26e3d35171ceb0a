package efuse

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrTimeout        = errors.New("timed out waiting for eFuse controller command to complete")
	ErrSecureDownload = errors.New("secure download mode is enabled, eFuses can not be read")
	ErrUnknownField   = errors.New("unknown eFuse field")
	ErrUnknownBlock   = errors.New("unknown eFuse block")
	ErrAborted        = errors.New("burn aborted by user")
	ErrPayloadTooLong = errors.New("payload longer than the block burn unit")
	ErrBurnFailed     = errors.New("block reports new coding errors after burning")
)

// Causes carried by a ValidationError.
var (
	ErrReadOnly          = errors.New("field is read-only")
	ErrWriteProtected    = errors.New("field is write-protected")
	ErrClearBits         = errors.New("new value clears bits that are already burned")
	ErrRSReburn          = errors.New("block uses Reed-Solomon coding and already holds data")
	ErrValueRange        = errors.New("value does not fit the field")
	ErrMACFormat         = errors.New("malformed MAC address")
	ErrMulticastMAC      = errors.New("custom MAC must be a unicast MAC")
	ErrUnknownKeyPurpose = errors.New("unknown key purpose")
)

// ChipMismatchError is returned when the connected device is not the family the
// tables were written for.
type ChipMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChipMismatchError) Error() string {
	return fmt.Sprintf("expected %s chip but got %q", e.Expected, e.Actual)
}

// CrystalError is returned when programming timing is requested for a crystal
// frequency the timing constants were not computed for.
type CrystalError struct {
	Expected physic.Frequency
	Actual   physic.Frequency
}

func (e *CrystalError) Error() string {
	return fmt.Sprintf("the eFuse controller supports only xtal=%s (xtal was %s)", e.Expected, e.Actual)
}

// ValidationError rejects a field write before any state is touched.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// VerifyError reports staged bits that did not read back as set after a burn.
type VerifyError struct {
	Block   int
	Missing int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("BLOCK%d: %d bit(s) did not read back after burn", e.Block, e.Missing)
}

// IsFatal reports whether err aborts the session: wrong chip family, secure
// download mode, wrong crystal or an idle-wait timeout.
func IsFatal(err error) bool {
	var chip *ChipMismatchError
	var xtal *CrystalError
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBurnFailed) ||
		errors.Is(err, ErrSecureDownload) ||
		errors.As(err, &chip) ||
		errors.As(err, &xtal)
}
