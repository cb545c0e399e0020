package tle

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every parse failure returned from this package.
var ErrValidation = errors.New("tle validation failed")

// Validation failures. Each wraps ErrValidation so callers can test either
// the specific cause or the whole class with errors.Is.
var (
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrBadPrefix        = fmt.Errorf("%w: bad line prefix", ErrValidation)
	ErrChecksum         = fmt.Errorf("%w: checksum mismatch", ErrValidation)
	ErrCatalogMismatch  = fmt.Errorf("%w: catalog number mismatch", ErrValidation)
	ErrIdentityMismatch = fmt.Errorf("%w: identity mismatch", ErrValidation)
)
