package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/tle-fetcher/tle"
)

// SGP4Validator runs the pure checks and then requires that the element set
// initialises and propagates under SGP4 at its own epoch. Alpha-5 records
// pass with the pure checks only.
type SGP4Validator struct{}

// Validate implements tle.Validator.
func (SGP4Validator) Validate(text, expectedID, source string) (tle.Record, error) {
	rec, err := tle.Parse(text, expectedID, source)
	if err != nil {
		return tle.Record{}, err
	}
	if tle.IsAlpha5(tle.CatalogField(rec.Line1)) {
		return rec, nil
	}
	p, err := NewPropagator(rec)
	if err != nil {
		return tle.Record{}, fmt.Errorf("%w: %v", tle.ErrMalformedPayload, err)
	}
	if _, err := p.At(rec.Epoch); err != nil {
		return tle.Record{}, fmt.Errorf("%w: %v", tle.ErrMalformedPayload, err)
	}
	return rec, nil
}

// SelectValidator returns the validator backend by name. The empty name
// selects the pure implementation.
func SelectValidator(name string) (tle.Validator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pure":
		return tle.Pure{}, nil
	case "sgp4":
		return SGP4Validator{}, nil
	default:
		return nil, fmt.Errorf("unknown validator %q (want pure or sgp4)", name)
	}
}
