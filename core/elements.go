package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/tle-fetcher/tle"
)

const minElementLineLen = 69

// checkNumericFields verifies that every field go-satellite parses out of the
// element lines is numeric. The library aborts the process on a parse
// failure, so lines must be screened before they reach TLEToSat.
func checkNumericFields(line1, line2 string) error {
	if len(line1) < minElementLineLen || len(line2) < minElementLineLen {
		return fmt.Errorf("element lines shorter than %d columns", minElementLineLen)
	}
	ints := map[string]string{
		"catalog number": strings.TrimSpace(line1[2:7]),
		"epoch year":     line1[18:20],
	}
	for name, v := range ints {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("%s %q is not an integer", name, v)
		}
	}
	floats := []struct{ name, v string }{
		{"epoch day", line1[20:32]},
		{"mean motion dot", strings.Replace(line1[33:43], " ", "", 2)},
		{"mean motion ddot", strings.Replace(line1[44:45]+"."+line1[45:50]+"e"+line1[50:52], " ", "", 2)},
		{"bstar", strings.Replace(line1[53:54]+"."+line1[54:59]+"e"+line1[59:61], " ", "", 2)},
		{"inclination", strings.Replace(line2[8:16], " ", "", 2)},
		{"raan", strings.Replace(line2[17:25], " ", "", 2)},
		{"eccentricity", "." + line2[26:33]},
		{"argument of perigee", strings.Replace(line2[34:42], " ", "", 2)},
		{"mean anomaly", strings.Replace(line2[43:51], " ", "", 2)},
		{"mean motion", strings.Replace(line2[52:63], " ", "", 2)},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(f.v, 64); err != nil {
			return fmt.Errorf("%s %q is not a number", f.name, f.v)
		}
	}
	return nil
}

// ErrAlpha5Unsupported is returned when an element set uses an alphanumeric
// catalog number, which the SGP4 backend cannot ingest.
var ErrAlpha5Unsupported = errors.New("alpha-5 catalog numbers are not supported by the SGP4 backend")

func sgp4Ready(rec tle.Record) error {
	if tle.IsAlpha5(tle.CatalogField(rec.Line1)) {
		return ErrAlpha5Unsupported
	}
	return checkNumericFields(rec.Line1, rec.Line2)
}
