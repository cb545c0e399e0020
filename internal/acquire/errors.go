package acquire

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllSourcesFailed matches every *AllSourcesFailedError.
var ErrAllSourcesFailed = errors.New("all sources failed")

// SourceFailure is one source's reason for not delivering a record.
type SourceFailure struct {
	Source  string
	Message string
}

// AllSourcesFailedError lists, in priority order, why each configured
// source could not deliver a valid record.
type AllSourcesFailedError struct {
	NoradID  string
	Failures []SourceFailure
}

func (e *AllSourcesFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: %v: no sources configured", e.NoradID, ErrAllSourcesFailed)
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Source + ": " + f.Message
	}
	return fmt.Sprintf("%s: %v: %s", e.NoradID, ErrAllSourcesFailed, strings.Join(parts, "; "))
}

// Is reports true for ErrAllSourcesFailed.
func (e *AllSourcesFailedError) Is(target error) bool {
	return target == ErrAllSourcesFailed
}
