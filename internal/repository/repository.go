// Package repository is the durable tier behind the in-memory cache. Each
// backend stores the latest CacheEntry per NORAD id and upserts on Save.
package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

// Repository is the capability the orchestrator and CLI use. Get reports
// found=false with a nil error for unknown ids.
type Repository interface {
	Get(ctx context.Context, id string) (entry model.CacheEntry, found bool, err error)
	Save(ctx context.Context, entry model.CacheEntry) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// ErrInvalidID is returned for identities that cannot be used as keys.
var ErrInvalidID = errors.New("invalid NORAD id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// reparse rebuilds a validated record from stored text so stored rows go
// through the same checks as network payloads.
func reparse(id, name, line1, line2, source string) (tle.Record, error) {
	text := line1 + "\n" + line2 + "\n"
	if name != "" {
		text = name + "\n" + text
	}
	rec, err := tle.Parse(text, id, source)
	if err != nil {
		return tle.Record{}, fmt.Errorf("stored record %s: %w", id, err)
	}
	return rec, nil
}
