package source

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is a failure to obtain a payload from a named source: a transport
// failure, a non-success HTTP status, or an undecodable response.
type Error struct {
	Source string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request could succeed. Client
// errors other than 408 and 429 are final.
func (e *Error) Retryable() bool {
	return retryableStatus(e.Status)
}

func retryableStatus(code int) bool {
	if code == 0 || code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// StatusError is returned by transports for non-2xx responses.
type StatusError struct {
	Code int
	// RetryAfter is the raw Retry-After header, if any.
	RetryAfter string
}

func (e *StatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// Delay interprets RetryAfter, given either as delta seconds or as an HTTP
// date, relative to now.
func (e *StatusError) Delay(now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(e.RetryAfter)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return at.Sub(now), true
}
