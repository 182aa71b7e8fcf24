package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Class splits failures by whether re-attempting the same request could
// plausibly succeed.
type Class string

const (
	// ClassTransient marks failures worth retrying: 429, 5xx, and anything
	// network-shaped. Ambiguous errors default here; a few wasted retries
	// beat failing fast on a blip.
	ClassTransient Class = "transient"
	// ClassFatal marks failures retrying cannot help: the request itself is
	// malformed or the resource does not exist.
	ClassFatal Class = "fatal"
)

// ErrUnavailable tags a terminal transient failure for which no cached value
// and no fallback dataset exist.
var ErrUnavailable = errors.New("upstream unavailable")

// Error is a classified upstream failure. It travels from the attempt through
// the retry executor to the gateway, picking up the attempt count on the way.
type Error struct {
	Service     string
	Class       Class
	Status      int
	RateLimited bool
	RetryAfter  time.Duration
	Attempts    int
	Err         error
}

func (e *Error) Error() string {
	detail := ""
	if e.Err != nil {
		detail = ": " + e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream: %s failure (status %d)%s", e.Service, e.Class, e.Status, detail)
	}
	return fmt.Sprintf("%s upstream: %s failure%s", e.Service, e.Class, detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth another attempt.
func (e *Error) Transient() bool {
	return e.Class == ClassTransient
}

// StatusError classifies an HTTP response status. 429 and 5xx are transient
// (429 additionally flagged rate-limited so the executor picks the steeper
// schedule and honors Retry-After); every other 4xx is fatal.
func StatusError(service string, status int, header http.Header, body string) *Error {
	e := &Error{
		Service: service,
		Status:  status,
		Err:     fmt.Errorf("%s %s", http.StatusText(status), body),
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.Class = ClassTransient
		e.RateLimited = true
		e.RetryAfter = parseRetryAfter(header)
	case status >= 500:
		e.Class = ClassTransient
	default:
		e.Class = ClassFatal
	}
	return e
}

// NetworkError classifies a transport-level failure (timeout, connection
// reset, DNS). Always transient.
func NetworkError(service string, err error) *Error {
	return &Error{Service: service, Class: ClassTransient, Err: err}
}

// FatalError builds a fatal classification for requests the gateway rejects
// before or after the wire call (malformed parameters, unusable response shape).
func FatalError(service string, err error) *Error {
	return &Error{Service: service, Class: ClassFatal, Err: err}
}

// AsError extracts the classified error, wrapping unclassified ones as
// transient on the way out so every failure leaving this package has a class.
func AsError(service string, err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return NetworkError(service, err)
}

// IsTransient reports whether err carries a transient classification.
// Unclassified errors count as transient.
func IsTransient(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return true
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
