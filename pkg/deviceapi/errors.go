package deviceapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrAuthRejected matches any response with HTTP 403.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrClockSkew marks an authentication rejection that survived the
	// single clock-corrected retry.
	ErrClockSkew = errors.New("authentication rejected after clock correction")

	// ErrNetworkUnreachable wraps transport failures: timeouts, refused
	// connections, DNS errors.
	ErrNetworkUnreachable = errors.New("device unreachable")
)

// StatusError is returned for any non-2xx response from a device.
type StatusError struct {
	Address    string
	Method     string
	Path       string
	StatusCode int
	Message    string

	// ServerDate is the device's own clock as reported in its Date header.
	// Zero when the response carried no parseable Date.
	ServerDate time.Time
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s%s: status %d: %s", e.Method, e.Address, e.Path, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrAuthRejected) match 403 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthRejected && e.StatusCode == http.StatusForbidden
}

// HasServerDate reports whether the device sent a usable Date header.
func (e *StatusError) HasServerDate() bool {
	return !e.ServerDate.IsZero()
}

// IsAuthRejected reports whether err is (or wraps) a 403 from a device.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}
