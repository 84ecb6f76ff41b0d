package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable reports a transport failure, a non-success status
	// or a body that is not JSON.
	ErrUpstreamUnavailable = errors.New("upstream maproom unavailable")

	// ErrAuthentication reports missing or rejected maproom credentials.
	ErrAuthentication = errors.New("maproom authentication failed")

	// ErrDataShape reports well-formed JSON that lacks the expected fields.
	ErrDataShape = errors.New("unexpected maproom response shape")

	// ErrInvalidLevel reports an admin level the country does not configure.
	ErrInvalidLevel = errors.New("admin level not configured for country")

	// ErrUnknownCountry reports a country id missing from the configuration.
	ErrUnknownCountry = errors.New("unknown country")
)

// FetchError decorates a data-access failure with the query that produced it.
type FetchError struct {
	Country string
	Level   int
	Op      string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s (admin level %d): %v", e.Op, e.Country, e.Level, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorKind classifies err for metrics labels and user-facing messages.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrDataShape):
		return "data_shape"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidLevel):
		return "invalid_level"
	case errors.Is(err, ErrUnknownCountry):
		return "unknown_country"
	default:
		return "internal"
	}
}
