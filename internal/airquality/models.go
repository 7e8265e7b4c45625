// Package airquality models AQI readings and their EPA health categories.
package airquality

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Provider errors.
var (
	ErrUnknownCity         = errors.New("unknown city")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
)

// UnavailableMarker is how the feed and our logs spell a missing reading.
const UnavailableMarker = "-"

// Reading is the outcome of one AQI lookup: either a numeric index or the
// feed's explicit "no data" signal. The zero value is Unavailable.
type Reading struct {
	value     int
	available bool
}

// Numeric returns a Reading that carries an AQI value.
func Numeric(aqi int) Reading {
	return Reading{value: aqi, available: true}
}

// Unavailable returns the Reading used when the feed has no data for a city.
func Unavailable() Reading {
	return Reading{}
}

// Value returns the AQI value and whether one is present.
func (r Reading) Value() (int, bool) {
	return r.value, r.available
}

// Available reports whether the reading carries a number.
func (r Reading) Available() bool {
	return r.available
}

// String returns the numeric value, or UnavailableMarker.
func (r Reading) String() string {
	if !r.available {
		return UnavailableMarker
	}
	return strconv.Itoa(r.value)
}

// Category is the qualitative health-risk label derived from a Reading.
type Category string

const (
	CategoryGood                        Category = "good"
	CategoryModerate                    Category = "moderate"
	CategoryUnhealthyForSensitiveGroups Category = "unhealthy for sensitive groups"
	CategoryUnhealthy                   Category = "unhealthy"
	CategoryVeryUnhealthy               Category = "very unhealthy"
	CategoryHazardous                   Category = "hazardous"
	CategoryInvalid                     Category = "invalid"
	CategoryNoData                      Category = "no data"
)

// Label returns the text shown to recipients.
func (c Category) Label() string {
	return string(c)
}

// Provider fetches the current AQI reading for a city.
type Provider interface {
	Fetch(ctx context.Context, city string) (Reading, error)
}

// UpstreamError reports that the feed could not produce a reading for a
// city. It never carries the request URL, which includes the API token.
type UpstreamError struct {
	City   string
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("air quality feed for %q: %s: %v", e.City, e.Reason, e.Err)
	}
	return fmt.Sprintf("air quality feed for %q: %s", e.City, e.Reason)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
