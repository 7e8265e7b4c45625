// Package batch runs one notification pass over a recipient list.
package batch

import (
	"errors"
	"fmt"

	"github.com/breatheroute/aqibot/internal/airquality"
	"github.com/breatheroute/aqibot/internal/config"
	"github.com/breatheroute/aqibot/internal/mailer"
	"github.com/breatheroute/aqibot/internal/recipient"
)

// ErrRender wraps template execution failures.
var ErrRender = errors.New("render notification")

// Error kinds reported by ErrorKind.
const (
	KindUpstream = "upstream"
	KindDelivery = "delivery"
	KindInput    = "input"
	KindConfig   = "config"
	KindRender   = "render"
	KindUnknown  = "unknown"
)

// RecipientError is a failure to notify one recipient. Email is redacted.
type RecipientError struct {
	Row   int
	Name  string
	Email string
	City  string
	Err   error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %s (row %d, %s): %v", e.Email, e.Row, e.City, e.Err)
}

func (e *RecipientError) Unwrap() error {
	return e.Err
}

// ErrorKind names the category of err for logs and operator output.
func ErrorKind(err error) string {
	var (
		upstreamErr *airquality.UpstreamError
		deliveryErr *mailer.DeliveryError
		inputErr    *recipient.InputError
		configErr   *config.ConfigError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &upstreamErr):
		return KindUpstream
	case errors.As(err, &deliveryErr):
		return KindDelivery
	case errors.As(err, &inputErr):
		return KindInput
	case errors.As(err, &configErr):
		return KindConfig
	case errors.Is(err, ErrRender):
		return KindRender
	default:
		return KindUnknown
	}
}
