// Package waqi provides a client for the World Air Quality Index feed API.
package waqi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqibot/internal/airquality"
	"github.com/breatheroute/aqibot/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the WAQI API.
	DefaultBaseURL = "https://api.waqi.info"

	// ProviderName identifies this provider.
	ProviderName = "waqi"

	statusOK         = "ok"
	unknownStation   = "Unknown station"
	maxResponseBytes = 1 << 20

	// maxAQI bounds readings the feed can plausibly report.
	maxAQI = 10000
)

// ClientConfig holds configuration for the WAQI client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Token is the WAQI API token.
	Token string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a WAQI API client. It implements airquality.Provider.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

var _ airquality.Provider = (*Client)(nil)

// NewClient creates a new WAQI client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Timeout = timeout
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// API response types (from the WAQI feed endpoint).

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI json.RawMessage `json:"aqi"`
}

// Fetch retrieves the current AQI for a city. The feed's "-" placeholder
// yields airquality.Unavailable() with a nil error.
func (c *Client) Fetch(ctx context.Context, city string) (airquality.Reading, error) {
	start := time.Now()

	endpoint := fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, url.PathEscape(city), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return airquality.Reading{}, upstream(city, "create request", stripURL(err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return airquality.Reading{}, upstream(city, "request failed", stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return airquality.Reading{}, upstream(city, fmt.Sprintf("unexpected status %d", resp.StatusCode), airquality.ErrProviderUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return airquality.Reading{}, upstream(city, "read response", err)
	}

	reading, err := parseFeed(city, body)
	if err != nil {
		return airquality.Reading{}, err
	}

	c.logger.Debug().
		Str("city", city).
		Str("aqi", reading.String()).
		Dur("duration", time.Since(start)).
		Msg("fetched air quality reading")

	return reading, nil
}

// parseFeed extracts data.aqi from a feed response body.
func parseFeed(city string, body []byte) (airquality.Reading, error) {
	var result feedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return airquality.Reading{}, upstream(city, "decode response", errors.Join(airquality.ErrMalformedResponse, err))
	}

	if result.Status != statusOK {
		// Error responses carry a message string in place of the data object.
		var message string
		_ = json.Unmarshal(result.Data, &message)
		cause := airquality.ErrProviderUnavailable
		if message == unknownStation {
			cause = airquality.ErrUnknownCity
		}
		reason := fmt.Sprintf("status %q", result.Status)
		if message != "" {
			reason += ": " + message
		}
		return airquality.Reading{}, upstream(city, reason, cause)
	}

	var data feedData
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return airquality.Reading{}, upstream(city, "decode data", errors.Join(airquality.ErrMalformedResponse, err))
	}

	return toReading(city, data.AQI)
}

// toReading converts the raw aqi field into a Reading.
func toReading(city string, raw json.RawMessage) (airquality.Reading, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return airquality.Reading{}, upstream(city, "aqi field missing", airquality.ErrMalformedResponse)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return airquality.Reading{}, upstream(city, "decode aqi", errors.Join(airquality.ErrMalformedResponse, err))
		}
		if strings.TrimSpace(s) == airquality.UnavailableMarker {
			return airquality.Unavailable(), nil
		}
		return airquality.Reading{}, upstream(city, fmt.Sprintf("non-numeric aqi %q", s), airquality.ErrMalformedResponse)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return airquality.Reading{}, upstream(city, "decode aqi", errors.Join(airquality.ErrMalformedResponse, err))
	}
	if math.Abs(f) > maxAQI {
		return airquality.Reading{}, upstream(city, fmt.Sprintf("aqi %g out of range", f), airquality.ErrMalformedResponse)
	}
	return airquality.Numeric(int(math.Trunc(f))), nil
}

func upstream(city, reason string, err error) *airquality.UpstreamError {
	return &airquality.UpstreamError{City: city, Reason: reason, Err: err}
}

// stripURL drops the *url.Error wrapper so the token-bearing URL never
// reaches logs or operator output.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
