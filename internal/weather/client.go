// Package weather fetches current humidity and forecast precipitation for a
// plant's coordinates from the Open-Meteo forecast API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lox/planti/internal/httputil"
	"github.com/lox/planti/internal/metrics"
	"github.com/lox/planti/internal/models"
)

const (
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"
	forecastDays   = 7
)

// ErrUnavailable is returned when the upstream service cannot be reached or
// its payload is unusable. Callers must not substitute a default snapshot.
var ErrUnavailable = errors.New("weather unavailable")

type Client struct {
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithBreakerSettings overrides the circuit breaker settings. A nil
// IsSuccessful defaults to upstreamHealthy.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(cl *Client) {
		if st.IsSuccessful == nil {
			st.IsSuccessful = upstreamHealthy
		}
		cl.circuit = gobreaker.NewCircuitBreaker(st)
	}
}

// WithoutBreaker sends every call upstream. The batch job uses it so that
// one plant's failure never short-circuits lookups for the plants after it.
func WithoutBreaker() Option {
	return func(cl *Client) { cl.circuit = nil }
}

// statusError is a non-2xx upstream response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// upstreamHealthy reports whether err leaves the breaker's failure count
// alone. Only transport errors and 5xx responses count against the upstream;
// a 4xx is about the request (e.g. coordinates), and cancellation is ours.
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.code < 500
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		client:  httputil.NewClient(0),
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: upstreamHealthy,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type forecastResponse struct {
	Current *struct {
		RelativeHumidity *float64 `json:"relative_humidity_2m"`
		Precipitation    *float64 `json:"precipitation"`
	} `json:"current"`
	Daily *struct {
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// Fetch makes a single request for the snapshot at the given coordinates.
func (c *Client) Fetch(ctx context.Context, latitude, longitude float64) (models.WeatherSnapshot, error) {
	body, err := c.get(ctx, c.requestURL(latitude, longitude))
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	snap, err := parseForecast(body)
	if err != nil {
		metrics.WeatherAPICallsTotal.WithLabelValues("malformed").Inc()
		return models.WeatherSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.WeatherAPICallsTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

func (c *Client) requestURL(latitude, longitude float64) string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	values.Set("current", "relative_humidity_2m,precipitation")
	values.Set("daily", "precipitation_sum")
	values.Set("forecast_days", strconv.Itoa(forecastDays))
	return c.baseURL + "?" + values.Encode()
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.WeatherAPILatency.Observe(time.Since(start).Seconds()) }()

	var (
		body []byte
		err  error
	)
	if c.circuit == nil {
		body, err = c.do(ctx, u)
	} else {
		var result interface{}
		result, err = c.circuit.Execute(func() (interface{}, error) {
			b, err := c.do(ctx, u)
			if err != nil {
				return nil, err
			}
			return b, nil
		})
		if err == nil {
			body = result.([]byte)
		}
	}
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
		}
		metrics.WeatherAPICallsTotal.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("%w: fetch forecast: %v", ErrUnavailable, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(b)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func parseForecast(body []byte) (models.WeatherSnapshot, error) {
	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("unmarshal: %w", err)
	}
	if data.Current == nil || data.Current.RelativeHumidity == nil || data.Current.Precipitation == nil {
		return models.WeatherSnapshot{}, errors.New("missing current humidity or precipitation")
	}
	if data.Daily == nil || data.Daily.PrecipitationSum == nil {
		return models.WeatherSnapshot{}, errors.New("missing daily precipitation_sum")
	}

	var weekly float64
	for _, v := range data.Daily.PrecipitationSum {
		if v != nil {
			weekly += *v
		}
	}

	return models.WeatherSnapshot{
		Humidity:            *data.Current.RelativeHumidity,
		DailyPrecipitation:  *data.Current.Precipitation,
		WeeklyPrecipitation: weekly,
	}, nil
}
