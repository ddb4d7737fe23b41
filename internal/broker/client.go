package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// restClient wraps an HTTP client with a circuit breaker and a
// client-side rate limiter for live broker REST calls. Transport errors
// never leak raw: callers see wrapped errors only.
type restClient struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newRESTClient(name string, timeout time.Duration, reqPerSec float64, logger zerolog.Logger) *restClient {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			logger.Warn().
				Str("broker", n).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("broker circuit breaker state change")
		},
	}
	return &restClient{
		name:    name,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), 5),
		log:     logger,
	}
}

// do executes a request through the rate limiter and circuit breaker and
// returns the response body for 2xx statuses.
func (c *restClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", c.name, err)
	}
	body, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 256))
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s: %w", c.name, req.Method, req.URL.Path, err)
	}
	return body.([]byte), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
