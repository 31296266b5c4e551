// Package archive queries the facility's PV archiver for historical
// values, mostly so operators can ask "where was this motor
// yesterday" without leaving the session.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	connectTimeout = 3 * time.Second
	maxRetryTime   = 10 * time.Second
)

// Point is one archived sample.
type Point struct {
	Time  time.Time
	Value float64
}

// Client queries one archiver appliance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the retrying default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// New builds an archiver client for the appliance at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse archiver URL: %w", err)
	}
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &retryRoundTripper{
				base: &http.Transport{
					DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
				},
				newBackoff: func() backoff.BackOff {
					return backoff.NewExponentialBackOff(
						backoff.WithInitialInterval(100*time.Millisecond),
						backoff.WithMaxInterval(1*time.Second),
						backoff.WithMaxElapsedTime(maxRetryTime),
					)
				},
			},
		}
	}
	return c, nil
}

// appliance response: one element per PV, samples as epoch seconds
// plus value.
type applianceData struct {
	Data []struct {
		Secs int64   `json:"secs"`
		Val  float64 `json:"val"`
	} `json:"data"`
}

// History returns the archived samples for pv between from and to.
func (c *Client) History(ctx context.Context, pv string, from, to time.Time) ([]Point, error) {
	endpoint := c.baseURL.JoinPath("retrieval", "data", "getData.json")
	q := endpoint.Query()
	q.Set("pv", pv)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build archiver request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query archiver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query archiver: %s", resp.Status)
	}

	var payload []applianceData
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode archiver response: %w", err)
	}
	var out []Point
	for _, pvData := range payload {
		for _, sample := range pvData.Data {
			out = append(out, Point{Time: time.Unix(sample.Secs, 0).UTC(), Value: sample.Val})
		}
	}
	return out, nil
}

// Latest returns the most recent sample inside the lookback window.
func (c *Client) Latest(ctx context.Context, pv string, lookback time.Duration) (Point, error) {
	now := time.Now()
	points, err := c.History(ctx, pv, now.Add(-lookback), now)
	if err != nil {
		return Point{}, err
	}
	if len(points) == 0 {
		return Point{}, fmt.Errorf("no archived data for %s in the last %s", pv, lookback)
	}
	return points[len(points)-1], nil
}

// Describe renders a short history summary for the shell.
func Describe(pv string, points []Point) string {
	if len(points) == 0 {
		return pv + ": no archived samples"
	}
	first, last := points[0], points[len(points)-1]
	return pv + ": " + strconv.Itoa(len(points)) + " samples, " +
		first.Time.Format(time.RFC3339) + " to " + last.Time.Format(time.RFC3339) +
		", last value " + strconv.FormatFloat(last.Value, 'g', -1, 64)
}

// retryRoundTripper retries requests on transient network errors.
type retryRoundTripper struct {
	base       http.RoundTripper
	newBackoff func() backoff.BackOff
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// The transport consumes req.Body on each attempt, so retries
	// need a fresh copy from GetBody.
	first := true
	attempt := func() (*http.Response, error) {
		if !first && req.Body != nil {
			if req.GetBody == nil {
				return nil, backoff.Permanent(errors.New("request body is not replayable"))
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Body = body
		}
		first = false
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				slog.Debug("Retrying archiver request due to network error.", "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}
