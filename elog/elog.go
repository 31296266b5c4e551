// Package elog posts entries to the facility's electronic logbook
// over its HTTP API. Requests retry on transient network errors so a
// blip between the console and the logbook service does not lose an
// entry.
package elog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	connectTimeout = 3 * time.Second
	maxRetryTime   = 10 * time.Second
)

// Stations a hutch posts to. The control room consoles write to the
// secondary station so operator chatter stays out of the primary
// experiment log.
const (
	StationPrimary   = 0
	StationSecondary = 1
)

// SelectStation picks the logbook station for this host. matchedHost
// is true when the daq platform map named this hostname explicitly
// rather than falling back to its default entry.
func SelectStation(matchedHost bool) int {
	if matchedHost {
		return StationSecondary
	}
	return StationPrimary
}

// Entry is one logbook post.
type Entry struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags,omitempty"`
	Experiment string   `json:"experiment,omitempty"`
	Station    int      `json:"station"`
}

// Client posts entries for one hutch.
type Client struct {
	baseURL    *url.URL
	hutch      string
	experiment string
	station    int
	httpClient *http.Client
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the retrying default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// New builds a logbook client. rawURL is the service base URL.
func New(rawURL, hutch, experiment string, station int, opts ...Option) (*Client, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse elog URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		hutch:      hutch,
		experiment: experiment,
		station:    station,
		log:        slog.Default().With("logger", "elog"),
	}
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

// Hutch returns the hutch this client posts for.
func (c *Client) Hutch() string { return c.hutch }

// Experiment returns the experiment entries default to.
func (c *Client) Experiment() string { return c.experiment }

// Station returns the configured logbook station.
func (c *Client) Station() int { return c.station }

// Post writes one entry to the logbook.
func (c *Client) Post(ctx context.Context, entry Entry) error {
	entry.Station = c.station
	if entry.Experiment == "" {
		entry.Experiment = c.experiment
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode elog entry: %w", err)
	}

	endpoint := c.baseURL.JoinPath("api", "elog", c.hutch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build elog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post elog entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post elog entry: %s", resp.Status)
	}
	c.log.Info("Posted a logbook entry.", "title", entry.Title, "station", c.station)
	return nil
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
				slog.Debug("Retrying logbook request due to network error.", "error", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}
