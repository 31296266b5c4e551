// Package health runs the small environment probes a session performs
// at startup. Timestamps in the data stream are only comparable when
// the console's clock agrees with the facility's, so clock drift is
// checked against NTP and reported, never enforced.
package health

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultNTPServer = "pool.ntp.org"
	defaultMaxDrift  = 500 * time.Millisecond
)

// ClockStatus is the result of one drift probe.
type ClockStatus struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// ClockCheck probes an NTP server and compares the local clock
// offset against an allowed drift.
type ClockCheck struct {
	// Server is the NTP host to query; empty uses the public pool.
	Server string
	// MaxDrift is the acceptable absolute offset; zero uses 500ms.
	MaxDrift time.Duration

	// QueryFunc overrides the NTP query, for tests.
	QueryFunc func(server string) (*ntp.Response, error)

	mu     sync.Mutex
	status ClockStatus
}

// Check performs one probe and records the result.
func (c *ClockCheck) Check() ClockStatus {
	server := c.Server
	if server == "" {
		server = defaultNTPServer
	}
	maxDrift := c.MaxDrift
	if maxDrift == 0 {
		maxDrift = defaultMaxDrift
	}
	query := c.QueryFunc
	if query == nil {
		query = ntp.Query
	}

	resp, err := query(server)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.status = ClockStatus{Error: err.Error(), CheckedAt: time.Now()}
		return c.status
	}
	c.status = ClockStatus{
		Offset:    resp.ClockOffset,
		Healthy:   resp.ClockOffset.Abs() < maxDrift,
		CheckedAt: time.Now(),
	}
	return c.status
}

// Status returns the last recorded probe result.
func (c *ClockCheck) Status() ClockStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
