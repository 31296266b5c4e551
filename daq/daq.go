// Package daq is the client for the data-acquisition control service.
// The wire protocol is newline-delimited JSON over a single
// connection; the transport is injected so tests and simulated
// sessions can run without the real service.
package daq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"beamsh/engine"
)

// States of the client, in connection order.
type State string

const (
	Disconnected State = "disconnected"
	Connected    State = "connected"
	Configured   State = "configured"
	Running      State = "running"
)

// Conn is one control connection to the acquisition service.
type Conn interface {
	// Send issues a command and returns the decoded reply.
	Send(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Dialer opens control connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Request is one command frame.
type Request struct {
	Cmd      string         `json:"cmd"`
	Platform int            `json:"platform,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

// Response is one reply frame.
type Response struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Config describes one acquisition session.
type Config struct {
	// Events is the number of events per run; 0 means run until End.
	Events int
	// Record controls whether data lands in the offline store.
	Record bool
}

// Client drives the acquisition service through the injected dialer.
// All methods are safe for concurrent use.
type Client struct {
	dialer   Dialer
	platform int
	log      *slog.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	cfg   Config
	runs  int
}

// New builds a disconnected client for the given platform.
func New(dialer Dialer, platform int) *Client {
	return &Client{
		dialer:   dialer,
		platform: platform,
		log:      slog.Default().With("logger", "daq"),
		state:    Disconnected,
	}
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Platform returns the platform number this client controls.
func (c *Client) Platform() int { return c.platform }

// Configured reports readiness to take data (engine.Recorder).
func (c *Client) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Configured || c.state == Running
}

// Prepare configures an unready client with defaults (engine.Recorder).
// Already-configured clients are left alone.
func (c *Client) Prepare(ctx context.Context) error {
	if c.Configured() {
		return nil
	}
	return c.Configure(ctx, Config{})
}

// RunCount returns the number of runs begun on this client.
func (c *Client) RunCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Connect dials the service. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disconnected {
		return nil
	}
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect daq: %w", err)
	}
	c.conn = conn
	c.state = Connected
	c.log.Info("Connected to the daq.", "platform", c.platform)
	return nil
}

// Configure sets up the next runs. Requires a connection; implicitly
// ends a running acquisition first.
func (c *Client) Configure(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Disconnected:
		return fmt.Errorf("configure daq: %s", c.state)
	case Running:
		if err := c.send(ctx, Request{Cmd: "end_run", Platform: c.platform}); err != nil {
			return fmt.Errorf("configure daq: end running acquisition: %w", err)
		}
	}
	err := c.send(ctx, Request{
		Cmd:      "configure",
		Platform: c.platform,
		Args:     map[string]any{"events": cfg.Events, "record": cfg.Record},
	})
	if err != nil {
		c.state = Connected
		return fmt.Errorf("configure daq: %w", err)
	}
	c.cfg = cfg
	c.state = Configured
	c.log.Info("Configured the daq.", "events", cfg.Events, "record", cfg.Record)
	return nil
}

// Begin starts a run. An unconfigured client is configured with
// defaults first; an unconnected one fails.
func (c *Client) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Disconnected:
		return fmt.Errorf("begin run: %s", c.state)
	case Running:
		return fmt.Errorf("begin run: already running")
	case Connected:
		if err := c.send(ctx, Request{
			Cmd:      "configure",
			Platform: c.platform,
			Args:     map[string]any{"events": 0, "record": false},
		}); err != nil {
			return fmt.Errorf("begin run: default configure: %w", err)
		}
		c.state = Configured
	}
	if err := c.send(ctx, Request{Cmd: "begin_run", Platform: c.platform}); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	c.state = Running
	c.runs++
	c.log.Info("Run begun.", "run", c.runs)
	return nil
}

// End stops the current run. Ending while not running is a no-op.
func (c *Client) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return nil
	}
	if err := c.send(ctx, Request{Cmd: "end_run", Platform: c.platform}); err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	c.state = Configured
	c.log.Info("Run ended.", "run", c.runs)
	return nil
}

// Disconnect ends any run and closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disconnected {
		return nil
	}
	if c.state == Running {
		if err := c.send(ctx, Request{Cmd: "end_run", Platform: c.platform}); err != nil {
			c.log.Warn("Could not end the run before disconnecting.", "err", err)
		}
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = Disconnected
	c.log.Info("Disconnected from the daq.")
	return err
}

// send issues a request on the held connection. Callers hold c.mu.
func (c *Client) send(ctx context.Context, req Request) error {
	resp, err := c.conn.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("daq refused %s: %s", req.Cmd, resp.Error)
	}
	return nil
}

// AttachEngine subscribes the client to run-boundary events so every
// engine run is bracketed by a daq run. Failures log and never stop
// the engine.
func (c *Client) AttachEngine(re *engine.RunEngine) (token int) {
	return re.Subscribe("", func(ev engine.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		switch ev.Kind {
		case engine.EventStart:
			if err := c.Begin(ctx); err != nil {
				c.log.Warn("Daq did not start with the run.", "run", ev.RunID, "err", err)
			}
		case engine.EventStop, engine.EventError:
			if err := c.End(ctx); err != nil {
				c.log.Warn("Daq did not stop with the run.", "run", ev.RunID, "err", err)
			}
		}
	})
}

// TCPDialer dials the real service over TCP.
type TCPDialer struct {
	// Addr is host:port of the acquisition control service.
	Addr string
	// Timeout bounds the dial; zero means 5 seconds.
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Addr, err)
	}
	return &jsonConn{nc: nc, r: bufio.NewReader(nc)}, nil
}

// jsonConn frames requests and responses as single JSON lines.
type jsonConn struct {
	mu sync.Mutex
	nc net.Conn
	r  *bufio.Reader
}

func (c *jsonConn) Send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(deadline)
		defer c.nc.SetDeadline(time.Time{})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := c.nc.Write(payload); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *jsonConn) Close() error { return c.nc.Close() }
