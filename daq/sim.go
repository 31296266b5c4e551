package daq

import (
	"context"
	"fmt"
	"sync"
)

// SimDialer hands out in-process connections backed by a shared fake
// service, for --sim sessions and tests.
type SimDialer struct {
	// FailDial simulates an unreachable service.
	FailDial bool
	// FailCmds lists commands the fake service refuses.
	FailCmds []string

	mu  sync.Mutex
	log []Request
}

// Sent returns every request the fake service has received.
func (d *SimDialer) Sent() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.log))
	copy(out, d.log)
	return out
}

func (d *SimDialer) Dial(ctx context.Context) (Conn, error) {
	if d.FailDial {
		return nil, fmt.Errorf("simulated daq unreachable")
	}
	return &simConn{dialer: d}, nil
}

type simConn struct {
	dialer *SimDialer
	closed bool
}

func (c *simConn) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	d := c.dialer
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.closed {
		return Response{}, fmt.Errorf("connection closed")
	}
	d.log = append(d.log, req)
	for _, cmd := range d.FailCmds {
		if cmd == req.Cmd {
			return Response{OK: false, Error: "simulated refusal"}, nil
		}
	}
	return Response{OK: true}, nil
}

func (c *simConn) Close() error {
	d := c.dialer
	d.mu.Lock()
	defer d.mu.Unlock()
	c.closed = true
	return nil
}
