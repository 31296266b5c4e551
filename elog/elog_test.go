package elog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestSelectStation(t *testing.T) {
	if got := SelectStation(true); got != StationSecondary {
		t.Fatalf("SelectStation(true) = %d", got)
	}
	if got := SelectStation(false); got != StationPrimary {
		t.Fatalf("SelectStation(false) = %d", got)
	}
}

func TestPost(t *testing.T) {
	var gotPath string
	var gotEntry Entry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotEntry); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "tmo", "tmox12345", StationSecondary, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Post(context.Background(), Entry{Title: "alignment done", Body: "beam through im3"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotPath != "/api/elog/tmo" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotEntry.Station != StationSecondary {
		t.Fatalf("station = %d", gotEntry.Station)
	}
	if gotEntry.Experiment != "tmox12345" {
		t.Fatalf("experiment = %q", gotEntry.Experiment)
	}
}

func TestPostServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "tmo", "", StationPrimary, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Post(context.Background(), Entry{Title: "x"}); err == nil {
		t.Fatal("server error reported as success")
	}
}

// flakyTripper fails its first attempt with a network error and
// records the body each attempt actually carried.
type flakyTripper struct {
	calls  int
	bodies []string
}

func (f *flakyTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.bodies = append(f.bodies, string(data))
	if f.calls == 1 {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return &http.Response{
		StatusCode: http.StatusCreated,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestRetryResendsRequestBody(t *testing.T) {
	flaky := &flakyTripper{}
	rt := &retryRoundTripper{
		base: flaky,
		newBackoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		},
	}

	const payload = `{"title":"alignment done"}`
	req, err := http.NewRequest(http.MethodPost, "http://logbook/api/elog/tmo", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	if flaky.calls != 2 {
		t.Fatalf("attempts = %d, want 2", flaky.calls)
	}
	for i, body := range flaky.bodies {
		if body != payload {
			t.Errorf("attempt %d body = %q, want %q", i+1, body, payload)
		}
	}
}

func TestNewBadURL(t *testing.T) {
	if _, err := New("://bad", "tmo", "", 0); err == nil {
		t.Fatal("want error")
	}
}
