// Package testutil provides a scriptable stand-in for the match-history API.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/remote"
)

// Reply is one scripted response. A non-nil Err simulates a transport failure.
type Reply struct {
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error

	// Delay holds the reply back, or until the request context ends.
	Delay time.Duration
}

// After returns r delayed by d.
func (r Reply) After(d time.Duration) Reply {
	r.Delay = d
	return r
}

// MatchPayload returns a minimal API body for a match played on the given patch.
func MatchPayload(id record.ID, major, minor int) string {
	return fmt.Sprintf(
		`{"code":200,"message":"Success","userGames":[{"gameId":%d,"versionMajor":%d,"versionMinor":%d,"nickname":"p1"}]}`,
		id, major, minor,
	)
}

// Found replies with a match on patch 1.0.
func Found(id record.ID) Reply {
	return Reply{Status: http.StatusOK, Body: MatchPayload(id, 1, 0)}
}

// FoundOnPatch replies with a match on the given patch.
func FoundOnPatch(id record.ID, major, minor int) Reply {
	return Reply{Status: http.StatusOK, Body: MatchPayload(id, major, minor)}
}

// Missing replies the way the API reports an unknown game.
func Missing() Reply {
	return Reply{Status: http.StatusOK, Body: `{"code":404,"message":"Not Found"}`}
}

// Throttled replies with HTTP 429.
func Throttled(retryAfter time.Duration) Reply {
	return Reply{Status: http.StatusTooManyRequests, Body: `{"code":429,"message":"Too Many Requests"}`, RetryAfter: retryAfter}
}

// Unavailable replies with HTTP 503.
func Unavailable() Reply {
	return Reply{Status: http.StatusServiceUnavailable, Body: `upstream unavailable`}
}

// Forbidden replies with HTTP 403.
func Forbidden() Reply {
	return Reply{Status: http.StatusForbidden, Body: `{"code":403,"message":"Forbidden"}`}
}

// Garbled replies 200 with an unparseable body.
func Garbled() Reply {
	return Reply{Status: http.StatusOK, Body: `{"code":200,"userGames":[`}
}

// FakeRemote serves scripted replies per ID. It is safe for concurrent use.
type FakeRemote struct {
	mu       sync.Mutex
	scripts  map[record.ID][]Reply
	fallback func(record.ID) Reply
	calls    []record.ID
	times    []time.Time
	now      func() time.Time
}

// NewFakeRemote returns a FakeRemote answering unscripted IDs with
// fallback, or with Found when fallback is nil.
func NewFakeRemote(fallback func(record.ID) Reply) *FakeRemote {
	if fallback == nil {
		fallback = Found
	}
	return &FakeRemote{
		scripts:  make(map[record.ID][]Reply),
		fallback: fallback,
		now:      time.Now,
	}
}

// Script queues replies for id. They are consumed in order; the last one
// repeats forever.
func (f *FakeRemote) Script(id record.ID, replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = append(f.scripts[id], replies...)
}

func (f *FakeRemote) Get(ctx context.Context, id record.ID) (remote.Response, error) {
	if err := ctx.Err(); err != nil {
		return remote.Response{}, err
	}
	reply := f.next(id)
	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return remote.Response{}, ctx.Err()
		case <-t.C:
		}
	}
	if reply.Err != nil {
		return remote.Response{}, reply.Err
	}
	return remote.Response{StatusCode: reply.Status, Body: []byte(reply.Body), RetryAfter: reply.RetryAfter}, nil
}

func (f *FakeRemote) next(id record.ID) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.times = append(f.times, f.now())

	script := f.scripts[id]
	if len(script) == 0 {
		return f.fallback(id)
	}
	reply := script[0]
	if len(script) > 1 {
		f.scripts[id] = script[1:]
	}
	return reply
}

// Calls returns every requested ID in call order.
func (f *FakeRemote) Calls() []record.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.ID(nil), f.calls...)
}

// CallTimes returns the wall time of every call.
func (f *FakeRemote) CallTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

// CallCount returns how many times id was requested.
func (f *FakeRemote) CallCount(id record.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

// NewServer exposes f over HTTP at /v1/games/{id}, for end-to-end tests of
// the real client. The server is closed when the test ends.
func NewServer(t *testing.T, f *FakeRemote) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.URL.Path, "/v1/games/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		id, err := record.ParseID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply := f.next(id)
		if reply.Err != nil {
			// Drop the connection to simulate a transport failure.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			http.Error(w, reply.Err.Error(), http.StatusBadGateway)
			return
		}
		if reply.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(reply.RetryAfter/time.Second)))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.Status)
		_, _ = w.Write([]byte(reply.Body))
	}))
	t.Cleanup(srv.Close)
	return srv
}
