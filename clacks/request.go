package clacks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-clacks/internal/pool"
)

// State is the lifecycle state of a Request.
type State int32

const (
	// StateWaiting means the request was sent and its reply is outstanding.
	StateWaiting State = iota
	// StateResponseReady means a matching reply arrived. Terminal.
	StateResponseReady
	// StateTimedOut means the deadline passed before a reply arrived. Terminal.
	StateTimedOut
	// StateDone means the request was sent without waiting for a reply. Terminal.
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateResponseReady:
		return "RESPONSE_READY"
	case StateTimedOut:
		return "TIMEDOUT"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s can never change again.
func (s State) IsTerminal() bool {
	return s == StateResponseReady || s == StateTimedOut || s == StateDone
}

// ParseSuffix splits an optional id suffix off a raw message.
//
// The suffix starts at the first '_' and ends before the first space after
// it. body is raw with the first occurrence of the suffix removed. A message
// without '_', or without a space after it, has no suffix.
//
//	ParseSuffix("led_A on") // "_A", "led on"
func ParseSuffix(raw string) (suffix, body string) {
	a := strings.IndexByte(raw, '_')
	if a < 0 {
		return "", raw
	}

	n := strings.IndexByte(raw[a:], ' ')
	if n < 0 {
		return "", raw
	}

	suffix = raw[a : a+n]

	return suffix, strings.Replace(raw, suffix, "", 1)
}

// Request is one client query and its correlation state.
//
// The identity fields never change after creation. The state moves at most
// once, from StateWaiting to StateResponseReady or StateTimedOut; the first
// transition wins and later ones are ignored.
type Request struct {
	id      string
	suffix  string
	fullID  string
	body    string
	caller  any
	timeout time.Duration
	created time.Time

	metrics *Metrics
	done    chan struct{}

	mu         sync.Mutex
	state      State
	response   string
	deadline   time.Time
	finishedAt time.Time
}

func newRequest(baseID, raw string, caller any, timeout time.Duration, m *Metrics) *Request {
	suffix, body := ParseSuffix(raw)
	now := time.Now()

	r := &Request{
		id:       baseID,
		suffix:   suffix,
		fullID:   baseID + suffix,
		body:     body,
		caller:   caller,
		timeout:  timeout,
		created:  now,
		metrics:  m,
		done:     make(chan struct{}),
		deadline: now.Add(timeout),
	}

	if timeout == 0 {
		r.state = StateDone
		r.finishedAt = now
		close(r.done)
	}

	return r
}

// ID returns the base id allocated by the service.
func (r *Request) ID() string { return r.id }

// Suffix returns the id suffix parsed from the message, or "".
func (r *Request) Suffix() string { return r.suffix }

// FullID returns the correlation id put on the wire.
func (r *Request) FullID() string { return r.fullID }

// Body returns the message with the suffix removed.
func (r *Request) Body() string { return r.body }

// Caller returns the opaque caller context given on submission.
func (r *Request) Caller() any { return r.caller }

// Timeout returns the requested wait; zero for fire-and-forget requests.
func (r *Request) Timeout() time.Duration { return r.timeout }

// CreatedAt returns the creation time.
func (r *Request) CreatedAt() time.Time { return r.created }

// State returns the current state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Response returns the reply body. ok is false unless the state is StateResponseReady.
func (r *Request) Response() (resp string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.response, r.state == StateResponseReady
}

// Deadline returns the time after which a waiting request times out.
func (r *Request) Deadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deadline
}

// Done returns a channel that is closed when the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request is terminal, its deadline passes, or ctx is done.
//
// A request still waiting at its deadline is moved to StateTimedOut by Wait
// itself, so callers never observe a late StateWaiting.
func (r *Request) Wait(ctx context.Context) (State, error) {
	for {
		select {
		case <-r.done:
			return r.State(), nil
		default:
		}

		timer := pool.GetTimer(time.Until(r.Deadline()))

		select {
		case <-r.done:
		case <-timer.C:
			r.expire(time.Now())
		case <-ctx.Done():
			pool.PutTimer(timer)
			return r.State(), ctx.Err()
		}

		pool.PutTimer(timer)
	}
}

// startDeadline restarts the deadline at the hand-off time.
func (r *Request) startDeadline(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateWaiting {
		r.deadline = now.Add(r.timeout)
	}
}

// resolve stores the reply. It reports whether this call made the transition.
func (r *Request) resolve(resp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateWaiting {
		return false
	}

	r.response = resp
	r.finish(StateResponseReady, time.Now())

	if r.metrics != nil {
		r.metrics.incResponseCount()
	}

	return true
}

// expire times the request out if its deadline has passed at now.
func (r *Request) expire(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateWaiting || now.Before(r.deadline) {
		return false
	}

	r.finish(StateTimedOut, now)

	if r.metrics != nil {
		r.metrics.incTimeoutCount()
	}

	return true
}

// terminalSince reports when the request became terminal; ok is false while waiting.
func (r *Request) terminalSince() (t time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.finishedAt, r.state.IsTerminal()
}

// finish must be called with r.mu held.
func (r *Request) finish(st State, now time.Time) {
	r.state = st
	r.finishedAt = now
	close(r.done)
}
