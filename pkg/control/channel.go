package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind identifies the variant of a control request.
type Kind string

const (
	KindUserInput    Kind = "user_input"
	KindConfirmation Kind = "confirmation"
	KindEscalation   Kind = "escalation"
)

// Fallback selects how a request resolves when no live consumer is attached.
type Fallback string

const (
	FallbackRaise       Fallback = "raise"
	FallbackUseDefault  Fallback = "use_default"
	FallbackAutoApprove Fallback = "auto_approve"
	FallbackSkip        Fallback = "skip"
)

// Request asks whoever drives the run for input mid-step.
type Request struct {
	ID       string      `json:"id"`
	Kind     Kind        `json:"kind"`
	Prompt   string      `json:"prompt"`
	Default  interface{} `json:"default,omitempty"`
	Fallback Fallback    `json:"fallback"`
}

// Response answers an outstanding request.
type Response struct {
	Approved bool        `json:"approved"`
	Value    interface{} `json:"value,omitempty"`
}

var (
	// ErrOutsideStep is returned when Request is called with no step active.
	ErrOutsideStep = errors.New("control: request outside an active step")

	// ErrNoPendingRequest is returned when Respond is called with nothing outstanding.
	ErrNoPendingRequest = errors.New("control: no pending request to respond to")

	// ErrRequestOutstanding is returned when a second request is issued before
	// the first resolves.
	ErrRequestOutstanding = errors.New("control: a request is already outstanding")
)

// UnansweredError reports a request that declared the raise fallback and found
// no consumer attached.
type UnansweredError struct {
	Kind   Kind
	Prompt string
}

func (e *UnansweredError) Error() string {
	return fmt.Sprintf("control: unanswered %s request: %s", e.Kind, e.Prompt)
}

// Channel lets a step body pause, hand a Request to whoever drives the run,
// and resume with the matching Response without unwinding the step's call
// stack. It holds at most one outstanding request.
//
// The channel pair is single-slot: the step writes the request slot and reads
// the response slot; the resumer does the inverse. Consumer liveness is
// explicit state, not inferred from scheduling.
type Channel struct {
	mu       sync.Mutex
	attached bool
	inStep   bool
	pending  bool

	reqCh  chan Request
	respCh chan Response
}

// New creates a detached channel. Requests resolve through their fallbacks
// until a consumer attaches.
func New() *Channel {
	return &Channel{
		reqCh:  make(chan Request, 1),
		respCh: make(chan Response, 1),
	}
}

// Attach marks a live consumer as present. Requests now block until answered.
func (c *Channel) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = true
}

// Detach removes the live consumer.
func (c *Channel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = false
}

// Attached reports whether a live consumer is present.
func (c *Channel) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// BeginStep marks a step as active. Called by the orchestrator, never by
// tools or steps themselves.
func (c *Channel) BeginStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inStep = true
}

// EndStep marks the active step as finished.
func (c *Channel) EndStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inStep = false
}

// Request suspends the logical step until a consumer answers, or resolves
// immediately through the request's fallback when no consumer is attached.
// Calling it outside an active step is a caller-misuse error.
func (c *Channel) Request(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	if !c.inStep {
		c.mu.Unlock()
		return Response{}, ErrOutsideStep
	}
	if c.pending {
		c.mu.Unlock()
		return Response{}, ErrRequestOutstanding
	}
	if req.ID == "" {
		if id, err := gonanoid.New(); err == nil {
			req.ID = id
		}
	}
	if !c.attached {
		c.mu.Unlock()
		return resolveFallback(req)
	}
	c.pending = true
	c.mu.Unlock()

	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		c.clearPending()
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-c.respCh:
		c.clearPending()
		return resp, nil
	case <-ctx.Done():
		c.clearPending()
		return Response{}, ctx.Err()
	}
}

// Receive blocks until a request is outstanding, for consumer loops.
func (c *Channel) Receive(ctx context.Context) (Request, error) {
	select {
	case req := <-c.reqCh:
		return req, nil
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// Respond resumes the suspended step with resp. It is a misuse error when no
// request is outstanding.
//
// The send happens under the mutex so it is ordered against clearPending: a
// request abandoned by cancellation either drains this response or makes the
// pending check fail, and a stale response can never answer a later request.
// The single-slot respCh is empty whenever pending is true, so the send never
// blocks.
func (c *Channel) Respond(resp Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return ErrNoPendingRequest
	}
	c.respCh <- resp
	return nil
}

// Pending reports whether a request is outstanding.
func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Channel) clearPending() {
	c.mu.Lock()
	c.pending = false
	// Drop anything left in the slots by an abandoned exchange.
	select {
	case <-c.reqCh:
	default:
	}
	select {
	case <-c.respCh:
	default:
	}
	c.mu.Unlock()
}

func resolveFallback(req Request) (Response, error) {
	switch req.Fallback {
	case FallbackRaise:
		return Response{}, &UnansweredError{Kind: req.Kind, Prompt: req.Prompt}
	case FallbackUseDefault:
		return Response{Approved: true, Value: req.Default}, nil
	case FallbackAutoApprove:
		return Response{Approved: true}, nil
	case FallbackSkip:
		return Response{Approved: false, Value: nil}, nil
	default:
		return Response{}, fmt.Errorf("control: unknown fallback %q", req.Fallback)
	}
}
