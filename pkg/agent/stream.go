package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/arka/pkg/control"
)

// Stream is a lazily driven run: each Next pull lets the loop advance past
// the delivered step. Result blocks until the run reaches a terminal state.
type Stream struct {
	steps  chan *ActionStep
	done   chan struct{}
	result *RunResult
	cancel context.CancelFunc
}

// RunStream starts the task and returns a Stream over its steps. Delivery
// is a rendezvous: the loop does not start step N+1 until step N is pulled
// through Next, so an unconsumed stream pays for no further model calls.
// Abandoning a stream without draining it requires Cancel.
func (r *Runner) RunStream(ctx context.Context, params RunParams) (*Stream, error) {
	if params.Task == "" {
		return nil, fmt.Errorf("agent: task is required")
	}
	if !r.runMu.TryLock() {
		return nil, fmt.Errorf("agent: a run is already in progress")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		steps:  make(chan *ActionStep),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer r.runMu.Unlock()
		s.result = r.runLoop(runCtx, params, func(step *ActionStep) {
			select {
			case s.steps <- step:
			case <-runCtx.Done():
			}
		})
		close(s.steps)
		close(s.done)
	}()

	return s, nil
}

// Next returns the next completed step, or false when the run is over.
func (s *Stream) Next(ctx context.Context) (*ActionStep, bool) {
	select {
	case step, ok := <-s.steps:
		return step, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Result blocks until the run finishes and returns its terminal result.
func (s *Stream) Result() *RunResult {
	<-s.done
	return s.result
}

// Cancel aborts the run. The loop observes cancellation at its next step
// boundary and the result reports an error state.
func (s *Stream) Cancel() { s.cancel() }

// Handle is a suspendable run. Tools that need outside input raise
// requests through the control channel; the caller observes them on
// Requests and answers through Respond while steps flow on Steps.
type Handle struct {
	steps    chan *ActionStep
	requests chan control.Request
	done     chan struct{}
	result   *RunResult
	cancel   context.CancelFunc
	control  *control.Channel
}

// RunSuspendable starts the task with the control channel attached. While
// the handle is live, control-aware tools block on the caller instead of
// resolving their fallbacks.
func (r *Runner) RunSuspendable(ctx context.Context, params RunParams) (*Handle, error) {
	if params.Task == "" {
		return nil, fmt.Errorf("agent: task is required")
	}
	if !r.runMu.TryLock() {
		return nil, fmt.Errorf("agent: a run is already in progress")
	}

	r.control.Attach()

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		// Steps buffer to MaxSteps so a caller busy answering control
		// requests can never deadlock the loop on step delivery.
		steps:    make(chan *ActionStep, r.cfg.MaxSteps),
		requests: make(chan control.Request, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
		control:  r.control,
	}

	// The forwarder must stop before requests closes, otherwise a late
	// control request would send on a closed channel.
	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		for {
			req, err := r.control.Receive(runCtx)
			if err != nil {
				return
			}
			select {
			case h.requests <- req:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		defer r.runMu.Unlock()
		h.result = r.runLoop(runCtx, params, func(step *ActionStep) {
			select {
			case h.steps <- step:
			case <-runCtx.Done():
			}
		})
		r.control.Detach()
		cancel()
		forwarder.Wait()
		close(h.requests)
		close(h.steps)
		close(h.done)
	}()

	return h, nil
}

// Steps returns the channel of completed steps. It closes when the run
// reaches a terminal state.
func (h *Handle) Steps() <-chan *ActionStep { return h.steps }

// Requests returns the channel of pending control requests. Each request
// must be answered with Respond before the run proceeds past it. It closes
// when the run finishes.
func (h *Handle) Requests() <-chan control.Request { return h.requests }

// Respond answers the outstanding control request.
func (h *Handle) Respond(resp control.Response) error {
	return h.control.Respond(resp)
}

// State reports the run's current state: suspended while a control request
// awaits its response, the terminal state once the run is over, and running
// otherwise.
func (h *Handle) State() RunState {
	select {
	case <-h.done:
		return h.result.State
	default:
	}
	if h.control.Pending() {
		return StateSuspended
	}
	return StateRunning
}

// Result blocks until the run finishes and returns its terminal result.
func (h *Handle) Result() *RunResult {
	<-h.done
	return h.result
}

// Cancel aborts the run. A tool blocked on a control request is unblocked
// with a cancellation error.
func (h *Handle) Cancel() { h.cancel() }
