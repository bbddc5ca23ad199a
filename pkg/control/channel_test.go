package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeStepChannel() *Channel {
	ch := New()
	ch.BeginStep()
	return ch
}

func TestRequestFallbacks(t *testing.T) {
	t.Run("should use the default when detached", func(t *testing.T) {
		ch := activeStepChannel()

		resp, err := ch.Request(context.Background(), Request{
			Kind:     KindUserInput,
			Prompt:   "preferred output format?",
			Default:  "json",
			Fallback: FallbackUseDefault,
		})
		require.NoError(t, err)
		assert.True(t, resp.Approved)
		assert.Equal(t, "json", resp.Value)
	})

	t.Run("should auto approve when detached", func(t *testing.T) {
		ch := activeStepChannel()

		resp, err := ch.Request(context.Background(), Request{
			Kind:     KindConfirmation,
			Prompt:   "delete the file?",
			Fallback: FallbackAutoApprove,
		})
		require.NoError(t, err)
		assert.True(t, resp.Approved)
	})

	t.Run("should skip when detached", func(t *testing.T) {
		ch := activeStepChannel()

		resp, err := ch.Request(context.Background(), Request{
			Kind:     KindEscalation,
			Prompt:   "sub-agent failed",
			Fallback: FallbackSkip,
		})
		require.NoError(t, err)
		assert.False(t, resp.Approved)
		assert.Nil(t, resp.Value)
	})

	t.Run("should raise an unanswered error when detached", func(t *testing.T) {
		ch := activeStepChannel()

		_, err := ch.Request(context.Background(), Request{
			Kind:     KindUserInput,
			Prompt:   "which account?",
			Fallback: FallbackRaise,
		})
		var unanswered *UnansweredError
		require.ErrorAs(t, err, &unanswered)
		assert.Equal(t, KindUserInput, unanswered.Kind)
		assert.Equal(t, "which account?", unanswered.Prompt)
	})

	t.Run("should reject an unknown fallback", func(t *testing.T) {
		ch := activeStepChannel()

		_, err := ch.Request(context.Background(), Request{Fallback: "mystery"})
		assert.ErrorContains(t, err, "unknown fallback")
	})
}

func TestRequestMisuse(t *testing.T) {
	t.Run("should reject a request outside a step", func(t *testing.T) {
		ch := New()

		_, err := ch.Request(context.Background(), Request{Fallback: FallbackAutoApprove})
		assert.True(t, errors.Is(err, ErrOutsideStep))
	})

	t.Run("should reject a respond with nothing pending", func(t *testing.T) {
		ch := New()
		err := ch.Respond(Response{Approved: true})
		assert.True(t, errors.Is(err, ErrNoPendingRequest))
	})

	t.Run("should reject overlapping requests", func(t *testing.T) {
		ch := activeStepChannel()
		ch.Attach()

		started := make(chan struct{})
		go func() {
			close(started)
			_, _ = ch.Request(context.Background(), Request{
				Kind:     KindUserInput,
				Fallback: FallbackRaise,
			})
		}()
		<-started
		require.Eventually(t, ch.Pending, time.Second, 5*time.Millisecond)

		_, err := ch.Request(context.Background(), Request{Fallback: FallbackRaise})
		assert.True(t, errors.Is(err, ErrRequestOutstanding))

		require.NoError(t, ch.Respond(Response{Approved: true}))
	})
}

func TestRequestRespond(t *testing.T) {
	t.Run("should round trip a request through an attached consumer", func(t *testing.T) {
		ch := activeStepChannel()
		ch.Attach()

		type outcome struct {
			resp Response
			err  error
		}
		result := make(chan outcome, 1)
		go func() {
			resp, err := ch.Request(context.Background(), Request{
				Kind:     KindUserInput,
				Prompt:   "name?",
				Fallback: FallbackRaise,
			})
			result <- outcome{resp, err}
		}()

		req, err := ch.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "name?", req.Prompt)
		assert.NotEmpty(t, req.ID)

		require.NoError(t, ch.Respond(Response{Approved: true, Value: "ada"}))

		got := <-result
		require.NoError(t, got.err)
		assert.Equal(t, "ada", got.resp.Value)
		assert.False(t, ch.Pending())
	})

	t.Run("should unblock the requester on context cancellation", func(t *testing.T) {
		ch := activeStepChannel()
		ch.Attach()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := ch.Request(ctx, Request{Kind: KindUserInput, Fallback: FallbackRaise})
			errCh <- err
		}()

		require.Eventually(t, ch.Pending, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			assert.True(t, errors.Is(err, context.Canceled))
		case <-time.After(time.Second):
			t.Fatal("request did not unblock")
		}
		assert.False(t, ch.Pending())
	})

	t.Run("should not let a late respond answer the next request", func(t *testing.T) {
		ch := activeStepChannel()
		ch.Attach()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := ch.Request(ctx, Request{Kind: KindUserInput, Prompt: "first?", Fallback: FallbackRaise})
			errCh <- err
		}()

		req, err := ch.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "first?", req.Prompt)

		cancel()
		select {
		case reqErr := <-errCh:
			require.True(t, errors.Is(reqErr, context.Canceled))
		case <-time.After(time.Second):
			t.Fatal("request did not unblock")
		}

		// The answer arrives after the requester gave up. It must be rejected,
		// not parked for the next request.
		assert.True(t, errors.Is(ch.Respond(Response{Approved: true, Value: "stale"}), ErrNoPendingRequest))

		type outcome struct {
			resp Response
			err  error
		}
		result := make(chan outcome, 1)
		go func() {
			resp, reqErr := ch.Request(context.Background(), Request{
				Kind:     KindUserInput,
				Prompt:   "second?",
				Fallback: FallbackRaise,
			})
			result <- outcome{resp, reqErr}
		}()

		req, err = ch.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "second?", req.Prompt)
		require.NoError(t, ch.Respond(Response{Approved: true, Value: "fresh"}))

		got := <-result
		require.NoError(t, got.err)
		assert.Equal(t, "fresh", got.resp.Value)
	})

	t.Run("should fall back again after detach", func(t *testing.T) {
		ch := activeStepChannel()
		ch.Attach()
		ch.Detach()

		resp, err := ch.Request(context.Background(), Request{
			Kind:     KindConfirmation,
			Fallback: FallbackAutoApprove,
		})
		require.NoError(t, err)
		assert.True(t, resp.Approved)
	})

	t.Run("should not leak state across steps", func(t *testing.T) {
		ch := activeStepChannel()
		ch.EndStep()

		_, err := ch.Request(context.Background(), Request{Fallback: FallbackAutoApprove})
		assert.True(t, errors.Is(err, ErrOutsideStep))

		ch.BeginStep()
		resp, err := ch.Request(context.Background(), Request{Fallback: FallbackAutoApprove})
		require.NoError(t, err)
		assert.True(t, resp.Approved)
	})
}
