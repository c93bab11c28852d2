package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type funcMailer func(ctx context.Context, msg Message) error

func (f funcMailer) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recordingRecorder) EmailDispatched(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	key := kind + ":ok"
	if err != nil {
		key = kind + ":error"
	}
	r.outcomes[key]++
}

func TestDispatcher_Delivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var sent atomic.Int32
	mailer := funcMailer(func(ctx context.Context, msg Message) error {
		sent.Add(1)
		return nil
	})
	recorder := &recordingRecorder{}
	d := NewDispatcher(mailer, 2, time.Second, nil, recorder)

	results := make([]<-chan error, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, d.Dispatch(Message{Kind: KindVerification, To: "a@x.io"}))
	}
	for _, ch := range results {
		assert.NoError(t, <-ch)
	}

	d.Close()
	assert.Equal(t, int32(5), sent.Load())
	assert.Equal(t, 5, recorder.outcomes[KindVerification+":ok"])
}

func TestDispatcher_TimeoutSurfacesOnChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	mailer := funcMailer(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(mailer, 1, 20*time.Millisecond, nil, nil)
	defer d.Close()

	err := <-d.Dispatch(Message{Kind: KindPasswordReset, To: "a@x.io"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_FailureDoesNotBlockCaller(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	mailer := funcMailer(func(ctx context.Context, msg Message) error {
		<-release
		return errors.New("smtp down")
	})
	d := NewDispatcher(mailer, 1, time.Second, nil, nil)

	start := time.Now()
	ch := d.Dispatch(Message{Kind: KindVerification, To: "a@x.io"})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "dispatch must not wait for delivery")

	close(release)
	assert.EqualError(t, <-ch, "smtp down")
	d.Close()
}

func TestDispatcher_ClosedAndFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	mailer := funcMailer(func(ctx context.Context, msg Message) error {
		<-block
		return nil
	})
	d := NewDispatcher(mailer, 1, time.Second, nil, nil)

	// One in flight plus a full queue; the next is refused.
	var refused error
	for i := 0; i < 1+16+1; i++ {
		ch := d.Dispatch(Message{Kind: KindVerification})
		select {
		case err := <-ch:
			refused = err
		default:
		}
	}
	require.ErrorIs(t, refused, ErrQueueFull)

	close(block)
	d.Close()
	d.Close()

	assert.ErrorIs(t, <-d.Dispatch(Message{}), ErrDispatcherClosed)
}

func TestDispatcher_RecoversMailerPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	mailer := funcMailer(func(ctx context.Context, msg Message) error {
		panic("boom")
	})
	d := NewDispatcher(mailer, 1, time.Second, nil, nil)
	defer d.Close()

	assert.Error(t, <-d.Dispatch(Message{Kind: KindVerification}))
}
