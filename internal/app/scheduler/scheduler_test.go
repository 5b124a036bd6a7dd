package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pglocator/pglocator/internal/app/services/bookings"
	"github.com/pglocator/pglocator/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(logging.Discard())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 10ms", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("fail", "@every 10ms", func(ctx context.Context) error {
		return errors.New("boom")
	}))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	next, ok := s.Next("tick")
	assert.True(t, ok)
	assert.False(t, next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRejectsBadSpecs(t *testing.T) {
	s := New(logging.Discard())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add("bad", "not a schedule", noop))
	require.NoError(t, s.Add("nightly", "@daily", noop))
	assert.Error(t, s.Add("nightly", "@hourly", noop))

	_, ok := s.Next("missing")
	assert.False(t, ok)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(logging.Discard())
	started := make(chan struct{}, 1)
	require.NoError(t, s.Add("slow", "@every 10ms", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

type fakeBackfiller struct {
	res bookings.BackfillResult
	err error
}

func (f fakeBackfiller) Backfill(context.Context) (bookings.BackfillResult, error) {
	return f.res, f.err
}

func TestBackfillJob(t *testing.T) {
	ok := BackfillJob(fakeBackfiller{res: bookings.BackfillResult{Updated: 2}}, logging.Discard())
	assert.NoError(t, ok(context.Background()))

	failing := BackfillJob(fakeBackfiller{err: errors.New("store down")}, logging.Discard())
	assert.ErrorContains(t, failing(context.Background()), "store down")
}
