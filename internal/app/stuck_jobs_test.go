package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFailer struct {
	calls  atomic.Int64
	maxAge atomic.Int64
	err    error
}

func (f *countingFailer) FailStuck(_ context.Context, maxAge time.Duration) (int64, error) {
	f.calls.Add(1)
	f.maxAge.Store(int64(maxAge))
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestSweeper_SweepsImmediatelyThenOnTicker(t *testing.T) {
	t.Parallel()
	f := &countingFailer{}
	s := NewStuckJobSweeper(f, 10*time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, f.calls.Load(), int64(3), "immediate sweep plus ticker sweeps")
	assert.Equal(t, int64(10*time.Minute), f.maxAge.Load())
}

func TestSweeper_SurvivesFailerErrors(t *testing.T) {
	t.Parallel()
	f := &countingFailer{err: errors.New("db unreachable")}
	s := NewStuckJobSweeper(f, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, f.calls.Load(), int64(2), "errors must not stop the loop")
}

func TestSweeper_DefaultsAndNilSafety(t *testing.T) {
	t.Parallel()
	require.Nil(t, NewStuckJobSweeper(nil, 0, 0))

	var s *StuckJobSweeper
	s.Run(context.Background()) // must not panic

	f := &countingFailer{}
	s = NewStuckJobSweeper(f, 0, 0)
	assert.Equal(t, 10*time.Minute, s.maxAge)
	assert.Equal(t, time.Minute, s.interval)
}
