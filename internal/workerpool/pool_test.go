package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	p, err := New(4)
	require.NoError(t, err)
	items := []int{5, 1, 4, 2, 3, 0}
	out, err := Map(context.Background(), p, items, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 10, 40, 20, 30, 0}, out)
}

func TestMap_BoundsConcurrency(t *testing.T) {
	p, err := New(3)
	require.NoError(t, err)
	var running, peak atomic.Int32
	items := make([]int, 30)
	_, err = Map(context.Background(), p, items, func(_ context.Context, _ int) (struct{}, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMap_FirstErrorFailsBatch(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	boom := errors.New("boom")
	out, err := Map(context.Background(), p, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestMap_RecoversPanics(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	_, err = Map(context.Background(), p, []int{1}, func(_ context.Context, _ int) (int, error) {
		panic("bad")
	})
	assert.ErrorIs(t, err, ErrTaskPanic)
}

func TestMap_ClosedAndInvalid(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	p, err := New(1)
	require.NoError(t, err)
	p.Close()
	_, err = Map(context.Background(), p, []int{1}, func(_ context.Context, n int) (int, error) { return n, nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestMap_Empty(t *testing.T) {
	p, _ := New(1)
	out, err := Map(context.Background(), p, []string(nil), func(_ context.Context, s string) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Empty(t, out)
}
