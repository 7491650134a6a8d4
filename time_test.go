package rxpipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	t.Parallel()

	t.Run("所有信号推迟后投递", func(t *testing.T) {
		ts := NewTestScheduler()
		rec := newRecorder[int]()
		FromSlice([]int{1, 2, 3}, WithScheduler(ts)).Delay(time.Second).Subscribe(rec)

		ts.AdvanceTimeBy(999 * time.Millisecond)
		require.Empty(t, rec.Values())
		require.False(t, rec.Terminated())

		ts.AdvanceTimeBy(time.Millisecond)
		rec.requireCompleted(t, []int{1, 2, 3})
	})

	t.Run("保持元素之间的间隔", func(t *testing.T) {
		ts := NewTestScheduler()
		s := NewPublishSubject[int](WithScheduler(ts))
		rec := newRecorder[int]()
		s.Delay(time.Second).Subscribe(rec)

		s.OnNext(1)
		ts.AdvanceTimeBy(500 * time.Millisecond)
		s.OnNext(2)
		ts.AdvanceTimeBy(500 * time.Millisecond)
		require.Equal(t, []int{1}, rec.Values())

		ts.AdvanceTimeBy(500 * time.Millisecond)
		require.Equal(t, []int{1, 2}, rec.Values())
	})

	t.Run("错误同样被推迟", func(t *testing.T) {
		ts := NewTestScheduler()
		rec := newRecorder[int]()
		Throw[int](errBoom, WithScheduler(ts)).Delay(time.Second).Subscribe(rec)

		require.False(t, rec.Terminated())
		ts.AdvanceTimeBy(time.Second)
		require.ErrorIs(t, rec.Err(), errBoom)
	})

	t.Run("取消后不再投递", func(t *testing.T) {
		ts := NewTestScheduler()
		rec := newRecorder[int]()
		d := FromSlice([]int{1}, WithScheduler(ts)).Delay(time.Second).Subscribe(rec)

		d.Dispose()
		ts.AdvanceTimeBy(time.Minute)
		require.Empty(t, rec.Values())
		require.False(t, rec.Terminated())
	})
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	t.Run("没有元素时超时", func(t *testing.T) {
		ts := NewTestScheduler()
		rec := newRecorder[int]()
		Never[int](WithScheduler(ts)).Timeout(time.Second).Subscribe(rec)

		ts.AdvanceTimeBy(999 * time.Millisecond)
		require.False(t, rec.Terminated())
		ts.AdvanceTimeBy(time.Millisecond)
		require.ErrorIs(t, rec.Err(), ErrTimeout)
	})

	t.Run("每个元素重置计时并在超时时取消上游", func(t *testing.T) {
		ts := NewTestScheduler()
		s := NewPublishSubject[int](WithScheduler(ts))
		rec := newRecorder[int]()
		s.Timeout(time.Second).Subscribe(rec)

		ts.AdvanceTimeBy(800 * time.Millisecond)
		s.OnNext(1)
		ts.AdvanceTimeBy(800 * time.Millisecond)
		require.False(t, rec.Terminated())
		require.True(t, s.HasObservers())

		ts.AdvanceTimeBy(200 * time.Millisecond)
		require.Equal(t, []int{1}, rec.Values())
		require.ErrorIs(t, rec.Err(), ErrTimeout)
		require.False(t, s.HasObservers())
	})

	t.Run("超时前完成", func(t *testing.T) {
		ts := NewTestScheduler()
		s := NewPublishSubject[int](WithScheduler(ts))
		rec := newRecorder[int]()
		s.Timeout(time.Second).Subscribe(rec)

		s.OnNext(1)
		s.OnComplete()
		ts.AdvanceTimeBy(time.Minute)
		rec.requireCompleted(t, []int{1})
		require.Equal(t, 0, rec.ErrCount())
	})
}
