// Error handling tests for rxpipe
// 重试、重复以及错误恢复操作符的测试
package rxpipe

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

// flaky 前failures次订阅以errBoom失败，之后发射订阅序号并完成
func flaky(attempts *atomic.Int32, failures int32, options ...Option) *Observable[int32] {
	return Create(func(e Emitter[int32]) {
		n := attempts.Add(1)
		if n <= failures {
			e.OnError(errBoom)
			return
		}
		e.OnNext(n)
		e.OnComplete()
	}, options...)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("第三次订阅成功", func(t *testing.T) {
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 2).Retry(2).Subscribe(rec)

		rec.requireCompleted(t, []int32{3})
		require.Equal(t, int32(3), attempts.Load())
	})

	t.Run("重试次数用尽后传递错误", func(t *testing.T) {
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 5).Retry(2).Subscribe(rec)

		require.ErrorIs(t, rec.Err(), errBoom)
		require.Equal(t, 1, rec.ErrCount())
		require.Equal(t, int32(3), attempts.Load())
	})

	t.Run("已发射的元素不会撤回", func(t *testing.T) {
		var attempts atomic.Int32
		src := Create(func(e Emitter[int32]) {
			n := attempts.Add(1)
			e.OnNext(n)
			if n < 3 {
				e.OnError(errBoom)
				return
			}
			e.OnComplete()
		})

		rec := newRecorder[int32]()
		src.Retry(-1).Subscribe(rec)
		rec.requireCompleted(t, []int32{1, 2, 3})
	})

	t.Run("大量同步重试不会栈溢出", func(t *testing.T) {
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 10000).Retry(-1).Subscribe(rec)
		rec.requireCompleted(t, []int32{10001})
	})

	t.Run("RetryWhile", func(t *testing.T) {
		var attempts atomic.Int32
		var seen []int
		rec := newRecorder[int32]()
		flaky(&attempts, 10).RetryWhile(func(attempt int, err error) bool {
			seen = append(seen, attempt)
			return attempt < 3 && errors.Is(err, errBoom)
		}).Subscribe(rec)

		require.ErrorIs(t, rec.Err(), errBoom)
		require.Equal(t, []int{1, 2, 3}, seen)
		require.Equal(t, int32(3), attempts.Load())
	})

	t.Run("RetryWhile谓词panic", func(t *testing.T) {
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 1).RetryWhile(func(int, error) bool { panic("predicate") }).Subscribe(rec)

		var perr *ProducerError
		require.ErrorAs(t, rec.Err(), &perr)
		require.Equal(t, 1, rec.ErrCount())
	})
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	t.Run("按退避间隔重试直到放弃", func(t *testing.T) {
		ts := NewTestScheduler()
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 10, WithScheduler(ts)).RetryWithBackoff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 2)
		}).Subscribe(rec)

		require.Equal(t, int32(1), attempts.Load())
		require.False(t, rec.Terminated())

		ts.AdvanceTimeBy(999 * time.Millisecond)
		require.Equal(t, int32(1), attempts.Load())
		ts.AdvanceTimeBy(time.Millisecond)
		require.Equal(t, int32(2), attempts.Load())
		ts.AdvanceTimeBy(time.Second)
		require.Equal(t, int32(3), attempts.Load())

		err := rec.Err()
		require.ErrorIs(t, err, ErrRetryExhausted)
		require.ErrorIs(t, err, errBoom)
		var exhausted *RetryExhaustedError
		require.ErrorAs(t, err, &exhausted)
		require.Equal(t, 2, exhausted.Attempts)

		ts.AdvanceTimeBy(time.Minute)
		require.Equal(t, int32(3), attempts.Load())
		require.Equal(t, 1, rec.ErrCount())
	})

	t.Run("退避后成功", func(t *testing.T) {
		ts := NewTestScheduler()
		var attempts atomic.Int32
		rec := newRecorder[int32]()
		flaky(&attempts, 1, WithScheduler(ts)).RetryWithConstantBackoff(500*time.Millisecond, 3).Subscribe(rec)

		ts.AdvanceTimeBy(500 * time.Millisecond)
		rec.requireCompleted(t, []int32{2})
	})

	t.Run("取消订阅后不再重试", func(t *testing.T) {
		ts := NewTestScheduler()
		var attempts atomic.Int32
		d := flaky(&attempts, 10, WithScheduler(ts)).RetryWithConstantBackoff(time.Second, 5).Subscribe(newRecorder[int32]())

		d.Dispose()
		ts.AdvanceTimeBy(time.Minute)
		require.Equal(t, int32(1), attempts.Load())
	})
}

func TestRepeat(t *testing.T) {
	t.Parallel()

	t.Run("总共订阅n次", func(t *testing.T) {
		rec := newRecorder[int]()
		Just(1, 2).Repeat(3).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 2, 1, 2, 1, 2})
	})

	t.Run("n为0时立即完成", func(t *testing.T) {
		rec := newRecorder[int]()
		Just(1).Repeat(0).Subscribe(rec)
		rec.requireCompleted(t, nil)
	})

	t.Run("无限重复配合Take", func(t *testing.T) {
		rec := newRecorder[int]()
		Just(1, 2).Repeat(-1).Take(5).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 2, 1, 2, 1})
	})

	t.Run("错误不会重复", func(t *testing.T) {
		var subs atomic.Int32
		rec := newRecorder[int]()
		Defer(func() *Observable[int] {
			subs.Add(1)
			return Throw[int](errBoom)
		}).Repeat(3).Subscribe(rec)
		require.ErrorIs(t, rec.Err(), errBoom)
		require.Equal(t, int32(1), subs.Load())
	})
}

func TestErrorRecovery(t *testing.T) {
	t.Parallel()

	failing := func() *Observable[int] {
		return Just(1).ConcatWith(Throw[int](errBoom))
	}

	t.Run("OnErrorReturn", func(t *testing.T) {
		var seen error
		rec := newRecorder[int]()
		failing().OnErrorReturn(func(err error) int {
			seen = err
			return -1
		}).Subscribe(rec)
		rec.requireCompleted(t, []int{1, -1})
		require.ErrorIs(t, seen, errBoom)
	})

	t.Run("OnErrorReturnItem", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorReturnItem(0).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 0})
	})

	t.Run("OnErrorComplete", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorComplete().Subscribe(rec)
		rec.requireCompleted(t, []int{1})
	})

	t.Run("OnErrorResumeNext", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorResumeNext(Just(8, 9)).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 8, 9})
	})

	t.Run("备用源出错时传递错误", func(t *testing.T) {
		other := errors.New("fallback failed")
		rec := newRecorder[int]()
		failing().OnErrorResumeNext(Throw[int](other)).Subscribe(rec)
		require.Equal(t, []int{1}, rec.Values())
		require.ErrorIs(t, rec.Err(), other)
	})

	t.Run("OnErrorResumeWith按错误选择备用源", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorResumeWith(func(err error) *Observable[int] {
			if errors.Is(err, errBoom) {
				return Just(42)
			}
			return Empty[int]()
		}).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 42})
	})

	t.Run("选择器panic", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorResumeWith(func(error) *Observable[int] { panic("selector") }).Subscribe(rec)
		var perr *ProducerError
		require.ErrorAs(t, rec.Err(), &perr)
	})

	t.Run("选择器返回nil时以错误终止", func(t *testing.T) {
		rec := newRecorder[int]()
		failing().OnErrorResumeWith(func(error) *Observable[int] { return nil }).Subscribe(rec)
		require.Equal(t, []int{1}, rec.Values())
		require.ErrorIs(t, rec.Err(), errBoom)
		require.Contains(t, rec.Err().Error(), "nil")
	})

	t.Run("释放后取消备用源", func(t *testing.T) {
		fallback := NewPublishSubject[int]()
		d := failing().OnErrorResumeNext(fallback.Observable).Subscribe(newRecorder[int]())
		require.True(t, fallback.HasObservers())
		d.Dispose()
		require.False(t, fallback.HasObservers())
	})
}
