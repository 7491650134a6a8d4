package rxpipe

import (
	"cmp"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregation(t *testing.T) {
	t.Parallel()

	t.Run("Count", func(t *testing.T) {
		rec := newRecorder[int64]()
		Range(0, 7).Count().Subscribe(rec)
		rec.requireCompleted(t, []int64{7})

		empty := newRecorder[int64]()
		Empty[int]().Count().Subscribe(empty)
		empty.requireCompleted(t, []int64{0})
	})

	t.Run("Reduce", func(t *testing.T) {
		rec := newRecorder[string]()
		Reduce(Just(1, 2, 3), "", func(acc string, v int) string {
			return acc + string(rune('0'+v))
		}).Subscribe(rec)
		rec.requireCompleted(t, []string{"123"})
	})

	t.Run("All遇到不满足的元素立即结束", func(t *testing.T) {
		src := NewPublishSubject[int]()
		rec := newRecorder[bool]()
		src.All(func(v int) bool { return v > 0 }).Subscribe(rec)

		src.OnNext(1)
		require.False(t, rec.Terminated())
		src.OnNext(-1)
		rec.requireCompleted(t, []bool{false})
		require.False(t, src.HasObservers())

		all := newRecorder[bool]()
		Just(1, 2).All(func(v int) bool { return v > 0 }).Subscribe(all)
		all.requireCompleted(t, []bool{true})
	})

	t.Run("Any和Contains", func(t *testing.T) {
		rec := newRecorder[bool]()
		Just(1, 2, 3).Any(func(v int) bool { return v == 2 }).Subscribe(rec)
		rec.requireCompleted(t, []bool{true})

		missing := newRecorder[bool]()
		Contains(Just(1, 2, 3), 9).Subscribe(missing)
		missing.requireCompleted(t, []bool{false})
	})

	t.Run("IsEmpty", func(t *testing.T) {
		rec := newRecorder[bool]()
		Empty[int]().IsEmpty().Subscribe(rec)
		rec.requireCompleted(t, []bool{true})

		nonEmpty := newRecorder[bool]()
		Never[int]().StartWith(1).IsEmpty().Subscribe(nonEmpty)
		nonEmpty.requireCompleted(t, []bool{false})
	})

	t.Run("First Last ElementAt", func(t *testing.T) {
		first := newRecorder[int]()
		Range(10, 5).First().Subscribe(first)
		first.requireCompleted(t, []int{10})

		last := newRecorder[int]()
		Range(10, 5).Last().Subscribe(last)
		last.requireCompleted(t, []int{14})

		at := newRecorder[int]()
		Range(10, 5).ElementAt(2).Subscribe(at)
		at.requireCompleted(t, []int{12})

		missing := newRecorder[int]()
		Range(10, 5).ElementAt(5).Subscribe(missing)
		require.ErrorIs(t, missing.Err(), ErrNoElements)

		negative := newRecorder[int]()
		Just(1).ElementAt(-1).Subscribe(negative)
		require.ErrorIs(t, negative.Err(), ErrNoElements)
	})

	t.Run("空序列没有首尾元素", func(t *testing.T) {
		first := newRecorder[int]()
		Empty[int]().First().Subscribe(first)
		require.ErrorIs(t, first.Err(), ErrNoElements)

		last := newRecorder[int]()
		Empty[int]().Last().Subscribe(last)
		require.ErrorIs(t, last.Err(), ErrNoElements)
	})

	t.Run("Min和Max", func(t *testing.T) {
		lo := newRecorder[int]()
		Min(Just(3, 1, 2)).Subscribe(lo)
		lo.requireCompleted(t, []int{1})

		hi := newRecorder[string]()
		Max(Just("b", "c", "a")).Subscribe(hi)
		hi.requireCompleted(t, []string{"c"})

		empty := newRecorder[int]()
		Max(Empty[int]()).Subscribe(empty)
		require.ErrorIs(t, empty.Err(), ErrNoElements)
	})

	t.Run("累积函数panic", func(t *testing.T) {
		rec := newRecorder[int]()
		Reduce(Just(1), 0, func(int, int) int { panic("acc") }).Subscribe(rec)
		var perr *ProducerError
		require.ErrorAs(t, rec.Err(), &perr)
	})

	t.Run("上游错误直接传递", func(t *testing.T) {
		rec := newRecorder[int64]()
		Throw[int](errBoom).Count().Subscribe(rec)
		require.ErrorIs(t, rec.Err(), errBoom)
		require.Empty(t, rec.Values())
	})
}

func TestUtilityOperators(t *testing.T) {
	t.Parallel()

	t.Run("ToList", func(t *testing.T) {
		rec := newRecorder[[]int]()
		ToList(Just(1, 2)).Subscribe(rec)
		rec.requireCompleted(t, [][]int{{1, 2}})

		empty := newRecorder[[]int]()
		ToList(Empty[int]()).Subscribe(empty)
		require.Equal(t, [][]int{{}}, empty.Values())
	})

	t.Run("ToMap后到的覆盖先到的", func(t *testing.T) {
		rec := newRecorder[map[int]string]()
		ToMap(Just("a", "bb", "cc"), func(s string) int { return len(s) }).Subscribe(rec)
		rec.requireCompleted(t, []map[int]string{{1: "a", 2: "cc"}})
	})

	t.Run("ToMapWithValueSelector", func(t *testing.T) {
		rec := newRecorder[map[string]int]()
		ToMapWithValueSelector(Just("a", "bb"), func(s string) string { return s }, func(s string) int { return len(s) }).Subscribe(rec)
		rec.requireCompleted(t, []map[string]int{{"a": 1, "bb": 2}})
	})

	t.Run("ToMultimap保持组内顺序", func(t *testing.T) {
		rec := newRecorder[map[int][]string]()
		ToMultimap(Just("a", "bb", "c", "dd"), func(s string) int { return len(s) }).Subscribe(rec)
		rec.requireCompleted(t, []map[int][]string{{1: {"a", "c"}, 2: {"bb", "dd"}}})
	})

	t.Run("Collect", func(t *testing.T) {
		rec := newRecorder[*strings.Builder]()
		Collect(Just("x", "y", "z"), func() *strings.Builder { return &strings.Builder{} }, func(b *strings.Builder, s string) {
			b.WriteString(s)
		}).Subscribe(rec)
		require.Equal(t, 1, rec.Completed())
		require.Equal(t, "xyz", rec.Values()[0].String())

		failed := newRecorder[[]int]()
		Collect(Just(1), func() []int { panic("factory") }, func([]int, int) {}).Subscribe(failed)
		var perr *ProducerError
		require.ErrorAs(t, failed.Err(), &perr)
	})

	t.Run("ToSortedList稳定排序", func(t *testing.T) {
		type entry struct {
			key, seq int
		}
		rec := newRecorder[[]entry]()
		ToSortedList(Just(entry{2, 0}, entry{1, 1}, entry{2, 2}, entry{1, 3}), func(a, b entry) int {
			return cmp.Compare(a.key, b.key)
		}).Subscribe(rec)
		rec.requireCompleted(t, [][]entry{{{1, 1}, {1, 3}, {2, 0}, {2, 2}}})

		empty := newRecorder[[]int]()
		ToSortedList(Empty[int](), cmp.Compare[int]).Subscribe(empty)
		require.Equal(t, [][]int{{}}, empty.Values())
	})

	t.Run("Sorted逐个发射并可被Take截断", func(t *testing.T) {
		rec := newRecorder[int]()
		Sorted(Just(3, 1, 2), cmp.Compare[int]).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 2, 3})

		top := newRecorder[int]()
		Sorted(Just(5, 4, 9, 1), func(a, b int) int { return cmp.Compare(b, a) }).Take(2).Subscribe(top)
		top.requireCompleted(t, []int{9, 5})
	})

	t.Run("比较函数panic", func(t *testing.T) {
		rec := newRecorder[int]()
		Sorted(Just(2, 1), func(int, int) int { panic("cmp") }).Subscribe(rec)
		var perr *ProducerError
		require.ErrorAs(t, rec.Err(), &perr)
	})

	t.Run("Cast", func(t *testing.T) {
		rec := newRecorder[string]()
		Cast[any, string](Just[any]("a", "b")).Subscribe(rec)
		rec.requireCompleted(t, []string{"a", "b"})

		bad := newRecorder[string]()
		Cast[any, string](Just[any]("a", 1, "c")).Subscribe(bad)
		require.Equal(t, []string{"a"}, bad.Values())
		require.ErrorIs(t, bad.Err(), ErrInvalidCast)

		errs := newRecorder[error]()
		Cast[any, error](Just[any](errBoom)).Subscribe(errs)
		errs.requireCompleted(t, []error{errBoom})
	})

	t.Run("FromAction不发射元素", func(t *testing.T) {
		var ran bool
		rec := newRecorder[int]()
		FromAction[int](func() error {
			ran = true
			return nil
		}).Subscribe(rec)
		require.True(t, ran)
		rec.requireCompleted(t, nil)

		failed := newRecorder[int]()
		FromAction[int](func() error { return errBoom }).Subscribe(failed)
		require.ErrorIs(t, failed.Err(), errBoom)
	})

	t.Run("IgnoreElements", func(t *testing.T) {
		rec := newRecorder[int]()
		Just(1, 2).IgnoreElements().Subscribe(rec)
		rec.requireCompleted(t, nil)
	})

	t.Run("DefaultIfEmpty和SwitchIfEmpty", func(t *testing.T) {
		rec := newRecorder[int]()
		Empty[int]().DefaultIfEmpty(7).Subscribe(rec)
		rec.requireCompleted(t, []int{7})

		kept := newRecorder[int]()
		Just(1).DefaultIfEmpty(7).Subscribe(kept)
		kept.requireCompleted(t, []int{1})

		switched := newRecorder[int]()
		Empty[int]().SwitchIfEmpty(Just(8, 9)).Subscribe(switched)
		switched.requireCompleted(t, []int{8, 9})
	})
}

func TestBlockingOperators(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("ToSlice", func(t *testing.T) {
		values, err := Range(0, 3).ToSlice(ctx)
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2}, values)

		_, err = Throw[int](errBoom).ToSlice(ctx)
		require.ErrorIs(t, err, errBoom)
	})

	t.Run("BlockingFirst和BlockingLast", func(t *testing.T) {
		first, err := Just(4, 5, 6).BlockingFirst(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, first)

		last, err := Just(4, 5, 6).BlockingLast(ctx)
		require.NoError(t, err)
		require.Equal(t, 6, last)

		_, err = Empty[int]().BlockingFirst(ctx)
		require.ErrorIs(t, err, ErrNoElements)
	})

	t.Run("BlockingForEach", func(t *testing.T) {
		sum := 0
		require.NoError(t, Range(1, 4).BlockingForEach(ctx, func(v int) { sum += v }))
		require.Equal(t, 10, sum)
	})

	t.Run("ctx取消时返回并取消订阅", func(t *testing.T) {
		var disposed bool
		done := make(chan struct{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := Never[int]().DoOnDispose(func() {
			disposed = true
			close(done)
		}).ToSlice(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		<-done
		require.True(t, disposed)
	})

	t.Run("ToChannel", func(t *testing.T) {
		var got []int
		for item := range Range(0, 50).ToChannel(ctx) {
			require.False(t, item.IsError())
			got = append(got, item.Value)
		}
		require.Len(t, got, 50)
		require.Equal(t, 49, got[49])
	})

	t.Run("ToChannel传递错误项", func(t *testing.T) {
		var items []Item[int]
		for item := range Just(1).ConcatWith(Throw[int](errBoom)).ToChannel(ctx) {
			items = append(items, item)
		}
		require.Len(t, items, 2)
		require.ErrorIs(t, items[1].Err, errBoom)
	})

	t.Run("ToChannel在ctx取消时关闭", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := Never[int](WithBufferSize(0)).ToChannel(ctx)
		cancel()

		select {
		case _, ok := <-ch:
			require.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("channel not closed after cancel")
		}
	})
}
