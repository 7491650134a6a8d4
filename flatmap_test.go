package rxpipe

import (
	"context"
	"slices"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestFlatMap(t *testing.T) {
	t.Parallel()

	t.Run("合并所有内部流", func(t *testing.T) {
		rec := newRecorder[int]()
		FlatMap(Just(1, 2, 3), func(v int) *Observable[int] {
			return Just(v, v*10)
		}).Subscribe(rec)
		rec.requireCompleted(t, []int{1, 10, 2, 20, 3, 30})
	})

	t.Run("外部完成后等待内部流", func(t *testing.T) {
		inner := NewPublishSubject[int]()
		rec := newRecorder[int]()
		FlatMap(Just(1), func(int) *Observable[int] { return inner.Observable }).Subscribe(rec)

		require.False(t, rec.Terminated())
		inner.OnNext(5)
		inner.OnComplete()
		rec.requireCompleted(t, []int{5})
	})

	t.Run("内部流出错时取消外部流", func(t *testing.T) {
		outer := NewPublishSubject[int]()
		rec := newRecorder[int]()
		FlatMap(outer.Observable, func(v int) *Observable[int] {
			if v == 2 {
				return Throw[int](errBoom)
			}
			return Just(v)
		}).Subscribe(rec)

		outer.OnNext(1)
		outer.OnNext(2)
		require.ErrorIs(t, rec.Err(), errBoom)
		require.False(t, outer.HasObservers())
		require.Equal(t, []int{1}, rec.Values())
	})

	t.Run("大量同步内部流不会栈溢出", func(t *testing.T) {
		count, err := FlatMap(Range(0, 10000), func(v int) *Observable[int] {
			return Just(v)
		}).Count().BlockingFirst(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(10000), count)
	})

	t.Run("跨goroutine的内部流", func(t *testing.T) {
		s := NewComputationScheduler(4, slogt.New(t))
		defer s.Shutdown()

		values, err := FlatMap(Range(0, 100), func(v int) *Observable[int] {
			return Just(v).SubscribeOn(s)
		}).ToSlice(context.Background())
		require.NoError(t, err)
		slices.Sort(values)
		require.Len(t, values, 100)
		require.Equal(t, 0, values[0])
		require.Equal(t, 99, values[99])
	})

	t.Run("FlatMapWithCombiner", func(t *testing.T) {
		rec := newRecorder[string]()
		FlatMapWithCombiner(Just("a", "b"), func(s string) *Observable[int] {
			return Just(1, 2)
		}, func(s string, n int) string {
			return s + string(rune('0'+n))
		}).Subscribe(rec)
		rec.requireCompleted(t, []string{"a1", "a2", "b1", "b2"})
	})
}

func TestFlatMapWithConcurrency(t *testing.T) {
	t.Parallel()

	inners := make([]*PublishSubject[int], 5)
	for i := range inners {
		inners[i] = NewPublishSubject[int]()
	}
	subscribed := func() []bool {
		out := make([]bool, len(inners))
		for i, s := range inners {
			out[i] = s.HasObservers()
		}
		return out
	}

	rec := newRecorder[int]()
	FlatMapWithConcurrency(Range(0, 5), func(i int) *Observable[int] {
		return inners[i].Observable
	}, 2).Subscribe(rec)

	require.Equal(t, []bool{true, true, false, false, false}, subscribed())

	inners[1].OnNext(1)
	inners[1].OnComplete()
	require.Equal(t, []bool{true, false, true, false, false}, subscribed())

	inners[0].OnComplete()
	inners[2].OnComplete()
	require.Equal(t, []bool{false, false, false, true, true}, subscribed())

	inners[3].OnComplete()
	require.False(t, rec.Terminated())
	inners[4].OnNext(4)
	inners[4].OnComplete()

	rec.requireCompleted(t, []int{1, 4})
}

func TestConcatMap(t *testing.T) {
	t.Parallel()

	t.Run("保持源顺序", func(t *testing.T) {
		s := NewComputationScheduler(4, slogt.New(t))
		defer s.Shutdown()

		values, err := ConcatMap(Range(0, 20), func(v int) *Observable[int] {
			return Just(v, v).SubscribeOn(s)
		}).ToSlice(context.Background())
		require.NoError(t, err)

		want := make([]int, 0, 40)
		for i := range 20 {
			want = append(want, i, i)
		}
		require.Equal(t, want, values)
	})

	t.Run("大量同步内部流不会栈溢出", func(t *testing.T) {
		count, err := ConcatMap(Range(0, 10000), func(v int) *Observable[int] {
			return Just(v)
		}).Count().BlockingFirst(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(10000), count)
	})

	t.Run("mapper panic", func(t *testing.T) {
		rec := newRecorder[int]()
		ConcatMap(Just(1), func(int) *Observable[int] { panic("mapper") }).Subscribe(rec)
		var perr *ProducerError
		require.ErrorAs(t, rec.Err(), &perr)
	})
}

func TestGroupBy(t *testing.T) {
	t.Parallel()

	parity := func(v int) string {
		if v%2 == 0 {
			return "even"
		}
		return "odd"
	}

	t.Run("按键分组", func(t *testing.T) {
		got := map[string][]int{}
		rec := newRecorder[*GroupedObservable[string, int]]()
		GroupBy(Range(1, 6), parity).
			DoOnNext(func(g *GroupedObservable[string, int]) {
				g.SubscribeFunc(func(v int) { got[g.Key] = append(got[g.Key], v) }, nil, nil)
			}).
			Subscribe(rec)

		require.Len(t, rec.Values(), 2)
		require.Equal(t, "odd", rec.Values()[0].Key)
		require.Equal(t, []int{1, 3, 5}, got["odd"])
		require.Equal(t, []int{2, 4, 6}, got["even"])
	})

	t.Run("订阅之前的元素被缓存", func(t *testing.T) {
		var groups []*GroupedObservable[string, int]
		GroupBy(Just(1, 2, 3), parity).SubscribeFunc(func(g *GroupedObservable[string, int]) {
			groups = append(groups, g)
		}, nil, nil)

		require.Len(t, groups, 2)
		odd := newRecorder[int]()
		groups[0].Subscribe(odd)
		odd.requireCompleted(t, []int{1, 3})
	})

	t.Run("分组只能订阅一次", func(t *testing.T) {
		var group *GroupedObservable[string, int]
		GroupBy(Just(1), parity).SubscribeFunc(func(g *GroupedObservable[string, int]) { group = g }, nil, nil)

		first, second := newRecorder[int](), newRecorder[int]()
		group.Subscribe(first)
		group.Subscribe(second)
		first.requireCompleted(t, []int{1})
		require.ErrorIs(t, second.Err(), ErrGroupAlreadySubscribed)
	})

	t.Run("外部和所有分组都释放后才取消上游", func(t *testing.T) {
		src := NewPublishSubject[int]()
		var group *GroupedObservable[string, int]
		outer := GroupBy(src.Observable, parity).SubscribeFunc(func(g *GroupedObservable[string, int]) { group = g }, nil, nil)

		src.OnNext(1)
		inner := group.Subscribe(newRecorder[int]())

		outer.Dispose()
		require.True(t, src.HasObservers())
		inner.Dispose()
		require.False(t, src.HasObservers())
	})

	t.Run("上游错误传给所有分组", func(t *testing.T) {
		src := NewPublishSubject[int]()
		groupRec := newRecorder[int]()
		rec := newRecorder[*GroupedObservable[string, int]]()
		GroupBy(src.Observable, parity).
			DoOnNext(func(g *GroupedObservable[string, int]) { g.Subscribe(groupRec) }).
			Subscribe(rec)

		src.OnNext(2)
		src.OnError(errBoom)
		require.ErrorIs(t, rec.Err(), errBoom)
		require.Equal(t, []int{2}, groupRec.Values())
		require.ErrorIs(t, groupRec.Err(), errBoom)
	})
}
