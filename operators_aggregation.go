// Aggregation operators for rxpipe
// 聚合操作符：源完成后发射一个结果值
package rxpipe

import (
	"cmp"
	"fmt"
)

// ============================================================================
// 聚合操作符实现
// ============================================================================

// aggregate 累积所有元素，源完成时由finish决定发射的结果
// step返回true时提前结束并取消上游
func aggregate[T, R any](src *Observable[T], step func(v T) (stop bool), finish func(sub *subscriber[R])) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		op := &opObserver[T, R]{down: sub}
		op.onNext = func(v T) {
			var stop bool
			if err := safeExecute(func() { stop = step(v) }); err != nil {
				op.upstream.Dispose()
				sub.OnError(err)
				return
			}
			if stop {
				op.upstream.Dispose()
				finish(sub)
			}
		}
		op.onComplete = func() { finish(sub) }
		src.Subscribe(op)
	})
}

// emitOne 发射单个结果并完成
func emitOne[R any](sub *subscriber[R], v R) {
	sub.OnNext(v)
	sub.OnComplete()
}

// Count 统计元素数量
func (o *Observable[T]) Count() *Observable[int64] {
	return newObservable(o.config, func(sub *subscriber[int64]) {
		var count int64
		aggregate(o, func(T) bool {
			count++
			return false
		}, func(sub *subscriber[int64]) {
			emitOne(sub, count)
		}).subscribeActual(sub)
	})
}

// Reduce 用accumulator从seed开始累积，源完成时发射最终值
func Reduce[T, R any](src *Observable[T], seed R, accumulator Accumulator[T, R]) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		acc := seed
		aggregate(src, func(v T) bool {
			acc = accumulator(acc, v)
			return false
		}, func(sub *subscriber[R]) {
			emitOne(sub, acc)
		}).subscribeActual(sub)
	})
}

// All 所有元素都满足谓词时发射true，遇到第一个不满足的元素立即发射false
func (o *Observable[T]) All(predicate Predicate[T]) *Observable[bool] {
	return newObservable(o.config, func(sub *subscriber[bool]) {
		result := true
		aggregate(o, func(v T) bool {
			if !predicate(v) {
				result = false
				return true
			}
			return false
		}, func(sub *subscriber[bool]) {
			emitOne(sub, result)
		}).subscribeActual(sub)
	})
}

// Any 任意元素满足谓词时立即发射true，源完成仍未满足时发射false
func (o *Observable[T]) Any(predicate Predicate[T]) *Observable[bool] {
	return newObservable(o.config, func(sub *subscriber[bool]) {
		result := false
		aggregate(o, func(v T) bool {
			if predicate(v) {
				result = true
				return true
			}
			return false
		}, func(sub *subscriber[bool]) {
			emitOne(sub, result)
		}).subscribeActual(sub)
	})
}

// Contains 源中出现target时发射true
func Contains[T comparable](src *Observable[T], target T) *Observable[bool] {
	return src.Any(func(v T) bool { return v == target })
}

// IsEmpty 源没有任何元素时发射true
func (o *Observable[T]) IsEmpty() *Observable[bool] {
	return newObservable(o.config, func(sub *subscriber[bool]) {
		empty := true
		aggregate(o, func(T) bool {
			empty = false
			return true
		}, func(sub *subscriber[bool]) {
			emitOne(sub, empty)
		}).subscribeActual(sub)
	})
}

// ============================================================================
// 元素选择
// ============================================================================

// First 发射第一个元素，源为空时以ErrNoElements终止
func (o *Observable[T]) First() *Observable[T] {
	return o.ElementAt(0)
}

// Last 发射最后一个元素，源为空时以ErrNoElements终止
func (o *Observable[T]) Last() *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		var (
			last T
			has  bool
		)
		aggregate(o, func(v T) bool {
			last, has = v, true
			return false
		}, func(sub *subscriber[T]) {
			if !has {
				sub.OnError(ErrNoElements)
				return
			}
			emitOne(sub, last)
		}).subscribeActual(sub)
	})
}

// ElementAt 发射第index个元素，不存在时以ErrNoElements终止
func (o *Observable[T]) ElementAt(index int) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		if index < 0 {
			sub.OnError(fmt.Errorf("element index %d out of range: %w", index, ErrNoElements))
			return
		}

		var (
			found T
			has   bool
			i     int
		)
		aggregate(o, func(v T) bool {
			if i == index {
				found, has = v, true
				return true
			}
			i++
			return false
		}, func(sub *subscriber[T]) {
			if !has {
				sub.OnError(ErrNoElements)
				return
			}
			emitOne(sub, found)
		}).subscribeActual(sub)
	})
}

// Min 发射最小元素，源为空时以ErrNoElements终止
func Min[T cmp.Ordered](src *Observable[T]) *Observable[T] {
	return extremum(src, func(a, b T) bool { return b < a })
}

// Max 发射最大元素，源为空时以ErrNoElements终止
func Max[T cmp.Ordered](src *Observable[T]) *Observable[T] {
	return extremum(src, func(a, b T) bool { return b > a })
}

func extremum[T any](src *Observable[T], better func(current, candidate T) bool) *Observable[T] {
	return newObservable(src.config, func(sub *subscriber[T]) {
		var (
			best T
			has  bool
		)
		aggregate(src, func(v T) bool {
			if !has || better(best, v) {
				best, has = v, true
			}
			return false
		}, func(sub *subscriber[T]) {
			if !has {
				sub.OnError(ErrNoElements)
				return
			}
			emitOne(sub, best)
		}).subscribeActual(sub)
	})
}
