// Utility operators for rxpipe
// 工具操作符：收集为集合、排序、类型转换、空序列处理
package rxpipe

import (
	"fmt"
	"slices"
)

// ============================================================================
// 收集操作符
// ============================================================================

// ToList 源完成时发射所有元素组成的切片
func ToList[T any](src *Observable[T]) *Observable[[]T] {
	return newObservable(src.config, func(sub *subscriber[[]T]) {
		var items []T
		aggregate(src, func(v T) bool {
			items = append(items, v)
			return false
		}, func(sub *subscriber[[]T]) {
			if items == nil {
				items = []T{}
			}
			emitOne(sub, items)
		}).subscribeActual(sub)
	})
}

// ToMap 源完成时发射按keySelector索引的map，键冲突时后到的元素覆盖先到的
func ToMap[T any, K comparable](src *Observable[T], keySelector KeySelector[T, K]) *Observable[map[K]T] {
	return ToMapWithValueSelector(src, keySelector, func(v T) T { return v })
}

// ToMapWithValueSelector 同ToMap，值由valueSelector决定
func ToMapWithValueSelector[T any, K comparable, V any](src *Observable[T], keySelector KeySelector[T, K], valueSelector func(T) V) *Observable[map[K]V] {
	return newObservable(src.config, func(sub *subscriber[map[K]V]) {
		m := make(map[K]V)
		aggregate(src, func(v T) bool {
			m[keySelector(v)] = valueSelector(v)
			return false
		}, func(sub *subscriber[map[K]V]) {
			emitOne(sub, m)
		}).subscribeActual(sub)
	})
}

// ToMultimap 源完成时发射按keySelector分组的map，组内保持到达顺序
func ToMultimap[T any, K comparable](src *Observable[T], keySelector KeySelector[T, K]) *Observable[map[K][]T] {
	return newObservable(src.config, func(sub *subscriber[map[K][]T]) {
		m := make(map[K][]T)
		aggregate(src, func(v T) bool {
			k := keySelector(v)
			m[k] = append(m[k], v)
			return false
		}, func(sub *subscriber[map[K][]T]) {
			emitOne(sub, m)
		}).subscribeActual(sub)
	})
}

// Collect 用factory创建容器，collector把每个元素放入容器，源完成时发射容器
func Collect[T, C any](src *Observable[T], factory func() C, collector func(container C, v T)) *Observable[C] {
	return newObservable(src.config, func(sub *subscriber[C]) {
		var container C
		if err := safeExecute(func() { container = factory() }); err != nil {
			sub.OnError(err)
			return
		}
		aggregate(src, func(v T) bool {
			collector(container, v)
			return false
		}, func(sub *subscriber[C]) {
			emitOne(sub, container)
		}).subscribeActual(sub)
	})
}

// ============================================================================
// 排序
// ============================================================================

// ToSortedList 源完成时发射按cmp稳定排序后的切片
func ToSortedList[T any](src *Observable[T], cmp func(a, b T) int) *Observable[[]T] {
	return newObservable(src.config, func(sub *subscriber[[]T]) {
		items := []T{}
		aggregate(src, func(v T) bool {
			items = append(items, v)
			return false
		}, func(sub *subscriber[[]T]) {
			if err := safeExecute(func() { slices.SortStableFunc(items, cmp) }); err != nil {
				sub.OnError(err)
				return
			}
			emitOne(sub, items)
		}).subscribeActual(sub)
	})
}

// Sorted 源完成后按cmp稳定排序，逐个重新发射
func Sorted[T any](src *Observable[T], cmp func(a, b T) int) *Observable[T] {
	return newObservable(src.config, func(sub *subscriber[T]) {
		var items []T
		aggregate(src, func(v T) bool {
			items = append(items, v)
			return false
		}, func(sub *subscriber[T]) {
			if err := safeExecute(func() { slices.SortStableFunc(items, cmp) }); err != nil {
				sub.OnError(err)
				return
			}
			for _, v := range items {
				if sub.IsDisposed() {
					return
				}
				sub.OnNext(v)
			}
			sub.OnComplete()
		}).subscribeActual(sub)
	})
}

// ============================================================================
// 类型转换
// ============================================================================

// Cast 把元素断言为R，失败时以ErrInvalidCast终止
func Cast[T, R any](src *Observable[T]) *Observable[R] {
	return Map(src, func(v T) (R, error) {
		r, ok := any(v).(R)
		if !ok {
			return r, fmt.Errorf("%w: unexpected %T", ErrInvalidCast, v)
		}
		return r, nil
	})
}

// ============================================================================
// 空序列处理
// ============================================================================

// IgnoreElements 丢弃所有元素，只保留终止信号
func (o *Observable[T]) IgnoreElements() *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(T) {}
		o.Subscribe(op)
	})
}

// DefaultIfEmpty 源为空时发射defaultValue
func (o *Observable[T]) DefaultIfEmpty(defaultValue T) *Observable[T] {
	return o.SwitchIfEmpty(Just(defaultValue))
}

// SwitchIfEmpty 源为空时切换到other
func (o *Observable[T]) SwitchIfEmpty(other *Observable[T]) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		empty := true
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			empty = false
			sub.OnNext(v)
		}
		op.onComplete = func() {
			if !empty {
				sub.OnComplete()
				return
			}
			other.Subscribe(forwardObserver[T]{down: sub})
		}
		o.Subscribe(op)
	})
}
