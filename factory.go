// Factory functions for rxpipe
// 工厂函数：同步源在订阅者的goroutine上发射，定时源由调度器驱动
package rxpipe

import (
	"time"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// Create 用回调创建Observable，每次订阅调用一次emit
// emit中的panic会被转换为ProducerError
func Create[T any](emit func(e Emitter[T]), options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		emit(sub)
	})
}

// Just 从给定的值创建Observable
func Just[T any](values ...T) *Observable[T] {
	return FromSlice(values)
}

// FromSlice 从切片创建Observable，每个订阅者从头开始读取
func FromSlice[T any](items []T, options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		for _, v := range items {
			if sub.IsDisposed() {
				return
			}
			sub.OnNext(v)
		}
		sub.OnComplete()
	})
}

// Range 发射[start, start+count)区间的整数
func Range(start, count int, options ...Option) *Observable[int] {
	return newObservable(newConfig(options), func(sub *subscriber[int]) {
		for i := 0; i < count; i++ {
			if sub.IsDisposed() {
				return
			}
			sub.OnNext(start + i)
		}
		sub.OnComplete()
	})
}

// Empty 创建一个空的Observable，立即完成
func Empty[T any](options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		sub.OnComplete()
	})
}

// Never 创建一个永不发射任何信号的Observable
func Never[T any](options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(*subscriber[T]) {})
}

// Throw 创建一个立即发射错误的Observable
func Throw[T any](err error, options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		sub.OnError(err)
	})
}

// Defer 每次订阅时才调用factory创建真正的Observable
func Defer[T any](factory func() *Observable[T], options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		var src *Observable[T]
		if err := safeExecute(func() { src = factory() }); err != nil {
			sub.OnError(err)
			return
		}
		src.Subscribe(forwardObserver[T]{down: sub})
	})
}

// FromFunc 订阅时调用fn，发射其结果后完成
func FromFunc[T any](fn func() (T, error), options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		var (
			v   T
			err error
		)
		if perr := safeExecute(func() { v, err = fn() }); perr != nil {
			err = perr
		}
		if err != nil {
			sub.OnError(err)
			return
		}
		sub.OnNext(v)
		sub.OnComplete()
	})
}

// FromAction 订阅时执行action，不发射元素，action返回错误时以该错误终止
func FromAction[T any](action func() error, options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		var err error
		if perr := safeExecute(func() { err = action() }); perr != nil {
			err = perr
		}
		if err != nil {
			sub.OnError(err)
			return
		}
		sub.OnComplete()
	})
}

// ============================================================================
// 从数据源创建
// ============================================================================

// FromChannel 从channel读取数据，channel关闭时完成
// 取消订阅后读取goroutine立即退出
func FromChannel[T any](ch <-chan T, options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		go func() {
			for {
				select {
				case <-sub.Done():
					return
				case v, ok := <-ch:
					if !ok {
						sub.protect(sub.OnComplete)
						return
					}
					if !sub.protect(func() { sub.OnNext(v) }) {
						return
					}
				}
			}
		}()
	})
}

// FromItemChannel 从Item channel读取数据，遇到错误项时以OnError终止
func FromItemChannel[T any](ch <-chan Item[T], options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		go func() {
			for {
				select {
				case <-sub.Done():
					return
				case item, ok := <-ch:
					if !ok {
						sub.protect(sub.OnComplete)
						return
					}
					if item.IsError() {
						sub.protect(func() { sub.OnError(item.Err) })
						return
					}
					if !sub.protect(func() { sub.OnNext(item.Value) }) {
						return
					}
				}
			}
		}()
	})
}

// Generate 拉取式生产者：只在订阅有效时调用next，第index次调用返回第index个元素
// next返回more=false时完成，返回错误时终止
func Generate[T any](next func(index int) (value T, more bool, err error), options ...Option) *Observable[T] {
	return newObservable(newConfig(options), func(sub *subscriber[T]) {
		for i := 0; !sub.IsDisposed(); i++ {
			var (
				v    T
				more bool
				err  error
			)
			if perr := safeExecute(func() { v, more, err = next(i) }); perr != nil {
				err = perr
			}
			if err != nil {
				sub.OnError(err)
				return
			}
			if !more {
				sub.OnComplete()
				return
			}
			sub.OnNext(v)
		}
	})
}

// ============================================================================
// 定时源
// ============================================================================

// Interval 每隔period发射一个递增的序号，从0开始
// 按绝对到期时间重新调度，不会累积漂移
func Interval(period time.Duration, options ...Option) *Observable[int64] {
	config := newConfig(options)
	return newObservable(config, func(sub *subscriber[int64]) {
		scheduler := config.scheduler()
		w := scheduler.CreateWorker()
		sub.Add(w)

		start := scheduler.Now()
		var (
			n    int64
			tick func()
		)
		tick = func() {
			if sub.IsDisposed() || !sub.protect(func() { sub.OnNext(n) }) {
				return
			}
			n++
			delay := start.Add(time.Duration(n+1) * period).Sub(scheduler.Now())
			if _, err := w.ScheduleWithDelay(tick, delay); err != nil && !sub.IsDisposed() {
				sub.OnError(err)
			}
		}
		if _, err := w.ScheduleWithDelay(tick, period); err != nil {
			sub.OnError(err)
		}
	})
}

// Timer 延迟delay后发射0并完成
func Timer(delay time.Duration, options ...Option) *Observable[int64] {
	config := newConfig(options)
	return newObservable(config, func(sub *subscriber[int64]) {
		w := config.scheduler().CreateWorker()
		sub.Add(w)

		if _, err := w.ScheduleWithDelay(func() {
			if sub.protect(func() { sub.OnNext(0) }) {
				sub.protect(sub.OnComplete)
			}
		}, delay); err != nil {
			sub.OnError(err)
		}
	})
}
