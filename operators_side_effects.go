// Side effect operators for rxpipe
// 副作用操作符实现，包含DoOnNext, DoOnError, DoOnComplete等
package rxpipe

import (
	"log/slog"
	"sync/atomic"
)

// ============================================================================
// 副作用操作符实现
// ============================================================================

// DoOnNext 在每个值发射前执行副作用操作
func (o *Observable[T]) DoOnNext(action func(T)) *Observable[T] {
	return o.tap(action, nil, nil)
}

// DoOnError 在发生错误时执行副作用操作
func (o *Observable[T]) DoOnError(action func(error)) *Observable[T] {
	return o.tap(nil, action, nil)
}

// DoOnComplete 在完成时执行副作用操作
func (o *Observable[T]) DoOnComplete(action func()) *Observable[T] {
	return o.tap(nil, nil, action)
}

// Tap 同时观察三种信号
func (o *Observable[T]) Tap(onNext func(T), onError func(error), onComplete func()) *Observable[T] {
	return o.tap(onNext, onError, onComplete)
}

// DoOnEach 把每个信号物化为Item后执行副作用操作，完成信号不会触发
func (o *Observable[T]) DoOnEach(action func(Item[T])) *Observable[T] {
	return o.tap(
		func(v T) { action(Item[T]{Value: v}) },
		func(err error) { action(Item[T]{Err: err}) },
		nil,
	)
}

// DoOnTerminate 在错误或完成信号投递前执行
func (o *Observable[T]) DoOnTerminate(action func()) *Observable[T] {
	return o.tap(nil, func(error) { action() }, action)
}

func (o *Observable[T]) tap(onNext func(T), onError func(error), onComplete func()) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = func(v T) {
			if onNext != nil {
				if err := safeExecute(func() { onNext(v) }); err != nil {
					op.upstream.Dispose()
					sub.OnError(err)
					return
				}
			}
			sub.OnNext(v)
		}
		op.onError = func(err error) {
			if onError != nil {
				if perr := safeExecute(func() { onError(err) }); perr != nil {
					err = perr
				}
			}
			sub.OnError(err)
		}
		op.onComplete = func() {
			if onComplete != nil {
				if err := safeExecute(onComplete); err != nil {
					sub.OnError(err)
					return
				}
			}
			sub.OnComplete()
		}
		o.Subscribe(op)
	})
}

// DoOnSubscribe 在订阅上游之前执行
func (o *Observable[T]) DoOnSubscribe(action func()) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		if err := safeExecute(action); err != nil {
			sub.OnError(err)
			return
		}
		o.Subscribe(forwardObserver[T]{down: sub})
	})
}

// DoOnDispose 在下游主动取消订阅时执行，正常终止不会触发
func (o *Observable[T]) DoOnDispose(action func()) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		var terminated atomic.Bool
		sub.Add(NewDisposable(func() {
			if !terminated.Load() {
				action()
			}
		}))

		op := &opObserver[T, T]{down: sub}
		op.onNext = sub.OnNext
		op.onError = func(err error) {
			terminated.Store(true)
			sub.OnError(err)
		}
		op.onComplete = func() {
			terminated.Store(true)
			sub.OnComplete()
		}
		o.Subscribe(op)
	})
}

// DoFinally 在终止信号投递之后或取消订阅时执行一次
func (o *Observable[T]) DoFinally(action func()) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		sub.Add(NewDisposable(action))
		o.Subscribe(forwardObserver[T]{down: sub})
	})
}

// Log 用配置的日志记录器在Debug级别记录每个信号
func (o *Observable[T]) Log(msg string) *Observable[T] {
	return o.LogWith(o.config.Logger, msg)
}

// LogWith 用给定的日志记录器记录每个信号
func (o *Observable[T]) LogWith(log *slog.Logger, msg string) *Observable[T] {
	log = orDiscard(log)
	return o.tap(
		func(v T) { log.Debug(msg, "signal", "next", "value", v) },
		func(err error) { log.Debug(msg, "signal", "error", "err", err) },
		func() { log.Debug(msg, "signal", "complete") },
	)
}
