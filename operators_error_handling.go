// Error handling operators for rxpipe
// 错误处理操作符：重试、重复、错误恢复
package rxpipe

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ============================================================================
// 重新订阅
// ============================================================================

// resubscriber 终止信号到来时决定是否重新订阅源
// 同步源的重新订阅通过工作计数循环展开，不会递归
type resubscriber[T any] struct {
	src    *Observable[T]
	down   *subscriber[T]
	serial SerialDisposable
	loop   drainLoop

	// onError 决定错误的去向，为nil时直接向下游传递
	onError func(err error) retryDecision
	// onComplete 返回true时重新订阅，为nil时直接完成
	onComplete func() bool
	// onNext 每个元素投递前调用
	onNext func()
}

func newResubscriber[T any](src *Observable[T], down *subscriber[T]) *resubscriber[T] {
	r := &resubscriber[T]{src: src, down: down}
	down.Add(&r.serial)
	return r
}

func (r *resubscriber[T]) subscribeNext() {
	r.loop.run(func() {
		if r.down.IsDisposed() {
			return
		}
		r.src.Subscribe(&resubscribeObserver[T]{parent: r})
	})
}

// retryDecision 出错后的处理方式
type retryDecision int

const (
	// propagateError 把错误传给下游
	propagateError retryDecision = iota
	// resubscribeNow 立即重新订阅
	resubscribeNow
	// errorHandled 钩子已经自行处理（延迟重试或发出了替代错误）
	errorHandled
)

type resubscribeObserver[T any] struct {
	parent *resubscriber[T]
}

func (o *resubscribeObserver[T]) OnSubscribe(d Disposable) {
	o.parent.serial.Set(d)
}

func (o *resubscribeObserver[T]) OnNext(value T) {
	if o.parent.onNext != nil {
		o.parent.onNext()
	}
	o.parent.down.OnNext(value)
}

func (o *resubscribeObserver[T]) OnError(err error) {
	decision := propagateError
	if o.parent.onError != nil {
		decision = o.parent.onError(err)
	}
	switch decision {
	case resubscribeNow:
		o.parent.subscribeNext()
	case errorHandled:
	default:
		o.parent.down.OnError(err)
	}
}

func (o *resubscribeObserver[T]) OnComplete() {
	if o.parent.onComplete != nil && o.parent.onComplete() {
		o.parent.subscribeNext()
		return
	}
	o.parent.down.OnComplete()
}

// ============================================================================
// 重试操作符
// ============================================================================

// Retry 出错时重新订阅，最多重试n次；n<0表示无限重试
// 之前已经发射的元素不会撤回，重试后的元素继续追加
func (o *Observable[T]) Retry(n int) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		attempts := 0
		r := newResubscriber(o, sub)
		r.onError = func(error) retryDecision {
			if n >= 0 && attempts >= n {
				return propagateError
			}
			attempts++
			return resubscribeNow
		}
		r.subscribeNext()
	})
}

// RetryWhile 出错时调用predicate决定是否重试，attempt从1开始
func (o *Observable[T]) RetryWhile(predicate func(attempt int, err error) bool) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		attempt := 0
		r := newResubscriber(o, sub)
		r.onError = func(err error) retryDecision {
			attempt++
			retry, perr := tryApply(func(err error) bool { return predicate(attempt, err) }, err)
			if perr != nil {
				sub.OnError(perr)
				return errorHandled
			}
			if retry {
				return resubscribeNow
			}
			return propagateError
		}
		r.subscribeNext()
	})
}

// RetryWithBackoff 出错后按退避策略延迟重新订阅
// 每次订阅调用一次factory；收到元素时重置退避；策略返回backoff.Stop时以RetryExhaustedError终止
func (o *Observable[T]) RetryWithBackoff(factory func() backoff.BackOff) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		policy := factory()
		policy.Reset()

		w := o.config.scheduler().CreateWorker()
		sub.Add(w)

		attempts := 0
		r := newResubscriber(o, sub)
		r.onNext = func() {
			if attempts > 0 {
				attempts = 0
				policy.Reset()
			}
		}
		r.onError = func(err error) retryDecision {
			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				sub.OnError(&RetryExhaustedError{Attempts: attempts, Cause: err})
				return errorHandled
			}
			attempts++
			if _, serr := w.ScheduleWithDelay(r.subscribeNext, delay); serr != nil {
				sub.OnError(serr)
			}
			return errorHandled
		}
		r.subscribeNext()
	})
}

// RetryWithConstantBackoff 固定间隔重试，最多maxRetries次
func (o *Observable[T]) RetryWithConstantBackoff(interval time.Duration, maxRetries uint64) *Observable[T] {
	return o.RetryWithBackoff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries)
	})
}

// ============================================================================
// 重复操作符
// ============================================================================

// Repeat 源完成后重新订阅，总共订阅n次；n<0表示无限重复
func (o *Observable[T]) Repeat(n int) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		if n == 0 {
			sub.OnComplete()
			return
		}

		subscriptions := 1
		r := newResubscriber(o, sub)
		r.onComplete = func() bool {
			if n >= 0 && subscriptions >= n {
				return false
			}
			subscriptions++
			return true
		}
		r.subscribeNext()
	})
}

// ============================================================================
// 错误恢复操作符
// ============================================================================

// OnErrorReturn 出错时发射fn返回的值然后完成
func (o *Observable[T]) OnErrorReturn(fn func(err error) T) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = sub.OnNext
		op.onError = func(err error) {
			v, perr := tryApply(fn, err)
			if perr != nil {
				sub.OnError(perr)
				return
			}
			sub.OnNext(v)
			sub.OnComplete()
		}
		o.Subscribe(op)
	})
}

// OnErrorReturnItem 出错时发射item然后完成
func (o *Observable[T]) OnErrorReturnItem(item T) *Observable[T] {
	return o.OnErrorReturn(func(error) T { return item })
}

// OnErrorComplete 出错时吞掉错误直接完成
func (o *Observable[T]) OnErrorComplete() *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		op := &opObserver[T, T]{down: sub}
		op.onNext = sub.OnNext
		op.onError = func(error) { sub.OnComplete() }
		o.Subscribe(op)
	})
}

// OnErrorResumeNext 出错时切换到fallback继续
func (o *Observable[T]) OnErrorResumeNext(fallback *Observable[T]) *Observable[T] {
	return o.OnErrorResumeWith(func(error) *Observable[T] { return fallback })
}

// OnErrorResumeWith 出错时用错误选择fallback继续
func (o *Observable[T]) OnErrorResumeWith(selector func(err error) *Observable[T]) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		var serial SerialDisposable
		sub.Add(&serial)

		o.Subscribe(&resumeObserver[T]{down: sub, serial: &serial, selector: selector})
	})
}

type resumeObserver[T any] struct {
	down     *subscriber[T]
	serial   *SerialDisposable
	selector func(err error) *Observable[T]
	resumed  bool
}

func (o *resumeObserver[T]) OnSubscribe(d Disposable) { o.serial.Set(d) }
func (o *resumeObserver[T]) OnNext(value T)           { o.down.OnNext(value) }
func (o *resumeObserver[T]) OnComplete()              { o.down.OnComplete() }

func (o *resumeObserver[T]) OnError(err error) {
	if o.resumed {
		o.down.OnError(err)
		return
	}
	o.resumed = true

	fallback, perr := tryApply(o.selector, err)
	if perr != nil {
		o.down.OnError(perr)
		return
	}
	if fallback == nil {
		o.down.OnError(fmt.Errorf("rxpipe: resume selector returned nil: %w", err))
		return
	}
	fallback.Subscribe(&resumeObserver[T]{down: o.down, serial: o.serial, resumed: true})
}
