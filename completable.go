// Completable for rxpipe
// 只关心完成或错误、不发射值的Observable
package rxpipe

import (
	"context"
	"time"
)

// ============================================================================
// Completable
// ============================================================================

// Completable 只发射完成或错误
type Completable struct {
	source *Observable[struct{}]
}

// CompletableComplete 立即完成
func CompletableComplete(options ...Option) *Completable {
	return &Completable{source: Empty[struct{}](options...)}
}

// CompletableError 立即以err终止
func CompletableError(err error, options ...Option) *Completable {
	return &Completable{source: Throw[struct{}](err, options...)}
}

// CompletableFromAction 订阅时执行action，action返回后完成
func CompletableFromAction(action func() error, options ...Option) *Completable {
	return &Completable{source: FromAction[struct{}](action, options...)}
}

// CompletableFromObservable 丢弃源的所有元素，只保留终止信号
func CompletableFromObservable[T any](src *Observable[T]) *Completable {
	return &Completable{source: newObservable(src.config, func(sub *subscriber[struct{}]) {
		op := &opObserver[T, struct{}]{down: sub}
		op.onNext = func(T) {}
		src.Subscribe(op)
	})}
}

// AndThenObservable 完成后订阅next
func AndThenObservable[T any](c *Completable, next *Observable[T]) *Observable[T] {
	return newObservable(c.source.config, func(sub *subscriber[T]) {
		op := &opObserver[struct{}, T]{down: sub}
		op.onNext = func(struct{}) {}
		op.onComplete = func() {
			next.Subscribe(forwardObserver[T]{down: sub})
		}
		c.source.Subscribe(op)
	})
}

// Subscribe 订阅，onComplete和onError只有一个会被调用
func (c *Completable) Subscribe(onComplete func(), onError func(error)) Disposable {
	return c.source.SubscribeFunc(nil, onError, onComplete)
}

// AndThen 完成后继续执行next
func (c *Completable) AndThen(next *Completable) *Completable {
	return &Completable{source: c.source.ConcatWith(next.source)}
}

// Merge 并发执行，全部完成后完成，任意一个出错时立即终止
func (c *Completable) Merge(others ...*Completable) *Completable {
	sources := []*Observable[struct{}]{c.source}
	for _, o := range others {
		sources = append(sources, o.source)
	}
	return &Completable{source: Merge(sources...)}
}

// Retry 出错时重新订阅，最多n次
func (c *Completable) Retry(n int) *Completable {
	return &Completable{source: c.source.Retry(n)}
}

// OnErrorComplete 吞掉错误直接完成
func (c *Completable) OnErrorComplete() *Completable {
	return &Completable{source: c.source.OnErrorComplete()}
}

// OnErrorResumeNext 出错时切换到fallback
func (c *Completable) OnErrorResumeNext(fallback *Completable) *Completable {
	return &Completable{source: c.source.OnErrorResumeNext(fallback.source)}
}

// DoOnComplete 完成时执行action
func (c *Completable) DoOnComplete(action func()) *Completable {
	return &Completable{source: c.source.DoOnComplete(action)}
}

// DoOnError 出错时执行action
func (c *Completable) DoOnError(action func(error)) *Completable {
	return &Completable{source: c.source.DoOnError(action)}
}

// SubscribeOn 在scheduler上订阅
func (c *Completable) SubscribeOn(scheduler Scheduler) *Completable {
	return &Completable{source: c.source.SubscribeOn(scheduler)}
}

// ObserveOn 在scheduler上投递终止信号
func (c *Completable) ObserveOn(scheduler Scheduler) *Completable {
	return &Completable{source: c.source.ObserveOn(scheduler)}
}

// Delay 推迟d后投递终止信号
func (c *Completable) Delay(d time.Duration) *Completable {
	return &Completable{source: c.source.Delay(d)}
}

// Timeout d内没有完成时以ErrTimeout终止
func (c *Completable) Timeout(d time.Duration) *Completable {
	return &Completable{source: c.source.Timeout(d)}
}

// ToObservable 转换为不发射元素的Observable
func (c *Completable) ToObservable() *Observable[struct{}] {
	return c.source
}

// BlockingAwait 阻塞直到完成、出错或ctx结束
func (c *Completable) BlockingAwait(ctx context.Context) error {
	return c.source.BlockingSubscribe(ctx, NewObserver[struct{}](nil, nil, nil))
}
