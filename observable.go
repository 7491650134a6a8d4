// Observable implementation for rxpipe
// Observable订阅入口以及调度相关的操作符
package rxpipe

import (
	"context"
	"sync"
)

// ============================================================================
// 订阅
// ============================================================================

// Subscribe 订阅观察者，返回的Disposable用于取消订阅
// 观察者先收到OnSubscribe，然后才会收到其他信号
func (o *Observable[T]) Subscribe(observer Observer[T]) Disposable {
	return o.subscribe(observer)
}

func (o *Observable[T]) subscribe(observer Observer[T]) *subscriber[T] {
	s := newSubscriber(observer, o.config.Logger)
	observer.OnSubscribe(s)
	if s.IsDisposed() {
		return s
	}

	if err := safeExecute(func() { o.subscribeActual(s) }); err != nil {
		s.OnError(err)
	}
	return s
}

// SubscribeFunc 使用回调函数订阅
func (o *Observable[T]) SubscribeFunc(onNext func(T), onError func(error), onComplete func()) Disposable {
	return o.Subscribe(NewObserver(onNext, onError, onComplete))
}

// SubscribeWithContext 订阅，ctx结束时自动取消
func (o *Observable[T]) SubscribeWithContext(ctx context.Context, observer Observer[T]) Disposable {
	s := o.subscribe(observer)
	stop := context.AfterFunc(ctx, s.Dispose)
	s.Add(NewDisposable(func() { stop() }))
	return s
}

// ============================================================================
// SubscribeOn
// ============================================================================

// SubscribeOn 在指定调度器上执行订阅动作
// 链上有多个SubscribeOn时，离源头最近的那个决定源头在哪里产生数据
func (o *Observable[T]) SubscribeOn(scheduler Scheduler) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		w := scheduler.CreateWorker()
		sub.Add(w)

		if _, err := w.Schedule(func() {
			if !sub.IsDisposed() {
				o.Subscribe(forwardObserver[T]{down: sub})
			}
		}); err != nil {
			sub.OnError(err)
		}
	})
}

// ============================================================================
// ObserveOn
// ============================================================================

// ObserveOn 在指定调度器上投递信号，保持原有顺序
func (o *Observable[T]) ObserveOn(scheduler Scheduler) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		w := scheduler.CreateWorker()
		sub.Add(w)
		o.Subscribe(&observeOnObserver[T]{down: sub, worker: w})
	})
}

// observeOnObserver 入队后由Worker串行排空
type observeOnObserver[T any] struct {
	down   *subscriber[T]
	worker Worker

	mu    sync.Mutex
	queue []notification[T]
	loop  drainLoop
}

func (o *observeOnObserver[T]) OnSubscribe(d Disposable) { o.down.Add(d) }
func (o *observeOnObserver[T]) OnNext(value T)           { o.offer(nextOf(value)) }
func (o *observeOnObserver[T]) OnError(err error)        { o.offer(errorOf[T](err)) }
func (o *observeOnObserver[T]) OnComplete()              { o.offer(completeOf[T]()) }

func (o *observeOnObserver[T]) offer(n notification[T]) {
	o.mu.Lock()
	o.queue = append(o.queue, n)
	o.mu.Unlock()

	if o.loop.wip.Add(1) != 1 {
		return
	}
	if _, err := o.worker.Schedule(o.drain); err != nil {
		o.down.OnError(err)
	}
}

func (o *observeOnObserver[T]) drain() {
	missed := int32(1)
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		for _, n := range batch {
			if o.down.IsDisposed() || !o.down.protect(func() { n.accept(o.down) }) {
				return
			}
		}

		missed = o.loop.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}
