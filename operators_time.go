// Time-based operators for rxpipe
// 基于时间的操作符，时间由配置的调度器提供
package rxpipe

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout 超时内没有收到下一个元素
var ErrTimeout = errors.New("rxpipe: timeout waiting for next item")

// ============================================================================
// Delay
// ============================================================================

type delayedSignal[T any] struct {
	n   notification[T]
	due time.Time
}

// Delay 把每个信号推迟d后投递，错误同样推迟，顺序保持不变
func (o *Observable[T]) Delay(d time.Duration) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		scheduler := o.config.scheduler()
		w := scheduler.CreateWorker()
		sub.Add(w)
		o.Subscribe(&delayObserver[T]{down: sub, worker: w, scheduler: scheduler, delay: d})
	})
}

type delayObserver[T any] struct {
	down      *subscriber[T]
	worker    Worker
	scheduler Scheduler
	delay     time.Duration

	mu        sync.Mutex
	queue     []delayedSignal[T]
	scheduled bool
}

func (o *delayObserver[T]) OnSubscribe(d Disposable) { o.down.Add(d) }
func (o *delayObserver[T]) OnNext(value T)           { o.offer(nextOf(value)) }
func (o *delayObserver[T]) OnError(err error)        { o.offer(errorOf[T](err)) }
func (o *delayObserver[T]) OnComplete()              { o.offer(completeOf[T]()) }

func (o *delayObserver[T]) offer(n notification[T]) {
	o.mu.Lock()
	o.queue = append(o.queue, delayedSignal[T]{n: n, due: o.scheduler.Now().Add(o.delay)})
	if o.scheduled {
		o.mu.Unlock()
		return
	}
	o.scheduled = true
	o.mu.Unlock()

	o.schedule(o.delay)
}

func (o *delayObserver[T]) schedule(d time.Duration) {
	if _, err := o.worker.ScheduleWithDelay(o.run, d); err != nil {
		o.down.OnError(err)
	}
}

// run 投递所有到期的信号，然后为下一个信号重新调度
func (o *delayObserver[T]) run() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.scheduled = false
			o.mu.Unlock()
			return
		}
		head := o.queue[0]
		if wait := head.due.Sub(o.scheduler.Now()); wait > 0 {
			o.mu.Unlock()
			o.schedule(wait)
			return
		}
		o.queue[0] = delayedSignal[T]{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if !o.down.protect(func() { head.n.accept(o.down) }) {
			return
		}
	}
}

// ============================================================================
// Timeout
// ============================================================================

const timeoutDone = math.MaxUint64

// Timeout 订阅后或每个元素之后d内没有下一个元素时以ErrTimeout终止
func (o *Observable[T]) Timeout(d time.Duration) *Observable[T] {
	return newObservable(o.config, func(sub *subscriber[T]) {
		w := o.config.scheduler().CreateWorker()
		sub.Add(w)

		c := &timeoutObserver[T]{down: sub, worker: w, timeout: d}
		c.out.deliver = func(n notification[T]) { n.accept(sub) }
		sub.Add(&c.timer)

		c.arm(0)
		o.Subscribe(c)
	})
}

type timeoutObserver[T any] struct {
	down     *subscriber[T]
	worker   Worker
	timeout  time.Duration
	out      serialQueue[T]
	timer    SerialDisposable
	upstream SerialDisposable
	index    atomic.Uint64
}

func (o *timeoutObserver[T]) OnSubscribe(d Disposable) {
	o.upstream.Set(d)
	o.down.Add(d)
}

// arm 为第index个元素之后的等待启动计时
func (o *timeoutObserver[T]) arm(index uint64) {
	d, err := o.worker.ScheduleWithDelay(func() {
		if o.index.CompareAndSwap(index, timeoutDone) {
			o.upstream.Dispose()
			o.down.protect(func() { o.out.emit(errorOf[T](ErrTimeout)) })
		}
	}, o.timeout)
	if err != nil {
		if o.index.Swap(timeoutDone) != timeoutDone {
			o.out.emit(errorOf[T](err))
		}
		return
	}
	o.timer.Set(d)
}

func (o *timeoutObserver[T]) OnNext(value T) {
	cur := o.index.Load()
	if cur == timeoutDone || !o.index.CompareAndSwap(cur, cur+1) {
		return
	}
	o.out.emit(nextOf(value))
	o.arm(cur + 1)
}

func (o *timeoutObserver[T]) OnError(err error) {
	if o.index.Swap(timeoutDone) != timeoutDone {
		o.timer.Dispose()
		o.out.emit(errorOf[T](err))
	}
}

func (o *timeoutObserver[T]) OnComplete() {
	if o.index.Swap(timeoutDone) != timeoutDone {
		o.timer.Dispose()
		o.out.emit(completeOf[T]())
	}
}
