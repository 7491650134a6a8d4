// Flattening operators for rxpipe
// 展平操作符：FlatMap并发合并内部流，ConcatMap按顺序逐个订阅
package rxpipe

import (
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ============================================================================
// FlatMap
// ============================================================================

// FlatMap 把每个元素映射为内部Observable并合并它们的输出
// 任意内部流或外部流出错时立即终止并取消其余订阅
func FlatMap[T, R any](src *Observable[T], mapper func(T) *Observable[R]) *Observable[R] {
	return flatMap(src, mapper, 0)
}

// FlatMapWithConcurrency 同时最多订阅maxConcurrency个内部流，其余排队等待
func FlatMapWithConcurrency[T, R any](src *Observable[T], mapper func(T) *Observable[R], maxConcurrency int) *Observable[R] {
	return flatMap(src, mapper, maxConcurrency)
}

// FlatMapWithCombiner 用combiner把源元素和内部元素组合起来
func FlatMapWithCombiner[T, U, R any](src *Observable[T], mapper func(T) *Observable[U], combiner func(T, U) R) *Observable[R] {
	return FlatMap(src, func(t T) *Observable[R] {
		inner := mapper(t)
		return Map(inner, func(u U) (R, error) { return combiner(t, u), nil })
	})
}

func flatMap[T, R any](src *Observable[T], mapper func(T) *Observable[R], maxConcurrency int) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		src.Subscribe(newFlatMapCore(sub, mapper, maxConcurrency))
	})
}

// newFlatMapCore 外部流计为一个活动源，由调用者以OnComplete结束
func newFlatMapCore[T, R any](sub *subscriber[R], mapper func(T) *Observable[R], maxConcurrency int) *flatMapCore[T, R] {
	c := &flatMapCore[T, R]{down: sub, mapper: mapper}
	c.out.deliver = func(n notification[R]) { n.accept(sub) }
	c.active.Store(1)
	if maxConcurrency > 0 && maxConcurrency < math.MaxInt32 {
		c.slots = semaphore.NewWeighted(int64(maxConcurrency))
	}
	sub.Add(&c.inners)
	return c
}

// flatMapCore 外部流的观察者，同时管理所有内部订阅
type flatMapCore[T, R any] struct {
	down     *subscriber[R]
	mapper   func(T) *Observable[R]
	out      serialQueue[R]
	inners   CompositeDisposable
	upstream Disposable

	// active 外部流加上尚未完成的内部流的数量
	active atomic.Int64

	// slots 为nil时不限制并发
	slots   *semaphore.Weighted
	mu      sync.Mutex
	pending []*Observable[R]
}

func (c *flatMapCore[T, R]) OnSubscribe(d Disposable) {
	c.upstream = d
	c.down.Add(d)
}

func (c *flatMapCore[T, R]) OnNext(value T) {
	inner, err := tryApply(c.mapper, value)
	if err != nil {
		c.fail(err)
		return
	}
	c.active.Add(1)

	if c.slots != nil {
		c.mu.Lock()
		if !c.slots.TryAcquire(1) {
			c.pending = append(c.pending, inner)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
	c.subscribeInner(inner)
}

func (c *flatMapCore[T, R]) OnError(err error) {
	c.fail(err)
}

func (c *flatMapCore[T, R]) OnComplete() {
	c.finishOne()
}

func (c *flatMapCore[T, R]) subscribeInner(inner *Observable[R]) {
	if c.down.IsDisposed() {
		return
	}
	inner.Subscribe(&flatMapInner[T, R]{core: c})
}

// innerDone 内部流完成，把空出的名额交给排队的内部流
func (c *flatMapCore[T, R]) innerDone() {
	if c.slots != nil {
		c.mu.Lock()
		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			c.mu.Unlock()
			c.subscribeInner(next)
		} else {
			c.slots.Release(1)
			c.mu.Unlock()
		}
	}
	c.finishOne()
}

func (c *flatMapCore[T, R]) finishOne() {
	if c.active.Add(-1) == 0 {
		c.out.emit(completeOf[R]())
	}
}

func (c *flatMapCore[T, R]) fail(err error) {
	c.out.emit(errorOf[R](err))
	if c.upstream != nil {
		c.upstream.Dispose()
	}
	c.inners.Dispose()
}

type flatMapInner[T, R any] struct {
	core *flatMapCore[T, R]
	self Disposable
}

func (i *flatMapInner[T, R]) OnSubscribe(d Disposable) {
	i.self = d
	i.core.inners.Add(d)
}

func (i *flatMapInner[T, R]) OnNext(value R) {
	i.core.out.emit(nextOf(value))
}

func (i *flatMapInner[T, R]) OnError(err error) {
	i.core.fail(err)
}

func (i *flatMapInner[T, R]) OnComplete() {
	i.core.inners.Delete(i.self)
	i.core.innerDone()
}

// ============================================================================
// ConcatMap
// ============================================================================

// ConcatMap 按源顺序逐个订阅内部流，前一个完成后才订阅下一个
func ConcatMap[T, R any](src *Observable[T], mapper func(T) *Observable[R]) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		src.Subscribe(newConcatMapCore(sub, mapper))
	})
}

func newConcatMapCore[T, R any](sub *subscriber[R], mapper func(T) *Observable[R]) *concatMapCore[T, R] {
	c := &concatMapCore[T, R]{down: sub, mapper: mapper}
	c.out.deliver = func(n notification[R]) { n.accept(sub) }
	sub.Add(&c.serial)
	return c
}

type concatMapCore[T, R any] struct {
	down     *subscriber[R]
	mapper   func(T) *Observable[R]
	out      serialQueue[R]
	serial   SerialDisposable
	upstream Disposable
	loop     drainLoop

	mu           sync.Mutex
	queue        []T
	active       bool
	upstreamDone bool
	failed       bool
}

func (c *concatMapCore[T, R]) OnSubscribe(d Disposable) {
	c.upstream = d
	c.down.Add(d)
}

func (c *concatMapCore[T, R]) OnNext(value T) {
	c.mu.Lock()
	c.queue = append(c.queue, value)
	c.mu.Unlock()
	c.drain()
}

func (c *concatMapCore[T, R]) OnError(err error) {
	c.fail(err)
}

func (c *concatMapCore[T, R]) OnComplete() {
	c.mu.Lock()
	c.upstreamDone = true
	c.mu.Unlock()
	c.drain()
}

func (c *concatMapCore[T, R]) innerDone() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.drain()
}

func (c *concatMapCore[T, R]) fail(err error) {
	c.mu.Lock()
	c.failed = true
	c.queue = nil
	c.mu.Unlock()

	c.out.emit(errorOf[R](err))
	if c.upstream != nil {
		c.upstream.Dispose()
	}
	c.serial.Dispose()
}

// drain 每轮最多启动一个内部流；同步完成的内部流会让循环再跑一轮
func (c *concatMapCore[T, R]) drain() {
	c.loop.run(func() {
		c.mu.Lock()
		if c.active || c.failed || c.down.IsDisposed() {
			c.mu.Unlock()
			return
		}
		if len(c.queue) == 0 {
			done := c.upstreamDone
			c.mu.Unlock()
			if done {
				c.out.emit(completeOf[R]())
			}
			return
		}
		v := c.queue[0]
		var zero T
		c.queue[0] = zero
		c.queue = c.queue[1:]
		c.active = true
		c.mu.Unlock()

		inner, err := tryApply(c.mapper, v)
		if err != nil {
			c.fail(err)
			return
		}
		inner.Subscribe(&concatMapInner[T, R]{core: c})
	})
}

type concatMapInner[T, R any] struct {
	core *concatMapCore[T, R]
}

func (i *concatMapInner[T, R]) OnSubscribe(d Disposable) {
	i.core.serial.Set(d)
}

func (i *concatMapInner[T, R]) OnNext(value R) {
	i.core.out.emit(nextOf(value))
}

func (i *concatMapInner[T, R]) OnError(err error) {
	i.core.fail(err)
}

func (i *concatMapInner[T, R]) OnComplete() {
	i.core.innerDone()
}
