// Combination operators for rxpipe
// 组合操作符：合并、拼接、压缩、最新值组合以及竞争
package rxpipe

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

func identity[T any](o *Observable[T]) *Observable[T] { return o }

func sourcesConfig[T any](sources []*Observable[T]) *Config {
	if len(sources) > 0 {
		return sources[0].config
	}
	return DefaultConfig()
}

// ============================================================================
// Merge / Concat
// ============================================================================

// Merge 并发订阅所有源，按到达顺序交错发射
// 任意源出错时立即终止，所有源完成后才完成
func Merge[T any](sources ...*Observable[T]) *Observable[T] {
	return newObservable(sourcesConfig(sources), func(sub *subscriber[T]) {
		c := newFlatMapCore(sub, identity[T], 0)
		for _, src := range sources {
			if sub.IsDisposed() {
				return
			}
			c.OnNext(src)
		}
		c.OnComplete()
	})
}

// MergeWith 与other合并
func (o *Observable[T]) MergeWith(others ...*Observable[T]) *Observable[T] {
	return Merge(append([]*Observable[T]{o}, others...)...)
}

// Concat 依次订阅每个源，前一个完成后才订阅下一个
func Concat[T any](sources ...*Observable[T]) *Observable[T] {
	return newObservable(sourcesConfig(sources), func(sub *subscriber[T]) {
		c := newConcatMapCore(sub, identity[T])
		c.queue = append(c.queue, sources...)
		c.upstreamDone = true
		c.drain()
	})
}

// ConcatWith 在当前源之后拼接other
func (o *Observable[T]) ConcatWith(others ...*Observable[T]) *Observable[T] {
	return Concat(append([]*Observable[T]{o}, others...)...)
}

func toAny[T any](src *Observable[T]) *Observable[any] {
	return newObservable(src.config, func(sub *subscriber[any]) {
		op := &opObserver[T, any]{down: sub}
		op.onNext = func(v T) { sub.OnNext(v) }
		src.Subscribe(op)
	})
}

// ============================================================================
// Zip
// ============================================================================

// Zip 按位置把两个源的元素配对组合
// 任意源完成且它的缓冲为空时完成，较长源多出来的元素被丢弃
func Zip[A, B, R any](a *Observable[A], b *Observable[B], zipper func(A, B) R) *Observable[R] {
	return ZipAll([]*Observable[any]{toAny(a), toAny(b)}, func(values []any) R {
		return zipper(values[0].(A), values[1].(B))
	})
}

// ZipAll 按位置组合多个同类型源，zipper收到的切片可以保留
func ZipAll[T, R any](sources []*Observable[T], zipper func([]T) R) *Observable[R] {
	return newObservable(sourcesConfig(sources), func(sub *subscriber[R]) {
		n := len(sources)
		if n == 0 {
			sub.OnComplete()
			return
		}

		c := &zipCore[T, R]{
			down:   sub,
			zipper: zipper,
			queues: make([][]T, n),
			done:   bitset.New(uint(n)),
		}
		c.out.deliver = func(n notification[R]) { n.accept(sub) }
		sub.Add(&c.sources)

		for i, src := range sources {
			if sub.IsDisposed() {
				return
			}
			src.Subscribe(&zipObserver[T, R]{core: c, index: uint(i)})
		}
	})
}

type zipCore[T, R any] struct {
	down    *subscriber[R]
	zipper  func([]T) R
	out     serialQueue[R]
	sources CompositeDisposable
	loop    drainLoop

	mu     sync.Mutex
	queues [][]T
	done   *bitset.BitSet
}

func (c *zipCore[T, R]) fail(err error) {
	c.out.emit(errorOf[R](err))
	c.sources.Dispose()
}

func (c *zipCore[T, R]) drain() {
	c.loop.run(func() {
		for {
			c.mu.Lock()
			ready := true
			finished := false
			for i, q := range c.queues {
				if len(q) == 0 {
					ready = false
					if c.done.Test(uint(i)) {
						finished = true
					}
				}
			}
			if !ready {
				c.mu.Unlock()
				if finished {
					c.sources.Dispose()
					c.out.emit(completeOf[R]())
				}
				return
			}

			row := make([]T, len(c.queues))
			for i, q := range c.queues {
				row[i] = q[0]
				var zero T
				q[0] = zero
				c.queues[i] = q[1:]
			}
			c.mu.Unlock()

			r, err := tryApply(c.zipper, row)
			if err != nil {
				c.fail(err)
				return
			}
			c.out.emit(nextOf(r))
		}
	})
}

type zipObserver[T, R any] struct {
	core  *zipCore[T, R]
	index uint
}

func (o *zipObserver[T, R]) OnSubscribe(d Disposable) { o.core.sources.Add(d) }
func (o *zipObserver[T, R]) OnError(err error)        { o.core.fail(err) }

func (o *zipObserver[T, R]) OnNext(value T) {
	c := o.core
	c.mu.Lock()
	c.queues[o.index] = append(c.queues[o.index], value)
	c.mu.Unlock()
	c.drain()
}

func (o *zipObserver[T, R]) OnComplete() {
	c := o.core
	c.mu.Lock()
	c.done.Set(o.index)
	c.mu.Unlock()
	c.drain()
}

// ============================================================================
// CombineLatest
// ============================================================================

// CombineLatest 所有源都至少发射过一次后，任意源发射时组合各源的最新值
// 所有源都完成后完成；某个源没有发射就完成时立即完成
func CombineLatest[A, B, R any](a *Observable[A], b *Observable[B], combiner func(A, B) R) *Observable[R] {
	return CombineLatestAll([]*Observable[any]{toAny(a), toAny(b)}, func(values []any) R {
		return combiner(values[0].(A), values[1].(B))
	})
}

// CombineLatestAll 组合多个同类型源的最新值
func CombineLatestAll[T, R any](sources []*Observable[T], combiner func([]T) R) *Observable[R] {
	return newObservable(sourcesConfig(sources), func(sub *subscriber[R]) {
		n := len(sources)
		if n == 0 {
			sub.OnComplete()
			return
		}

		c := &combineLatestCore[T, R]{
			down:   sub,
			latest: make([]T, n),
			has:    bitset.New(uint(n)),
			done:   bitset.New(uint(n)),
		}
		c.out.deliver = func(n notification[[]T]) {
			switch n.kind {
			case signalNext:
				r, err := tryApply(combiner, n.value)
				if err != nil {
					c.fail(err)
					return
				}
				sub.OnNext(r)
			case signalError:
				sub.OnError(n.err)
			default:
				sub.OnComplete()
			}
		}
		sub.Add(&c.sources)

		for i, src := range sources {
			if sub.IsDisposed() {
				return
			}
			src.Subscribe(&combineLatestObserver[T, R]{core: c, index: uint(i)})
		}
	})
}

type combineLatestCore[T, R any] struct {
	down    *subscriber[R]
	out     serialQueue[[]T]
	sources CompositeDisposable

	mu     sync.Mutex
	latest []T
	has    *bitset.BitSet
	done   *bitset.BitSet
}

func (c *combineLatestCore[T, R]) fail(err error) {
	c.out.emit(errorOf[[]T](err))
	c.sources.Dispose()
}

type combineLatestObserver[T, R any] struct {
	core  *combineLatestCore[T, R]
	index uint
}

func (o *combineLatestObserver[T, R]) OnSubscribe(d Disposable) { o.core.sources.Add(d) }
func (o *combineLatestObserver[T, R]) OnError(err error)        { o.core.fail(err) }

func (o *combineLatestObserver[T, R]) OnNext(value T) {
	c := o.core
	c.mu.Lock()
	c.latest[o.index] = value
	c.has.Set(o.index)
	if !c.has.All() {
		c.mu.Unlock()
		return
	}
	row := make([]T, len(c.latest))
	copy(row, c.latest)
	// 在锁内入队，保证输出顺序与更新顺序一致
	drain := c.out.push(nextOf(row))
	c.mu.Unlock()

	if drain {
		c.out.drain()
	}
}

func (o *combineLatestObserver[T, R]) OnComplete() {
	c := o.core
	c.mu.Lock()
	c.done.Set(o.index)
	finished := c.done.All() || !c.has.Test(o.index)
	c.mu.Unlock()

	if finished {
		c.sources.Dispose()
		c.out.emit(completeOf[[]T]())
	}
}

// ============================================================================
// WithLatestFrom
// ============================================================================

// WithLatestFrom 主源发射时与other的最新值组合；other还没有值时丢弃主源元素
// other完成不影响结果，主源完成时完成
func WithLatestFrom[T, U, R any](src *Observable[T], other *Observable[U], combiner func(T, U) R) *Observable[R] {
	return WithLatestFromAll(src, []*Observable[U]{other}, func(v T, others []U) R {
		return combiner(v, others[0])
	})
}

// WithLatestFromAll 主源发射时与多个辅助源的最新值组合
func WithLatestFromAll[T, U, R any](src *Observable[T], others []*Observable[U], combiner func(T, []U) R) *Observable[R] {
	return newObservable(src.config, func(sub *subscriber[R]) {
		n := len(others)
		c := &withLatestCore[U, R]{
			latest: make([]U, n),
			has:    bitset.New(uint(n)),
		}
		c.out.deliver = func(n notification[R]) { n.accept(sub) }
		sub.Add(&c.sources)

		// 先订阅辅助源，同步源的值可以被主源的第一个元素用上
		for i, other := range others {
			if sub.IsDisposed() {
				return
			}
			other.Subscribe(&withLatestOtherObserver[U, R]{core: c, index: uint(i)})
		}
		if sub.IsDisposed() {
			return
		}

		op := &opObserver[T, R]{down: sub}
		op.onNext = func(v T) {
			c.mu.Lock()
			if n > 0 && !c.has.All() {
				c.mu.Unlock()
				return
			}
			row := make([]U, n)
			copy(row, c.latest)
			c.mu.Unlock()

			r, err := tryApply(func(v T) R { return combiner(v, row) }, v)
			if err != nil {
				op.upstream.Dispose()
				c.fail(err)
				return
			}
			c.out.emit(nextOf(r))
		}
		op.onError = c.fail
		op.onComplete = func() {
			c.sources.Dispose()
			c.out.emit(completeOf[R]())
		}
		src.Subscribe(op)
	})
}

type withLatestCore[U, R any] struct {
	out     serialQueue[R]
	sources CompositeDisposable

	mu     sync.Mutex
	latest []U
	has    *bitset.BitSet
}

func (c *withLatestCore[U, R]) fail(err error) {
	c.out.emit(errorOf[R](err))
	c.sources.Dispose()
}

type withLatestOtherObserver[U, R any] struct {
	core  *withLatestCore[U, R]
	index uint
}

func (o *withLatestOtherObserver[U, R]) OnSubscribe(d Disposable) { o.core.sources.Add(d) }
func (o *withLatestOtherObserver[U, R]) OnError(err error)        { o.core.fail(err) }
func (o *withLatestOtherObserver[U, R]) OnComplete()              {}

func (o *withLatestOtherObserver[U, R]) OnNext(value U) {
	o.core.mu.Lock()
	o.core.latest[o.index] = value
	o.core.has.Set(o.index)
	o.core.mu.Unlock()
}

// ============================================================================
// Amb
// ============================================================================

// Amb 第一个发出任意信号的源胜出，其余源被取消
func Amb[T any](sources ...*Observable[T]) *Observable[T] {
	return newObservable(sourcesConfig(sources), func(sub *subscriber[T]) {
		if len(sources) == 0 {
			sub.OnComplete()
			return
		}

		c := &ambCore[T]{down: sub, subs: make([]Disposable, len(sources))}
		c.winner.Store(-1)
		for i, src := range sources {
			if c.winner.Load() != -1 || sub.IsDisposed() {
				return
			}
			src.Subscribe(&ambObserver[T]{core: c, index: int32(i)})
		}
	})
}

// AmbWith 与others竞争
func (o *Observable[T]) AmbWith(others ...*Observable[T]) *Observable[T] {
	return Amb(append([]*Observable[T]{o}, others...)...)
}

type ambCore[T any] struct {
	down   *subscriber[T]
	winner atomic.Int32

	mu   sync.Mutex
	subs []Disposable
}

// win 第一个调用者胜出并取消其他源
func (c *ambCore[T]) win(index int32) bool {
	if w := c.winner.Load(); w != -1 {
		return w == index
	}
	if !c.winner.CompareAndSwap(-1, index) {
		return c.winner.Load() == index
	}

	c.mu.Lock()
	losers := make([]Disposable, 0, len(c.subs))
	for i, d := range c.subs {
		if int32(i) != index && d != nil {
			losers = append(losers, d)
		}
	}
	c.mu.Unlock()

	for _, d := range losers {
		d.Dispose()
	}
	return true
}

type ambObserver[T any] struct {
	core  *ambCore[T]
	index int32
}

func (o *ambObserver[T]) OnSubscribe(d Disposable) {
	c := o.core
	c.mu.Lock()
	if w := c.winner.Load(); w != -1 && w != o.index {
		c.mu.Unlock()
		d.Dispose()
		return
	}
	c.subs[o.index] = d
	c.mu.Unlock()
	c.down.Add(d)
}

func (o *ambObserver[T]) OnNext(value T) {
	if o.core.win(o.index) {
		o.core.down.OnNext(value)
	}
}

func (o *ambObserver[T]) OnError(err error) {
	if o.core.win(o.index) {
		o.core.down.OnError(err)
	}
}

func (o *ambObserver[T]) OnComplete() {
	if o.core.win(o.index) {
		o.core.down.OnComplete()
	}
}
