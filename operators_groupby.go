// GroupBy operator for rxpipe
// 分组操作符：每个键对应一个只能订阅一次的分组流
package rxpipe

import (
	"sync"
	"sync/atomic"
)

// GroupedObservable 带键的分组流，只允许一个订阅者
// 订阅之前到达的元素会被缓存，订阅时按原顺序先投递
type GroupedObservable[K comparable, T any] struct {
	*Observable[T]
	Key K
}

// GroupBy 按keySelector把元素分到各自的分组
// 外部订阅和所有已订阅的分组都释放后才取消上游
func GroupBy[T any, K comparable](src *Observable[T], keySelector KeySelector[T, K]) *Observable[*GroupedObservable[K, T]] {
	return newObservable(src.config, func(sub *subscriber[*GroupedObservable[K, T]]) {
		c := &groupByCore[T, K]{
			down:        sub,
			keySelector: keySelector,
			groups:      make(map[K]*groupState[T, K]),
			config:      src.config,
		}
		c.refs.Store(1)
		sub.Add(NewDisposable(func() {
			c.outerCancelled.Store(true)
			c.release()
		}))
		src.Subscribe(c)
	})
}

type groupByCore[T any, K comparable] struct {
	down        *subscriber[*GroupedObservable[K, T]]
	keySelector KeySelector[T, K]
	config      *Config

	mu       sync.Mutex
	groups   map[K]*groupState[T, K]
	upstream Disposable

	// refs 外部订阅加上已订阅分组的数量
	refs           atomic.Int64
	outerCancelled atomic.Bool
}

func (c *groupByCore[T, K]) OnSubscribe(d Disposable) {
	c.mu.Lock()
	c.upstream = d
	c.mu.Unlock()
}

func (c *groupByCore[T, K]) release() {
	if c.refs.Add(-1) != 0 {
		return
	}
	c.mu.Lock()
	upstream := c.upstream
	c.mu.Unlock()
	if upstream != nil {
		upstream.Dispose()
	}
}

func (c *groupByCore[T, K]) OnNext(value T) {
	key, err := tryApply[T, K](c.keySelector, value)
	if err != nil {
		c.OnError(err)
		c.mu.Lock()
		upstream := c.upstream
		c.mu.Unlock()
		upstream.Dispose()
		return
	}

	c.mu.Lock()
	g, ok := c.groups[key]
	if !ok {
		if c.outerCancelled.Load() {
			c.mu.Unlock()
			return
		}
		g = newGroupState(c, key)
		c.groups[key] = g
	}
	c.mu.Unlock()

	if !ok {
		c.down.OnNext(&GroupedObservable[K, T]{
			Observable: newObservable(c.config, g.subscribe),
			Key:        key,
		})
	}
	g.queue.emit(nextOf(value))
}

func (c *groupByCore[T, K]) OnError(err error) {
	for _, g := range c.takeGroups() {
		g.queue.emit(errorOf[T](err))
	}
	c.down.OnError(err)
}

func (c *groupByCore[T, K]) OnComplete() {
	for _, g := range c.takeGroups() {
		g.queue.emit(completeOf[T]())
	}
	c.down.OnComplete()
}

func (c *groupByCore[T, K]) takeGroups() []*groupState[T, K] {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make([]*groupState[T, K], 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	clear(c.groups)
	return groups
}

// removeGroup 分组被取消后移除，之后同一个键会创建新的分组
func (c *groupByCore[T, K]) removeGroup(g *groupState[T, K]) {
	c.mu.Lock()
	if c.groups[g.key] == g {
		delete(c.groups, g.key)
	}
	c.mu.Unlock()
	c.release()
}

// groupState 单个分组，订阅前信号缓存在队列里
type groupState[T any, K comparable] struct {
	core       *groupByCore[T, K]
	key        K
	queue      serialQueue[T]
	subscribed atomic.Bool
	target     atomic.Pointer[subscriber[T]]
}

func newGroupState[T any, K comparable](core *groupByCore[T, K], key K) *groupState[T, K] {
	g := &groupState[T, K]{core: core, key: key}
	g.queue.deliver = func(n notification[T]) {
		if s := g.target.Load(); s != nil {
			n.accept(s)
		}
	}
	g.queue.hold()
	return g
}

func (g *groupState[T, K]) subscribe(sub *subscriber[T]) {
	if !g.subscribed.CompareAndSwap(false, true) {
		sub.OnError(ErrGroupAlreadySubscribed)
		return
	}

	g.core.refs.Add(1)
	g.target.Store(sub)
	sub.Add(NewDisposable(func() { g.core.removeGroup(g) }))
	g.queue.drain()
}
