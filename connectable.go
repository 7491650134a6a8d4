// ConnectableObservable implementation for rxpipe
// 可连接的Observable：订阅只挂到共享Subject上，Connect时才订阅上游
package rxpipe

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ============================================================================
// 连接
// ============================================================================

// connection 一次上游激活：共享的Subject加上上游订阅
type connection[T any] struct {
	id       uuid.UUID
	subject  *Subject[T]
	upstream SerialDisposable

	// 以下字段由ConnectableObservable.mu保护
	connected  bool
	refs       int
	disposable Disposable

	terminated atomic.Bool
}

// connectionObserver 把上游信号转发给连接的Subject
type connectionObserver[T any] struct {
	conn *connection[T]
}

func (o connectionObserver[T]) OnSubscribe(d Disposable) { o.conn.upstream.Set(d) }
func (o connectionObserver[T]) OnNext(value T)           { o.conn.subject.OnNext(value) }

func (o connectionObserver[T]) OnError(err error) {
	o.conn.terminated.Store(true)
	o.conn.subject.OnError(err)
}

func (o connectionObserver[T]) OnComplete() {
	o.conn.terminated.Store(true)
	o.conn.subject.OnComplete()
}

// ============================================================================
// ConnectableObservable
// ============================================================================

// ConnectableObservable 热流包装
// 状态：未连接 -> 已连接；上游终止后下一次Connect会创建新的连接
type ConnectableObservable[T any] struct {
	*Observable[T]

	source     *Observable[T]
	newSubject func() *Subject[T]
	log        *slog.Logger
	// refresh 为true时，上游终止后新订阅者加入新的连接而不是收到旧的终止信号
	refresh bool

	mu      sync.Mutex
	current *connection[T]
}

func newConnectable[T any](source *Observable[T], newSubject func() *Subject[T], refresh bool) *ConnectableObservable[T] {
	c := &ConnectableObservable[T]{
		source:     source,
		newSubject: newSubject,
		log:        source.config.Logger,
		refresh:    refresh,
	}
	c.Observable = newObservable(source.config, c.subscribeActual)
	return c
}

// Publish 发布为ConnectableObservable，订阅者只收到连接之后的值
// 上游终止之后的订阅者等待下一次Connect
func (o *Observable[T]) Publish() *ConnectableObservable[T] {
	return newConnectable(o, func() *Subject[T] {
		return NewPublishSubject[T](WithConfig(o.config)).Subject
	}, true)
}

// Replay 发布为ConnectableObservable，订阅者先收到缓冲的值
// 上游终止之后的订阅者收到完整重放和终止信号，直到下一次Connect
func (o *Observable[T]) Replay(policy ReplayPolicy) *ConnectableObservable[T] {
	return newConnectable(o, func() *Subject[T] {
		return NewReplaySubject[T](policy, WithConfig(o.config)).Subject
	}, false)
}

// Share 共享Observable，等价于Publish().RefCount()
func (o *Observable[T]) Share() *Observable[T] {
	return o.Publish().RefCount()
}

// Cache 第一个订阅者到来时连接上游并无限缓存所有值，之后的订阅者收到完整重放
// 缓存没有上限，只用于有限序列
func (o *Observable[T]) Cache() *Observable[T] {
	return o.Replay(UnboundedReplay()).AutoConnect(1)
}

// currentLocked 返回当前连接，必要时创建；调用者持有mu
func (c *ConnectableObservable[T]) currentLocked() *connection[T] {
	if c.current == nil {
		c.current = &connection[T]{
			id:      uuid.New(),
			subject: c.newSubject(),
		}
	}
	return c.current
}

// freshLocked 当前连接已终止时换成新连接；调用者持有mu
func (c *ConnectableObservable[T]) freshLocked() *connection[T] {
	if c.current != nil && c.current.terminated.Load() {
		c.current = nil
	}
	return c.currentLocked()
}

func (c *ConnectableObservable[T]) subscribeActual(sub *subscriber[T]) {
	c.mu.Lock()
	conn := c.currentLocked()
	if c.refresh {
		conn = c.freshLocked()
	}
	c.mu.Unlock()

	conn.subject.subscribeActual(sub)
}

// Connect 订阅上游，已连接时返回同一个Disposable
// 释放返回的Disposable会断开上游并回到未连接状态
func (c *ConnectableObservable[T]) Connect() Disposable {
	c.mu.Lock()
	conn := c.freshLocked()
	c.mu.Unlock()

	return c.connect(conn, 0)
}

// connect 订阅者不足minRefs时不连接，订阅者可能在连接之前已经离开
func (c *ConnectableObservable[T]) connect(conn *connection[T], minRefs int) Disposable {
	c.mu.Lock()
	if conn.connected {
		d := conn.disposable
		c.mu.Unlock()
		return d
	}
	if conn.refs < minRefs {
		c.mu.Unlock()
		return Disposed()
	}
	conn.connected = true
	conn.disposable = NewDisposable(func() { c.disconnect(conn) })
	d := conn.disposable
	c.mu.Unlock()

	c.log.Debug("Connecting to upstream", "connection", conn.id)
	c.source.Subscribe(connectionObserver[T]{conn: conn})
	return d
}

func (c *ConnectableObservable[T]) disconnect(conn *connection[T]) {
	c.mu.Lock()
	if c.current == conn {
		c.current = nil
	}
	c.mu.Unlock()

	conn.upstream.Dispose()
	c.log.Debug("Disconnected from upstream", "connection", conn.id)
}

// IsConnected 当前连接是否已连接且未终止
func (c *ConnectableObservable[T]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.connected && !c.current.terminated.Load()
}

// AutoConnect 第n个订阅者到来时自动连接，n<=0时立即连接
// 返回的Observable不会因为订阅者离开而断开
func (c *ConnectableObservable[T]) AutoConnect(n int) *Observable[T] {
	if n <= 0 {
		c.Connect()
		return c.Observable
	}

	var count atomic.Int64
	return newObservable(c.config, func(sub *subscriber[T]) {
		c.subscribeActual(sub)
		if count.Add(1) == int64(n) {
			c.Connect()
		}
	})
}

// RefCount 第一个订阅者到来时连接，所有订阅者离开后断开
// 断开后再订阅会重新激活上游
func (c *ConnectableObservable[T]) RefCount() *Observable[T] {
	return c.RefCountN(1)
}

// RefCountN 订阅者达到n个时连接，全部离开后断开
func (c *ConnectableObservable[T]) RefCountN(n int) *Observable[T] {
	n = max(n, 1)
	return newObservable(c.config, func(sub *subscriber[T]) {
		c.mu.Lock()
		conn := c.freshLocked()
		conn.refs++
		shouldConnect := !conn.connected && conn.refs == n
		c.mu.Unlock()

		sub.Add(NewDisposable(func() { c.release(conn) }))
		conn.subject.subscribeActual(sub)
		if shouldConnect {
			c.connect(conn, n)
		}
	})
}

// release 订阅者离开，最后一个离开时断开上游并回到未连接状态
func (c *ConnectableObservable[T]) release(conn *connection[T]) {
	c.mu.Lock()
	conn.refs--
	last := conn.refs == 0 && conn.connected
	if last && c.current == conn {
		c.current = nil
	}
	c.mu.Unlock()

	if last {
		conn.upstream.Dispose()
		c.log.Debug("Last subscriber left, disconnected", "connection", conn.id)
	}
}
