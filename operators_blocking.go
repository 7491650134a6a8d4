// Blocking operators for rxpipe
// 阻塞操作符：把异步流转换为同步结果，ctx取消时立即返回
package rxpipe

import (
	"context"
	"sync"
)

// ============================================================================
// 阻塞操作符实现
// ============================================================================

// BlockingSubscribe 订阅并阻塞直到终止或ctx结束，返回源的错误或ctx的错误
func (o *Observable[T]) BlockingSubscribe(ctx context.Context, observer Observer[T]) error {
	done := make(chan struct{})
	var (
		once sync.Once
		err  error
	)
	finish := func(e error) {
		once.Do(func() {
			err = e
			close(done)
		})
	}

	d := o.Subscribe(&blockingObserver[T]{
		Observer: observer,
		finish:   finish,
	})

	select {
	case <-done:
		return err
	case <-ctx.Done():
		d.Dispose()
		return ctx.Err()
	}
}

type blockingObserver[T any] struct {
	Observer[T]
	finish func(error)
}

func (o *blockingObserver[T]) OnError(err error) {
	o.Observer.OnError(err)
	o.finish(err)
}

func (o *blockingObserver[T]) OnComplete() {
	o.Observer.OnComplete()
	o.finish(nil)
}

// ToSlice 阻塞收集所有元素
func (o *Observable[T]) ToSlice(ctx context.Context) ([]T, error) {
	var (
		mu    sync.Mutex
		items []T
	)
	err := o.BlockingSubscribe(ctx, NewObserver(func(v T) {
		mu.Lock()
		items = append(items, v)
		mu.Unlock()
	}, nil, nil))

	mu.Lock()
	defer mu.Unlock()
	return items, err
}

// BlockingFirst 阻塞等待第一个元素，源为空时返回ErrNoElements
func (o *Observable[T]) BlockingFirst(ctx context.Context) (T, error) {
	return o.blockingSingle(ctx, o.First())
}

// BlockingLast 阻塞等待最后一个元素，源为空时返回ErrNoElements
func (o *Observable[T]) BlockingLast(ctx context.Context) (T, error) {
	return o.blockingSingle(ctx, o.Last())
}

func (o *Observable[T]) blockingSingle(ctx context.Context, src *Observable[T]) (T, error) {
	var (
		mu    sync.Mutex
		value T
	)
	err := src.BlockingSubscribe(ctx, NewObserver(func(v T) {
		mu.Lock()
		value = v
		mu.Unlock()
	}, nil, nil))

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// BlockingForEach 对每个元素阻塞执行action
func (o *Observable[T]) BlockingForEach(ctx context.Context, action func(T)) error {
	return o.BlockingSubscribe(ctx, NewObserver(action, nil, nil))
}

// ToChannel 把流转换为Item channel，缓冲大小取自配置
// 终止或ctx结束后channel关闭；消费者停止读取时生产者会阻塞，直到ctx结束
func (o *Observable[T]) ToChannel(ctx context.Context) <-chan Item[T] {
	ch := make(chan Item[T], o.config.BufferSize)

	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(item Item[T]) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- item:
		case <-ctx.Done():
		}
	}
	closeCh := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	go o.SubscribeWithContext(ctx, NewObserver(
		func(v T) { send(Item[T]{Value: v}) },
		func(err error) {
			send(Item[T]{Err: err})
			closeCh()
		},
		closeCh,
	))
	context.AfterFunc(ctx, closeCh)
	return ch
}
