package rxpipe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder 记录收到的所有信号
type recorder[T any] struct {
	mu         sync.Mutex
	subscribed int
	values     []T
	errs       []error
	completed  int

	once sync.Once
	done chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{done: make(chan struct{})}
}

func (r *recorder[T]) OnSubscribe(Disposable) {
	r.mu.Lock()
	r.subscribed++
	r.mu.Unlock()
}

func (r *recorder[T]) OnNext(value T) {
	r.mu.Lock()
	r.values = append(r.values, value)
	r.mu.Unlock()
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

func (r *recorder[T]) ErrCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder[T]) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *recorder[T]) Terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// await 等待终止信号
func (r *recorder[T]) await(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

// requireCompleted 断言以完成信号终止且值与期望一致
func (r *recorder[T]) requireCompleted(t *testing.T, want []T) {
	t.Helper()
	require.True(t, r.Terminated(), "not terminated")
	require.NoError(t, r.Err())
	require.Equal(t, 1, r.Completed())
	if len(want) == 0 {
		require.Empty(t, r.Values())
		return
	}
	require.Equal(t, want, r.Values())
}

// panicObserver 收到panicOn时panic，其余信号交给recorder
type panicObserver[T comparable] struct {
	*recorder[T]
	panicOn T
}

func newPanicObserver[T comparable](panicOn T) *panicObserver[T] {
	return &panicObserver[T]{recorder: newRecorder[T](), panicOn: panicOn}
}

func (o *panicObserver[T]) OnNext(value T) {
	if value == o.panicOn {
		panic("observer")
	}
	o.recorder.OnNext(value)
}

// requireProducerError 断言以ProducerError终止
func (r *recorder[T]) requireProducerError(t *testing.T) {
	t.Helper()
	var perr *ProducerError
	require.ErrorAs(t, r.Err(), &perr)
	require.Equal(t, 1, r.ErrCount())
	require.Zero(t, r.Completed())
}
