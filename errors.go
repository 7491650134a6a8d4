package rxpipe

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrSchedulerRejected 调度器已关闭或Worker已释放，任务提交被拒绝
	ErrSchedulerRejected = errors.New("rxpipe: task rejected: scheduler shut down or worker disposed")

	// ErrGroupAlreadySubscribed 分组只能被订阅一次
	ErrGroupAlreadySubscribed = errors.New("rxpipe: group observable allows only one subscriber")

	// ErrNoElements 序列为空
	ErrNoElements = errors.New("rxpipe: sequence contains no elements")

	// ErrRetryExhausted 退避重试放弃
	ErrRetryExhausted = errors.New("rxpipe: retry exhausted")

	// ErrInvalidCast Cast遇到无法转换的元素
	ErrInvalidCast = errors.New("rxpipe: invalid cast")
)

// ProducerError 用户回调发生panic，被捕获后以OnError投递一次
type ProducerError struct {
	Value any
	Stack []byte
}

func newProducerError(recovered any) *ProducerError {
	return &ProducerError{
		Value: recovered,
		Stack: debug.Stack(),
	}
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("rxpipe: callback panicked: %v", e.Value)
}

// Unwrap 如果panic的值本身是error则返回它
func (e *ProducerError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RetryExhaustedError 退避重试耗尽，Cause是最后一次失败的错误
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rxpipe: retry exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// ============================================================================
// 回调保护
// ============================================================================

// safeExecute 执行action，把panic转换为ProducerError
func safeExecute(action func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newProducerError(r)
		}
	}()

	action()
	return nil
}

func tryMap[T, R any](fn func(T) (R, error), value T) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newProducerError(r)
		}
	}()

	return fn(value)
}

func tryApply[T, R any](fn func(T) R, value T) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newProducerError(r)
		}
	}()

	return fn(value), nil
}
