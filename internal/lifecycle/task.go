package lifecycle

import (
	"context"
	"fmt"
)

// PanicError 包装处理器内部 panic 的值。
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Task 是一次已启动的异步工作，对应生命周期事件的 "wait until" 约定。
type Task struct {
	done chan struct{}
	err  error
}

// Go 在新的 goroutine 中执行 fn，panic 会被恢复为 *PanicError。
func Go(ctx context.Context, fn func(context.Context) error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = &PanicError{Value: r}
			}
		}()
		t.err = fn(ctx)
	}()
	return t
}

// Done 在任务结束时关闭。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 阻塞直到任务结束或 ctx 取消。ctx 取消时任务本身不会被回滚，只是不再等待。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err 返回任务结果；任务未结束时返回 nil。
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
