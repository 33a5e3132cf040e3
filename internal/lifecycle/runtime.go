package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State 描述运行时所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrInvalidState 表示当前阶段不允许该生命周期转换。
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrNoPassthrough 表示既没有可用的 fetch 处理器也没有直连网络的回退。
	ErrNoPassthrough = errors.New("no fetch handler available")
)

// Options 构造 Runtime 所需的依赖。
type Options struct {
	// Passthrough 在控制器未激活时直连网络。
	Passthrough FetchHandler
	Logger      *logrus.Logger
}

// Runtime 托管生命周期处理器并驱动 install → activate 流程。
type Runtime struct {
	registry    handlerRegistry
	passthrough FetchHandler
	logger      *logrus.Logger

	mu    sync.RWMutex
	state State
}

// NewRuntime 创建处于 parsed 阶段的运行时。
func NewRuntime(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runtime{
		passthrough: opts.Passthrough,
		logger:      logger,
		state:       StateParsed,
	}
}

// Handle 为 install 或 activate 信号挂载处理器，每个信号只能挂载一次。
func (r *Runtime) Handle(event Event, handler Handler) error {
	if event != EventInstall && event != EventActivate {
		return fmt.Errorf("unsupported lifecycle event %q", event)
	}
	if handler == nil {
		return fmt.Errorf("%s: nil handler", event)
	}
	return r.registry.register(event, handler)
}

// HandleFetch 挂载 fetch 处理器，只能挂载一次。
func (r *Runtime) HandleFetch(handler FetchHandler) error {
	if handler == nil {
		return fmt.Errorf("%s: nil handler", EventFetch)
	}
	return r.registry.register(EventFetch, handler)
}

// State 返回当前阶段。
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// HandlerStatus 返回各信号的注册状态。
func (r *Runtime) HandlerStatus() map[Event]string {
	return r.registry.status()
}

// Start 依次执行 install 与 activate；安装成功后立即激活，不等待旧控制器退出。
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Install(ctx); err != nil {
		return err
	}
	return r.Activate(ctx)
}

// Install 派发 install 信号并等待处理器完成；失败时运行时进入 redundant。
func (r *Runtime) Install(ctx context.Context) error {
	return r.transition(ctx, EventInstall, StateParsed, StateInstalling, StateInstalled)
}

// Activate 派发 activate 信号并等待处理器完成；失败时运行时进入 redundant。
func (r *Runtime) Activate(ctx context.Context) error {
	return r.transition(ctx, EventActivate, StateInstalled, StateActivating, StateActivated)
}

func (r *Runtime) transition(ctx context.Context, event Event, from, during, to State) error {
	r.mu.Lock()
	if r.state != from {
		current := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s requires %s, current %s", ErrInvalidState, event, from, current)
	}
	r.state = during
	r.mu.Unlock()

	started := time.Now()
	err := r.dispatch(ctx, event)

	next := to
	if err != nil {
		next = StateRedundant
	}
	r.setState(next)

	fields := logrus.Fields{
		"action":      "lifecycle",
		"event":       string(event),
		"state":       string(next),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		r.logger.WithFields(fields).WithError(err).Error("lifecycle_event_failed")
		return fmt.Errorf("%s: %w", event, err)
	}
	r.logger.WithFields(fields).Info("lifecycle_event_completed")
	return nil
}

func (r *Runtime) dispatch(ctx context.Context, event Event) error {
	handler, ok := r.registry.lifecycle(event)
	if !ok {
		return nil
	}
	return Go(ctx, func(ctx context.Context) error {
		return handler(ctx)
	}).Wait(ctx)
}

func (r *Runtime) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Fetch 派发一次被拦截的请求：已激活时交给 fetch 处理器，否则直连网络。
// 多个 Fetch 可以并发执行。
func (r *Runtime) Fetch(ctx context.Context, req *http.Request) (resp *http.Response, source Source, err error) {
	handler, ok := r.registry.fetch()
	if !ok || r.State() != StateActivated {
		handler = r.passthrough
	}
	if handler == nil {
		return nil, "", ErrNoPassthrough
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp, source, err = nil, "", &PanicError{Value: rec}
		}
	}()
	return handler(ctx, req)
}
