package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Event 是运行时发出的生命周期信号。
type Event string

const (
	EventInstall  Event = "install"
	EventActivate Event = "activate"
	EventFetch    Event = "fetch"
)

// Source 标识 fetch 响应的来源。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Handler 处理 install/activate 信号，返回前运行时不会切换阶段。
type Handler func(ctx context.Context) error

// FetchHandler 处理一次被拦截的请求。
type FetchHandler func(ctx context.Context, req *http.Request) (*http.Response, Source, error)

// ErrDuplicateHandler indicates a lifecycle signal already has a handler attached.
var ErrDuplicateHandler = errors.New("handler already registered")

// handlerRegistry 为每个信号最多保存一个处理器。
type handlerRegistry struct {
	handlers sync.Map // key: Event, value: Handler | FetchHandler
}

func (r *handlerRegistry) register(event Event, handler interface{}) error {
	if _, loaded := r.handlers.LoadOrStore(event, handler); loaded {
		return fmt.Errorf("%s: %w", event, ErrDuplicateHandler)
	}
	return nil
}

func (r *handlerRegistry) lifecycle(event Event) (Handler, bool) {
	if value, ok := r.handlers.Load(event); ok {
		if handler, ok := value.(Handler); ok {
			return handler, true
		}
	}
	return nil, false
}

func (r *handlerRegistry) fetch() (FetchHandler, bool) {
	if value, ok := r.handlers.Load(EventFetch); ok {
		if handler, ok := value.(FetchHandler); ok {
			return handler, true
		}
	}
	return nil, false
}

// status 返回各信号的注册状态，供诊断接口输出。
func (r *handlerRegistry) status() map[Event]string {
	out := make(map[Event]string, 3)
	for _, event := range []Event{EventInstall, EventActivate, EventFetch} {
		if _, ok := r.handlers.Load(event); ok {
			out[event] = "registered"
		} else {
			out[event] = "missing"
		}
	}
	return out
}
