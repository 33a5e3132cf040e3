package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/offcache/offcache/internal/lifecycle"
)

// Dispatcher describes the component that answers intercepted requests. The
// lifecycle runtime satisfies it; tests inject fakes.
type Dispatcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error)

// Fetch makes DispatcherFunc satisfy Dispatcher.
func (f DispatcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error) {
	return f(ctx, req)
}

// AppOptions controls how the Fiber application dispatches requests.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher Dispatcher
	Generation string
}

const contextKeyRequestID = "_offcache_request_id"

// NewApp builds a Fiber application with request-id middleware and routes
// every non-diagnostics request through the dispatcher.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	handler := newFetchHandler(opts)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return handler.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写回响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
