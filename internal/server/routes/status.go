package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/offcache/offcache/internal/cache"
	"github.com/offcache/offcache/internal/controller"
	"github.com/offcache/offcache/internal/lifecycle"
)

// Inspector 提供控制器的只读视图。
type Inspector interface {
	Generation() string
	AssetKeys() []string
	Caches(ctx context.Context) ([]controller.CacheInfo, error)
	CacheKeys(ctx context.Context, name string) ([]string, error)
}

// RuntimeStatus 提供生命周期阶段与处理器注册情况。
type RuntimeStatus interface {
	State() lifecycle.State
	HandlerStatus() map[lifecycle.Event]string
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/caches 诊断接口，供运维确认当前代号与缓存内容。
func RegisterStatusRoutes(app *fiber.App, inspector Inspector, runtime RuntimeStatus) {
	if app == nil || inspector == nil || runtime == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		caches, err := inspector.Caches(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(statusPayload{
			Generation: inspector.Generation(),
			State:      string(runtime.State()),
			Handlers:   encodeHandlers(runtime.HandlerStatus()),
			Assets:     inspector.AssetKeys(),
			Caches:     caches,
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_required"})
		}
		keys, err := inspector.CacheKeys(c.Context(), name)
		if errors.Is(err, cache.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(cachePayload{
			Name:    name,
			Current: name == inspector.Generation(),
			Keys:    keys,
		})
	})
}

type statusPayload struct {
	Generation string                 `json:"generation"`
	State      string                 `json:"state"`
	Handlers   map[string]string      `json:"handlers"`
	Assets     []string               `json:"assets"`
	Caches     []controller.CacheInfo `json:"caches"`
}

type cachePayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Keys    []string `json:"keys"`
}

func encodeHandlers(status map[lifecycle.Event]string) map[string]string {
	out := make(map[string]string, len(status))
	for event, state := range status {
		out[string(event)] = state
	}
	return out
}
