package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offcache/offcache/internal/cache"
	"github.com/offcache/offcache/internal/config"
	"github.com/offcache/offcache/internal/controller"
	"github.com/offcache/offcache/internal/lifecycle"
	"github.com/offcache/offcache/internal/network"
	"github.com/offcache/offcache/internal/server"
	"github.com/offcache/offcache/internal/server/routes"
)

// application 持有一次进程生命周期内共享的存储、控制器、运行时与 Fiber 实例。
type application struct {
	storage    cache.Storage
	controller *controller.Controller
	runtime    *lifecycle.Runtime
	app        *fiber.App
}

// newApplication 按配置装配各组件，但不触发 install/activate。
func newApplication(cfg *config.Config, logger *logrus.Logger) (*application, error) {
	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	client, err := network.NewClient(network.Options{
		Origin:  cfg.Global.Origin,
		Proxy:   cfg.Global.Proxy,
		Timeout: cfg.Global.UpstreamTimeout.DurationValue(),
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	ctrl, err := controller.New(controller.Options{
		Generation: cfg.Cache.Generation,
		Assets:     cfg.Cache.Assets,
		Scope:      cfg.Cache.Scope,
		Storage:    storage,
		Network:    client,
		Logger:     logger,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	rt := lifecycle.NewRuntime(lifecycle.Options{
		Passthrough: networkPassthrough(client),
		Logger:      logger,
	})
	if err := ctrl.Register(rt); err != nil {
		storage.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Dispatcher: rt,
		Generation: ctrl.Generation(),
	})
	if err != nil {
		storage.Close()
		return nil, err
	}
	routes.RegisterStatusRoutes(app, ctrl, rt)

	return &application{
		storage:    storage,
		controller: ctrl,
		runtime:    rt,
		app:        app,
	}, nil
}

// Start 执行 install 并随即 activate。
func (a *application) Start(ctx context.Context) error {
	return a.runtime.Start(ctx)
}

func (a *application) Close() error {
	return a.storage.Close()
}

// networkPassthrough 在控制器尚未激活时直连源站，如同未受控页面。
func networkPassthrough(client *network.Client) lifecycle.FetchHandler {
	return func(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error) {
		resp, err := client.Fetch(ctx, req)
		return resp, lifecycle.SourceNetwork, err
	}
}
