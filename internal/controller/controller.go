// Package controller implements the offline cache controller: it precaches a
// fixed asset list into the cache named by the current generation, answers
// fetches cache-first, and removes every other generation on activation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offcache/offcache/internal/cache"
	"github.com/offcache/offcache/internal/lifecycle"
	"github.com/offcache/offcache/internal/logging"
)

// Network is the fetch collaborator used for cache misses and precaching.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
	Get(ctx context.Context, requestURI string) (*http.Response, error)
}

// Options 描述构造控制器所需的部署常量与协作者。
type Options struct {
	Generation string
	Assets     []string
	Scope      string
	Storage    cache.Storage
	Network    Network
	Logger     *logrus.Logger
}

// Controller 持有当前缓存代号与资源清单，三个处理器共享同一份不可变状态。
type Controller struct {
	generation string
	keys       []string
	manifest   string
	storage    cache.Storage
	network    Network
	logger     *logrus.Logger
}

// New 校验代号并将资源定位符解析为缓存身份。
func New(opts Options) (*Controller, error) {
	if err := cache.ValidateName(opts.Generation); err != nil {
		return nil, err
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	keys, err := cache.ResolveAssets(opts.Scope, opts.Assets)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		generation: opts.Generation,
		keys:       keys,
		manifest:   cache.ManifestOf(keys),
		storage:    opts.Storage,
		network:    opts.Network,
		logger:     logger,
	}, nil
}

// Generation 返回当前缓存代号。
func (c *Controller) Generation() string {
	return c.generation
}

// AssetKeys 返回按配置顺序解析后的资源身份。
func (c *Controller) AssetKeys() []string {
	return append([]string(nil), c.keys...)
}

// Manifest 返回资源清单指纹。
func (c *Controller) Manifest() string {
	return c.manifest
}

// Register attaches the install, activate and fetch handlers to rt.
func (c *Controller) Register(rt *lifecycle.Runtime) error {
	if rt == nil {
		return errors.New("runtime is required")
	}
	if err := rt.Handle(lifecycle.EventInstall, c.Install); err != nil {
		return err
	}
	if err := rt.Handle(lifecycle.EventActivate, c.Activate); err != nil {
		return err
	}
	return rt.HandleFetch(c.Fetch)
}

// Install opens the current generation's cache and adds every asset. Any
// failed asset fails the whole install and leaves the cache unsealed.
func (c *Controller) Install(ctx context.Context) error {
	started := time.Now()
	named, err := c.storage.Open(ctx, c.generation)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", c.generation, err)
	}

	manifest, sealed, err := named.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("read seal of cache %s: %w", c.generation, err)
	}
	if sealed && manifest == c.manifest {
		c.logger.WithFields(logging.LifecycleFields(string(lifecycle.EventInstall), c.generation)).
			WithField("assets", len(c.keys)).
			Info("install_skipped_sealed")
		return nil
	}
	if sealed {
		// 同一代号下清单变化：先撤销封存，避免新旧混合的缓存被视为就绪。
		if err := named.Unseal(ctx); err != nil {
			return fmt.Errorf("unseal cache %s: %w", c.generation, err)
		}
	}

	fetch := func(ctx context.Context, key string) (*http.Response, error) {
		return c.network.Get(ctx, key)
	}
	if err := cache.AddAll(ctx, named, fetch, c.keys); err != nil {
		return err
	}
	if err := named.Seal(ctx, c.manifest); err != nil {
		return fmt.Errorf("seal cache %s: %w", c.generation, err)
	}

	c.logger.WithFields(logging.LifecycleFields(string(lifecycle.EventInstall), c.generation)).
		WithFields(logrus.Fields{
			"assets":     len(c.keys),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).
		Info("install_precached")
	return nil
}

// Fetch answers req from any sealed cache, falling through to the network on
// a miss. Network responses are returned untouched and never stored.
func (c *Controller) Fetch(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error) {
	if key, ok := cache.RequestKey(req); ok {
		hit, err := c.storage.Match(ctx, key)
		switch {
		case err == nil:
			resp, decodeErr := hit.Response(req)
			if decodeErr == nil {
				return resp, lifecycle.SourceCache, nil
			}
			c.logger.WithError(decodeErr).WithFields(logrus.Fields{
				"action": "fetch",
				"cache":  hit.CacheName,
				"key":    key,
			}).Warn("cache_entry_unreadable")
		case !errors.Is(err, cache.ErrNotFound):
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": "fetch",
				"key":    key,
			}).Warn("cache_match_failed")
		}
	}

	resp, err := c.network.Fetch(ctx, req)
	if err != nil {
		return nil, lifecycle.SourceNetwork, fmt.Errorf("network fetch %s: %w", req.URL.RequestURI(), err)
	}
	return resp, lifecycle.SourceNetwork, nil
}

// Activate deletes every cache other than the current generation. Deletion
// failures are logged and skipped; only a failed enumeration is returned.
func (c *Controller) Activate(ctx context.Context) error {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name == c.generation {
			continue
		}
		fields := logging.LifecycleFields(string(lifecycle.EventActivate), c.generation)
		fields["cache"] = name
		deleted, err := c.storage.Delete(ctx, name)
		if err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("cache_delete_failed")
			continue
		}
		if deleted {
			c.logger.WithFields(fields).Info("cache_deleted")
		}
	}
	return nil
}

// CacheInfo 汇总单个命名缓存的诊断信息。
type CacheInfo struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Sealed  bool   `json:"sealed"`
	Entries int    `json:"entries"`
}

// Caches 列出全部命名缓存及其封存状态与条目数。
func (c *Controller) Caches(ctx context.Context) ([]CacheInfo, error) {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		named, err := c.storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		_, sealed, err := named.Manifest(ctx)
		if err != nil {
			return nil, err
		}
		keys, err := named.Keys(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, CacheInfo{
			Name:    name,
			Current: name == c.generation,
			Sealed:  sealed,
			Entries: len(keys),
		})
	}
	return infos, nil
}

// CacheKeys 返回名为 name 的缓存中的条目身份；缓存不存在时返回 cache.ErrNotFound。
func (c *Controller) CacheKeys(ctx context.Context, name string) ([]string, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, cache.ErrNotFound
	}
	exists, err := c.storage.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, cache.ErrNotFound
	}
	named, err := c.storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return named.Keys(ctx)
}
