package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/offcache/offcache/internal/config"
)

// Storage 管理进程内全部命名缓存，对应浏览器的 CacheStorage。
type Storage interface {
	// Open 打开（不存在时创建）名为 name 的缓存。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 返回名为 name 的缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Keys 按名称升序返回所有缓存名。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个命名缓存，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Match 依名称顺序在所有已封存的缓存中查找 key，首个命中即返回；未命中返回 ErrNotFound。
	Match(ctx context.Context, key string) (*MatchResult, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个命名缓存（一个缓存代号）。
type Cache interface {
	Name() string

	// Put 写入（或覆盖）key 对应的 wire 格式响应。
	Put(ctx context.Context, key string, data []byte) error

	// Match 返回 key 对应的 wire 格式响应；不存在时返回 ErrNotFound。
	// 与 Storage.Match 不同，它不要求缓存已封存。
	Match(ctx context.Context, key string) ([]byte, error)

	// Keys 按升序返回缓存中的全部请求身份。
	Keys(ctx context.Context) ([]string, error)

	// Seal 记录安装完成及其清单指纹，此后缓存才会参与 Storage.Match。
	Seal(ctx context.Context, manifest string) error

	// Unseal 撤销封存标记，用于重新安装前。
	Unseal(ctx context.Context) error

	// Manifest 返回封存时记录的清单指纹；未封存时 ok 为 false。
	Manifest(ctx context.Context) (manifest string, ok bool, err error)
}

// MatchResult 表示一次跨缓存命中。
type MatchResult struct {
	CacheName string
	Key       string
	Data      []byte
}

// Response 将命中数据还原为 *http.Response。
func (m *MatchResult) Response(req *http.Request) (*http.Response, error) {
	return DecodeResponse(m.Data, req)
}

var (
	// ErrNotFound 表示缓存条目（或缓存本身）不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存名不合法。
	ErrInvalidName = errors.New("invalid cache name")
)

// NewStorage 根据驱动名创建 Storage，basePath 对 memory 驱动无意义。
func NewStorage(driver, basePath string) (Storage, error) {
	switch driver {
	case config.StorageDriverFS, "":
		return NewFileStorage(basePath)
	case config.StorageDriverSQLite:
		return NewSQLiteStorage(basePath)
	case config.StorageDriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// ValidateName 校验缓存名能否安全地映射为目录或行主键。
func ValidateName(name string) error {
	if err := config.ValidateGeneration(name); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
