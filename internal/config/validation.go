package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverFS:     {},
	StorageDriverSQLite: {},
	StorageDriverMemory: {},
}

const supportedStorageDriverList = "fs|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.StorageDriver != StorageDriverMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if err := validateUpstream(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if g.Proxy != "" {
		if err := validateUpstream(g.Proxy); err != nil {
			return fmt.Errorf("Global.Proxy: %w", err)
		}
	}

	return c.Cache.validate()
}

func (c CacheConfig) validate() error {
	if err := ValidateGeneration(c.Generation); err != nil {
		return fmt.Errorf("Cache.Generation: %w", err)
	}
	if !strings.HasPrefix(c.Scope, "/") {
		return newFieldError("Cache.Scope", "必须以 / 开头")
	}
	if len(c.Assets) == 0 {
		return newFieldError("Cache.Assets", "至少需要一个资源")
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		if asset == "" {
			return newFieldError(assetField(i), "不能为空")
		}
		parsed, err := url.Parse(asset)
		if err != nil {
			return fmt.Errorf("%s: %w", assetField(i), err)
		}
		if parsed.Scheme != "" || parsed.Host != "" {
			return newFieldError(assetField(i), "仅支持相对路径或绝对路径，不允许包含协议或 Host")
		}
		if _, exists := seen[asset]; exists {
			return newFieldError(assetField(i), "重复")
		}
		seen[asset] = struct{}{}
	}
	return nil
}

// ValidateGeneration 校验缓存代号：非空、不含路径分隔符且不以 . 开头。
func ValidateGeneration(name string) error {
	if name == "" {
		return errors.New("缓存代号不能为空")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.New("缓存代号不允许包含路径分隔符")
	}
	if strings.HasPrefix(name, ".") {
		return errors.New("缓存代号不允许以 . 开头")
	}
	if strings.TrimSpace(name) != name {
		return errors.New("缓存代号不允许包含首尾空白")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
