package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey 返回请求的缓存身份：转义后的路径加可选查询串。只有 GET 请求拥有身份。
func RequestKey(r *http.Request) (string, bool) {
	if r == nil || r.URL == nil || r.Method != http.MethodGet {
		return "", false
	}
	return urlKey(r.URL), true
}

// ResolveAssets 将资源定位符按 scope 解析为缓存身份，保持原有顺序。
// 例如 scope "/" 下 "./" → "/"，"./app.wasm" → "/app.wasm"。
func ResolveAssets(scope string, assets []string) ([]string, error) {
	if scope == "" {
		scope = "/"
	}
	if !strings.HasSuffix(scope, "/") {
		scope += "/"
	}
	base := &url.URL{Path: scope}

	keys := make([]string, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("parse asset %q: %w", asset, err)
		}
		if ref.Scheme != "" || ref.Host != "" {
			return nil, fmt.Errorf("asset %q must be a path", asset)
		}
		key := urlKey(base.ResolveReference(ref))
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("asset %q resolves to duplicate key %s", asset, key)
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// ManifestOf 计算有序资源身份列表的指纹，用于封存标记。
func ManifestOf(keys []string) string {
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}

func urlKey(u *url.URL) string {
	key := u.EscapedPath()
	if key == "" {
		key = "/"
	}
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
