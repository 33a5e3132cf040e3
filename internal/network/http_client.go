// Package network forwards requests to the application origin. It is the
// network fetch collaborator of the offline cache controller: a request in,
// the origin's response (or the transport error) out, nothing cached.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 描述源站地址与可选的出站代理、超时。
type Options struct {
	Origin string
	Proxy  string
	// Timeout 为 0 表示不设置客户端超时。
	Timeout time.Duration
}

// Client 将请求转发到源站，不跟随重定向，响应原样交还调用方。
type Client struct {
	http   *http.Client
	origin *url.URL
}

// NewClient 解析源站地址并构建共享 http.Client。
func NewClient(opts Options) (*Client, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin: %s", opts.Origin)
	}

	transport := defaultTransport.Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		origin: origin,
	}, nil
}

// Origin 返回源站地址副本。
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Fetch 将 req 的请求 URI 解析到源站上并发起请求；req 的 Host/Scheme 会被忽略。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("fetch: nil request")
	}
	target := c.Resolve(req.URL)

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(out.Header, req.Header)
	out.Header.Del("Host")
	out.ContentLength = req.ContentLength
	out.Host = target.Host

	return c.http.Do(out)
}

// Get 以 GET 获取源站上的 requestURI，供安装阶段预缓存使用。
func (c *Client) Get(ctx context.Context, requestURI string) (*http.Response, error) {
	ref, err := url.Parse(requestURI)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(ref).String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// Resolve 保留 ref 的路径与查询，替换为源站的 scheme/host，并拼接源站路径前缀。
func (c *Client) Resolve(ref *url.URL) *url.URL {
	target := *c.origin
	prefix := c.origin.Path
	if len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	target.Path = prefix + ref.Path
	target.RawPath = ""
	if ref.RawPath != "" {
		target.RawPath = prefix + ref.RawPath
	}
	if target.Path == "" {
		target.Path = "/"
	}
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return &target
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
