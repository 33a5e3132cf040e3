package cache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// FetchFunc 通过网络获取单个缓存身份对应的响应。
type FetchFunc func(ctx context.Context, key string) (*http.Response, error)

// FetchError 描述 AddAll 中某个资源获取失败：传输错误或非 2xx 状态。
type FetchError struct {
	Key    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Key, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AddAll 并发获取全部 keys，任一失败则整体失败且不写入任何条目；全部成功后才逐条写入 c。
func AddAll(ctx context.Context, c Cache, fetch FetchFunc, keys []string) error {
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			return fmt.Errorf("add all: duplicate key %s", key)
		}
		seen[key] = struct{}{}
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		payloads = make([][]byte, len(keys))
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			data, err := fetchOne(fetchCtx, fetch, key)
			if err != nil {
				fail(err)
				return
			}
			payloads[i] = data
		}(i, key)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, key := range keys {
		if err := c.Put(ctx, key, payloads[i]); err != nil {
			return fmt.Errorf("store %s in cache %s: %w", key, c.Name(), err)
		}
	}
	return nil
}

func fetchOne(ctx context.Context, fetch FetchFunc, key string) ([]byte, error) {
	resp, err := fetch(ctx, key)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	if resp == nil {
		return nil, &FetchError{Key: key, Err: fmt.Errorf("nil response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &FetchError{Key: key, Status: resp.StatusCode}
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	return data, nil
}
