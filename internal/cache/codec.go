package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// EncodeResponse 读尽 resp.Body 并序列化为 HTTP/1.1 wire 格式（状态行 + 头 + 正文）。
// 调用方不应再使用 resp.Body。
func EncodeResponse(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("encode response: nil response")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}

	stored := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
	if stored.Header == nil {
		stored.Header = http.Header{}
	}

	var buf bytes.Buffer
	if err := stored.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse 从 wire 格式还原响应，req 会被挂到 resp.Request 上。
func DecodeResponse(data []byte, req *http.Request) (*http.Response, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
	if err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, nil
}
