package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offcache/offcache/internal/lifecycle"
)

func TestRouterDispatchesRequests(t *testing.T) {
	recorder := &dispatchRecorder{
		respond: func(req *http.Request) (*http.Response, lifecycle.Source, error) {
			header := http.Header{}
			header.Set("Content-Type", "application/wasm")
			header.Add("Set-Cookie", "a=1")
			header.Add("Set-Cookie", "b=2")
			header.Set("Connection", "keep-alive")
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     header,
				Body:       io.NopCloser(strings.NewReader("wasm-bytes")),
			}, lifecycle.SourceCache, nil
		},
	}
	app := newTestApp(t, recorder)

	req := httptest.NewRequest(http.MethodGet, "/bmp-editor.wasm?v=7", nil)
	req.Header.Set("Accept", "application/wasm")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "wasm-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
	if resp.Header.Get("X-Offcache-Source") != "cache" {
		t.Fatalf("expected cache source header, got %q", resp.Header.Get("X-Offcache-Source"))
	}
	if resp.Header.Get("X-Offcache-Generation") != "v7" {
		t.Fatalf("expected generation header, got %q", resp.Header.Get("X-Offcache-Generation"))
	}
	if resp.Header.Get("Content-Type") != "application/wasm" {
		t.Fatalf("expected content type copied, got %q", resp.Header.Get("Content-Type"))
	}
	if len(resp.Header.Values("Set-Cookie")) != 2 {
		t.Fatalf("expected both cookies copied, got %v", resp.Header.Values("Set-Cookie"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	got := recorder.last()
	if got == nil {
		t.Fatalf("dispatcher was not called")
	}
	if got.URL.RequestURI() != "/bmp-editor.wasm?v=7" {
		t.Fatalf("unexpected request uri %s", got.URL.RequestURI())
	}
	if got.Header.Get("Accept") != "application/wasm" {
		t.Fatalf("expected request headers forwarded")
	}
}

func TestRouterForwardsRequestBody(t *testing.T) {
	var received []byte
	recorder := &dispatchRecorder{
		respond: func(req *http.Request) (*http.Response, lifecycle.Source, error) {
			received, _ = io.ReadAll(req.Body)
			return &http.Response{
				StatusCode: http.StatusCreated,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader("")),
			}, lifecycle.SourceNetwork, nil
		},
	}
	app := newTestApp(t, recorder)

	req := httptest.NewRequest(http.MethodPost, "/api/save", strings.NewReader(`{"ok":true}`))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if string(received) != `{"ok":true}` {
		t.Fatalf("unexpected forwarded body %q", received)
	}
	if resp.Header.Get("X-Offcache-Source") != "network" {
		t.Fatalf("expected network source header")
	}
}

func TestRouterReturns502OnNetworkFailure(t *testing.T) {
	recorder := &dispatchRecorder{
		respond: func(req *http.Request) (*http.Response, lifecycle.Source, error) {
			return nil, lifecycle.SourceNetwork, errors.New("connection refused")
		},
	}
	app := newTestApp(t, recorder)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"network_failed"`)) {
		t.Fatalf("expected network_failed error, got %s", string(body))
	}
}

func TestRouterSkipsDiagnosticsPaths(t *testing.T) {
	recorder := &dispatchRecorder{
		respond: func(req *http.Request) (*http.Response, lifecycle.Source, error) {
			t.Fatalf("diagnostics path must not be dispatched")
			return nil, "", nil
		},
	}
	app := newTestApp(t, recorder)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{Dispatcher: &dispatchRecorder{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected error without dispatcher")
	}
}

type dispatchRecorder struct {
	mu       sync.Mutex
	requests []*http.Request
	respond  func(*http.Request) (*http.Response, lifecycle.Source, error)
}

func (d *dispatchRecorder) Fetch(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return d.respond(req)
}

func (d *dispatchRecorder) last() *http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return nil
	}
	return d.requests[len(d.requests)-1]
}

func newTestApp(t *testing.T, dispatcher Dispatcher) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Dispatcher: dispatcher,
		Generation: "v7",
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}
