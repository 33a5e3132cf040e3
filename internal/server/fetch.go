package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offcache/offcache/internal/lifecycle"
	"github.com/offcache/offcache/internal/logging"
	"github.com/offcache/offcache/internal/network"
)

const (
	headerSource     = "X-Offcache-Source"
	headerGeneration = "X-Offcache-Generation"
)

// fetchHandler 把 Fiber 请求转换为 *http.Request 交给 Dispatcher，并原样写回响应。
type fetchHandler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
	generation string
}

func newFetchHandler(opts AppOptions) *fetchHandler {
	return &fetchHandler{
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		generation: opts.Generation,
	}
}

func (h *fetchHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	req, err := toHTTPRequest(c)
	if err != nil {
		h.logResult(c, requestID, "", 0, started, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	resp, source, err := h.dispatcher.Fetch(req.Context(), req)
	if err != nil {
		h.logResult(c, requestID, source, 0, started, err)
		if h.generation != "" {
			c.Set(headerGeneration, h.generation)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "network_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerSource, string(source))
	if h.generation != "" {
		c.Set(headerGeneration, h.generation)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(c, requestID, source, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(c, requestID, source, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("response stream failed: %v", err))
	}
	return nil
}

func (h *fetchHandler) logResult(c fiber.Ctx, requestID string, source lifecycle.Source, status int, started time.Time, err error) {
	fields := logging.RequestFields(
		requestID,
		c.Method(),
		string(c.Request().RequestURI()),
		h.generation,
		string(source),
	)
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

// toHTTPRequest 以原始 RequestURI 构造请求，保留查询串与转义路径。
func toHTTPRequest(c fiber.Ctx) (*http.Request, error) {
	requestURI := string(c.Request().RequestURI())
	if requestURI == "" {
		requestURI = "/"
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), requestURI, body)
	if err != nil {
		return nil, err
	}
	req.RequestURI = requestURI
	req.Host = c.Hostname()
	req.Header = fiberHeadersAsHTTP(c)
	return req, nil
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if network.IsHopByHopHeader(key) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
