// Package httptransport performs the actual wire I/O for a fetch: it
// turns a model.Request into a net/http request against a borrowed
// *http.Client (one per HostPool) and turns the result back into a
// model.Response, mapping dial/TLS/timeout failures onto the error
// kinds §7 defines at the core boundary.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fetchcore/internal/domain/model"
)

const defaultMaxBodySize = 10 << 20

type Client struct {
	MaxBodySize int64
}

func New() *Client {
	return &Client{MaxBodySize: defaultMaxBodySize}
}

// Do executes req against httpClient, which the caller has already
// borrowed from the connection pool for the request's host.
func (c *Client) Do(ctx context.Context, httpClient *http.Client, req *model.Request) (*model.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader(req.Body))
	if err != nil {
		return nil, model.ErrInvalidRequest
	}
	httpReq.Header = req.Headers.Clone()

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyDoError(ctx, err)
	}
	defer httpResp.Body.Close()

	maxBody := c.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBody+1))
	if err != nil {
		return nil, &model.TimeoutError{Phase: model.PhaseBodyRead, Timeout: 0}
	}
	if int64(len(body)) > maxBody {
		body = body[:maxBody]
	}

	resp := &model.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		ReceivedAt: time.Now(),
	}
	resp.Directives = parseCacheDirectives(httpResp.Header)

	return resp, nil
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}

	return bytes.NewReader(body)
}

// classifyDoError maps a net/http client error onto the core's error
// kinds. A context deadline exceeded while the request is in flight is
// reported as a Timeout at the connect-or-later phase; everything else
// reaching this point is a dial/TLS/network failure.
func classifyDoError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &model.TimeoutError{Phase: model.PhaseConnect}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return model.ErrCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.TimeoutError{Phase: model.PhaseConnect}
	}

	return model.ErrTransport
}

func parseCacheDirectives(h http.Header) model.CacheDirectives {
	d := model.CacheDirectives{
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
	}

	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case directive == "no-store":
			d.NoStore = true
		case directive == "no-cache":
			d.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
				d.MaxAge = time.Duration(secs) * time.Second
				d.HasMaxAge = true
			}
		}
	}

	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			d.Expires = t
		}
	}

	return d
}
