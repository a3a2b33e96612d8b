// Package httpclient builds the outbound client used for every payment processor call:
// an explicit per-attempt timeout and a bounded number of retries on transport errors, 429 and 5xx.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
}

func New(opts Options) *retryablehttp.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.WaitMin <= 0 {
		opts.WaitMin = 200 * time.Millisecond
	}
	if opts.WaitMax <= 0 {
		opts.WaitMax = 2 * time.Second
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = opts.Timeout
	c.RetryMax = opts.MaxRetries
	c.RetryWaitMin = opts.WaitMin
	c.RetryWaitMax = opts.WaitMax
	c.Logger = nil
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("gateway request retry",
				zap.String("method", req.Method),
				zap.String("host", req.URL.Host),
				zap.String("path", req.URL.Path),
				zap.Int("attempt", attempt))
		}
	}
	// Body non-2xx dikembalikan ke pemanggil, bukan dijadikan error.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// Response is a fully-read processor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Do sends body (may be nil) and reads the whole response.
func Do(ctx context.Context, c *retryablehttp.Client, method, url string, body []byte, headers map[string]string) (*Response, error) {
	var rdr interface{}
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
