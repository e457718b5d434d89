package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
	"github.com/nasaharvest/street2sat/internal/pkg/telemetry"
)

// Client implements ports.Detector against a TorchServe-style model server:
// the image is POSTed to {baseURL}/predictions/{model} and the server answers
// with a JSON array of detections.
type Client struct {
	http     *fasthttp.Client
	endpoint string
	timeout  time.Duration
}

// New creates a detector client.
func New(baseURL, model string, timeout time.Duration) *Client {
	return NewWithClient(&fasthttp.Client{
		Name:                "street2sat-detector",
		MaxConnsPerHost:     16,
		MaxResponseBodySize: 16 << 20,
	}, baseURL, model, timeout)
}

// NewWithClient creates a detector client using an existing fasthttp client.
func NewWithClient(c *fasthttp.Client, baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		http:     c,
		endpoint: strings.TrimRight(baseURL, "/") + "/predictions/" + model,
		timeout:  timeout,
	}
}

// Detect sends one image to the model server.
func (c *Client) Detect(ctx context.Context, image []byte) (dets []domain.Detection, err error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanDetect)
	defer func() {
		span.SetAttributes(telemetry.AttrDetections.Int(len(dets)))
		telemetry.EndSpan(span, err)
	}()

	start := time.Now()
	defer func() {
		metrics.DetectorDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DetectorErrors.Inc()
		}
	}()

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("detector: %w", context.DeadlineExceeded)
		}
		if timeout <= 0 || left < timeout {
			timeout = left
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/octet-stream")
	req.SetBodyRaw(image)

	if timeout > 0 {
		err = c.http.DoTimeout(req, resp, timeout)
	} else {
		err = c.http.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("detector: HTTP %d: %s", code, truncate(resp.Body(), 200))
	}

	return decodeDetections(resp.Body())
}

// decodeDetections accepts a bare array, an array wrapped in a one-element
// batch, or an object with a "results" field.
func decodeDetections(body []byte) ([]domain.Detection, error) {
	trimmed := strings.TrimSpace(string(body))
	var dets []domain.Detection

	switch {
	case strings.HasPrefix(trimmed, "[["):
		var batch [][]domain.Detection
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		if len(batch) > 0 {
			dets = batch[0]
		}
	case strings.HasPrefix(trimmed, "{"):
		var wrapped struct {
			Results []domain.Detection `json:"results"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		dets = wrapped.Results
	default:
		if err := json.Unmarshal(body, &dets); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
	}

	if dets == nil {
		dets = []domain.Detection{}
	}
	return dets, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
