package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

const maxResponseBytes = 64 << 20

type enhanceRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	MimeType string `json:"mime_type"`
	Image    string `json:"image"`
}

type enhanceResponse struct {
	MimeType string `json:"mime_type"`
	Image    string `json:"image"`
	Error    string `json:"error,omitempty"`
}

// HTTPClient talks to a JSON enhancement endpoint. Images travel as base64
// JPEG in both directions.
type HTTPClient struct {
	cfg  RemoteConfig
	http *http.Client
}

// NewHTTPClient returns a client for cfg.Endpoint. A nil hc uses a fresh
// http.Client; per-call deadlines come from the timeout argument.
func NewHTTPClient(cfg RemoteConfig, hc *http.Client) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote enhancement endpoint is empty")
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{cfg: cfg, http: hc}, nil
}

// Enhance implements RemoteClient.
func (c *HTTPClient) Enhance(ctx context.Context, img image.Image, timeout time.Duration) (image.Image, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var jpg bytes.Buffer
	if err := utils.EncodeJPEG(&jpg, img, c.cfg.JPEGQuality); err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: err}
	}
	body, err := json.Marshal(enhanceRequest{
		Model:    c.cfg.Model,
		Prompt:   c.cfg.Prompt,
		MimeType: "image/jpeg",
		Image:    base64.StdEncoding.EncodeToString(jpg.Bytes()),
	})
	if err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &RemoteError{Kind: Timeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{Kind: Invalid, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &RemoteError{Kind: Timeout, Err: err}
		}
		return nil, &RemoteError{Kind: Invalid, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RemoteError{Kind: RateLimited, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return nil, &RemoteError{Kind: Timeout, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RemoteError{Kind: Invalid, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	}

	var out enhanceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return nil, &RemoteError{Kind: Invalid, Err: errors.New(out.Error)}
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: fmt.Errorf("decode image payload: %w", err)}
	}
	result, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &RemoteError{Kind: Invalid, Err: fmt.Errorf("decode image: %w", err)}
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
