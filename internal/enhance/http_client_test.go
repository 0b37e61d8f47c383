package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	cfg := DefaultRemoteConfig()
	cfg.Endpoint = url
	cfg.APIKey = "secret"
	c, err := NewHTTPClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestHTTPClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		var req enhanceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/jpeg", req.MimeType)
		assert.Equal(t, DefaultPrompt, req.Prompt)

		var buf bytes.Buffer
		assert.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 32, 16))))
		_ = json.NewEncoder(w).Encode(enhanceResponse{
			MimeType: "image/png",
			Image:    base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Enhance(context.Background(), testImage(32, 16), time.Second)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), out.Bounds())
}

func TestHTTPClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    RemoteErrorKind
	}{
		{
			name:    "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    RateLimited,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
			want:    Invalid,
		},
		{
			name:    "gateway timeout",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusGatewayTimeout) },
			want:    Timeout,
		},
		{
			name:    "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
			want:    Invalid,
		},
		{
			name: "bad image payload",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(enhanceResponse{Image: base64.StdEncoding.EncodeToString([]byte("nope"))})
			},
			want: Invalid,
		},
		{
			name: "slow server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			want:    Timeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			_, err := newTestClient(t, srv.URL).Enhance(context.Background(), testImage(8, 8), timeout)
			require.Error(t, err)
			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.want, re.Kind)
		})
	}
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPClient(DefaultRemoteConfig(), nil)
	require.Error(t, err)
}
