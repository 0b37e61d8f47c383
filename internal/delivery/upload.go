package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// QualityPreset bundles JPEG quality with a maximum upload size.
type QualityPreset struct {
	JPEGQuality int
	MaxWidth    int
	MaxHeight   int
}

var qualityPresets = map[string]QualityPreset{
	"high":   {JPEGQuality: 95, MaxWidth: 3840, MaxHeight: 2160},
	"medium": {JPEGQuality: 80, MaxWidth: 1920, MaxHeight: 1080},
	"low":    {JPEGQuality: 70, MaxWidth: 1920, MaxHeight: 1080},
}

// PresetFor returns the named preset.
func PresetFor(name string) (QualityPreset, error) {
	p, ok := qualityPresets[strings.ToLower(name)]
	if !ok {
		return QualityPreset{}, fmt.Errorf("unknown upload quality %q (want high, medium or low)", name)
	}
	return p, nil
}

// UploadConfig configures the HTTP upload endpoint.
type UploadConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL          string        `mapstructure:"url" yaml:"url" json:"url"`
	Secret       string        `mapstructure:"secret" yaml:"secret" json:"-"`
	Source       string        `mapstructure:"source" yaml:"source" json:"source"`
	UploaderName string        `mapstructure:"uploader_name" yaml:"uploader_name" json:"uploader_name"`
	AlbumName    string        `mapstructure:"album_name" yaml:"album_name" json:"album_name"`
	Quality      string        `mapstructure:"quality" yaml:"quality" json:"quality"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
}

// DefaultUploadConfig returns a disabled uploader with high quality and a
// one hour token lifetime.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		Source:       "eventshot",
		UploaderName: "Event Photographer",
		Quality:      "high",
		Timeout:      30 * time.Second,
		TokenTTL:     time.Hour,
	}
}

// Validate checks an enabled configuration.
func (c UploadConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.New("upload url is empty")
	}
	if c.Secret == "" {
		return errors.New("upload secret is empty")
	}
	if _, err := PresetFor(c.Quality); err != nil {
		return err
	}
	if c.Timeout <= 0 || c.TokenTTL <= 0 {
		return errors.New("upload timeout and token_ttl must be positive")
	}
	return nil
}

// HTTPUploader posts the image as multipart form data with a signed token.
type HTTPUploader struct {
	cfg    UploadConfig
	preset QualityPreset
	http   *http.Client
	now    func() time.Time
}

// NewHTTPUploader returns an uploader. A nil hc uses a client with the
// configured timeout.
func NewHTTPUploader(cfg UploadConfig, hc *http.Client) (*HTTPUploader, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	preset, _ := PresetFor(cfg.Quality)
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPUploader{cfg: cfg, preset: preset, http: hc, now: time.Now}, nil
}

// Name returns "upload".
func (u *HTTPUploader) Name() string { return "upload" }

// Token returns an HS256 JWT carrying source, iat and exp claims.
func (u *HTTPUploader) Token() (string, error) {
	now := u.now()
	claims := jwt.MapClaims{
		"source": u.cfg.Source,
		"iat":    now.Unix(),
		"exp":    now.Add(u.cfg.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(u.cfg.Secret))
}

// Deliver downsizes img to the quality preset, encodes it as JPEG and posts
// it in the multipart "photo" field with a bearer token. 4xx responses are
// Rejected errors; 5xx responses and transport failures are Network errors.
func (u *HTTPUploader) Deliver(ctx context.Context, img image.Image, meta Metadata) (Ack, error) {
	if b := img.Bounds(); b.Dx() > u.preset.MaxWidth || b.Dy() > u.preset.MaxHeight {
		img = imaging.Fit(img, u.preset.MaxWidth, u.preset.MaxHeight, imaging.Lanczos)
	}

	body, contentType, err := u.encode(img, meta)
	if err != nil {
		return Ack{}, &Error{Kind: Rejected, Err: err}
	}
	token, err := u.Token()
	if err != nil {
		return Ack{}, &Error{Kind: Rejected, Err: fmt.Errorf("sign token: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Ack{}, &Error{Kind: Rejected, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := u.http.Do(req)
	if err != nil {
		return Ack{}, &Error{Kind: Network, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 500:
		return Ack{}, &Error{Kind: Network, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Ack{}, &Error{Kind: Rejected, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	ack := Ack{Deliverer: u.Name(), Location: u.cfg.URL, Bytes: int64(len(body))}
	var parsed struct {
		URL string `json:"url"`
		ID  string `json:"id"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.URL != "" {
		ack.Location = parsed.URL
	}
	return ack, nil
}

func (u *HTTPUploader) encode(img image.Image, meta Metadata) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ts := meta.ProcessedAt
	if ts.IsZero() {
		ts = u.now()
	}
	fields := [][2]string{
		{"uploaderName", u.cfg.UploaderName},
		{"albumName", u.cfg.AlbumName},
		{"source", u.cfg.Source},
		{"timestamp", ts.UTC().Format(time.RFC3339)},
		{"auto_uploaded", "true"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	part, err := mw.CreateFormFile("photo", meta.FileName(".jpg"))
	if err != nil {
		return nil, "", err
	}
	if err := utils.EncodeJPEG(part, img, u.preset.JPEGQuality); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
