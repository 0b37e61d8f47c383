package delivery

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finished(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 120, 80, 40, 255
	}
	return img
}

func testMeta() Metadata {
	return Metadata{
		ItemID:       "item-1",
		SourcePath:   "/in/DSC_0001.JPG",
		Stem:         "DSC_0001",
		DiscoveredAt: time.Unix(1700000000, 0),
		ProcessedAt:  time.Unix(1700000005, 0),
	}
}

func TestSanitizeStem(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"DSC_0001", "DSC_0001"},
		{"Café Gäste", "Cafe_Gaste"},
		{"a/b\\c", "a_b_c"},
		{"___", "image"},
		{"", "image"},
		{"日本", "image"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeStem(tt.in))
		})
	}
	assert.Equal(t, "DSC_0001", Stem("/x/y/DSC_0001.JPG"))
}

func TestOutputName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		name   string
		stem   string
		itemID string
		want   string
	}{
		{"with item tag", "DSC_0001", "item-1", "processed_DSC_0001_1700000000_item1.jpg"},
		{"uuid tag", "DSC_0001", "3F2504E0-4F89-11D3-9A0C-0305E82C3301", "processed_DSC_0001_1700000000_3f2504e0.jpg"},
		{"no id", "DSC_0001", "", "processed_DSC_0001_1700000000.jpg"},
		{"folded stem", "Café", "abc", "processed_Cafe_1700000000_abc.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputName(tt.stem, at, tt.itemID, ".jpg"))
		})
	}
}

func TestOutputName_SameStemDifferentItems(t *testing.T) {
	at := time.Unix(1700000000, 0)
	// "Café" and "Cafe" sanitize to the same stem
	a := OutputName("Café", at, "0b1c2d3e-aaaa", ".jpg")
	b := OutputName("Cafe", at, "9f8e7d6c-bbbb", ".jpg")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, OutputName("Café", at, "0b1c2d3e-aaaa", ".jpg"), "names are stable per item")

	dir := t.TempDir()
	d := NewDirectoryDeliverer(dir, 90)
	for _, id := range []string{"0b1c2d3e-aaaa", "9f8e7d6c-bbbb"} {
		meta := testMeta()
		meta.ItemID = id
		_, err := d.Deliver(context.Background(), finished(30, 20), meta)
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLayout_EnsureAndBackup(t *testing.T) {
	root := t.TempDir()
	l := Layout{
		Inbound: filepath.Join(root, "in"),
		Backup:  filepath.Join(root, "backup"),
		Output:  filepath.Join(root, "out"),
	}
	require.NoError(t, l.Validate())
	require.NoError(t, l.EnsureDirs())

	src := filepath.Join(l.Inbound, "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("original bytes"), 0o600))
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst, err := l.BackupOriginal(src, "item-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Backup, "a_item1.jpg"), dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))
	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(mtime))

	// second call is a no-op
	again, err := l.BackupOriginal(src, "item-1")
	require.NoError(t, err)
	assert.Equal(t, dst, again)

	_, err = os.Stat(src)
	require.NoError(t, err, "inbound file is kept")
}

func TestLayout_BackupSameNameFromDifferentDirs(t *testing.T) {
	root := t.TempDir()
	l := Layout{Inbound: filepath.Join(root, "in"), Backup: filepath.Join(root, "backup"), Output: filepath.Join(root, "out")}
	require.NoError(t, l.EnsureDirs())

	srcs := map[string]string{"card-a": "first card", "card-b": "second card"}
	dsts := make(map[string]string)
	for card, content := range srcs {
		dir := filepath.Join(root, card)
		require.NoError(t, os.MkdirAll(dir, 0o750))
		src := filepath.Join(dir, "IMG_0001.jpg")
		require.NoError(t, os.WriteFile(src, []byte(content), 0o600))
		dst, err := l.BackupOriginal(src, card)
		require.NoError(t, err)
		dsts[card] = dst
	}
	require.NotEqual(t, dsts["card-a"], dsts["card-b"])
	for card, dst := range dsts {
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, srcs[card], string(data))
	}
	assert.Equal(t, "IMG_0001.jpg", BackupName("IMG_0001.jpg", ""))
}

func TestLayout_Validate(t *testing.T) {
	require.Error(t, Layout{Inbound: "a", Backup: "a", Output: "b"}.Validate())
	require.Error(t, Layout{Inbound: "a", Backup: "", Output: "b"}.Validate())
	require.NoError(t, DefaultLayout().Validate())
}

func TestDirectoryDeliverer_WritesJPEG(t *testing.T) {
	dir := t.TempDir()
	d := NewDirectoryDeliverer(dir, 0)

	ack, err := d.Deliver(context.Background(), finished(60, 40), testMeta())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processed_DSC_0001_1700000000_item1.jpg"), ack.Location)
	assert.Positive(t, ack.Bytes)

	// retries replace their own output
	_, err = d.Deliver(context.Background(), finished(60, 40), testMeta())
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHTTPUploader_Success(t *testing.T) {
	secret := "s3cret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.Parse(auth, func(*jwt.Token) (any, error) { return []byte(secret), nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims, _ := tok.Claims.(jwt.MapClaims)
		assert.Equal(t, "eventshot", claims["source"])
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		assert.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "Event Photographer", r.FormValue("uploaderName"))
		assert.Equal(t, "Gala", r.FormValue("albumName"))
		assert.Equal(t, "true", r.FormValue("auto_uploaded"))
		assert.Equal(t, "2023-11-14T22:13:25Z", r.FormValue("timestamp"))
		f, hdr, err := r.FormFile("photo")
		if assert.NoError(t, err) {
			defer func() { _ = f.Close() }()
			assert.Equal(t, "processed_DSC_0001_1700000000_item1.jpg", hdr.Filename)
			_, _ = io.Copy(io.Discard, f)
		}
		_, _ = w.Write([]byte(`{"url":"https://photos.example/p/1"}`))
	}))
	defer srv.Close()

	cfg := DefaultUploadConfig()
	cfg.URL = srv.URL
	cfg.Secret = secret
	cfg.AlbumName = "Gala"
	u, err := NewHTTPUploader(cfg, nil)
	require.NoError(t, err)

	ack, err := u.Deliver(context.Background(), finished(50, 70), testMeta())
	require.NoError(t, err)
	assert.Equal(t, "https://photos.example/p/1", ack.Location)
}

func TestHTTPUploader_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"too large", http.StatusRequestEntityTooLarge, Rejected},
		{"unauthorized", http.StatusUnauthorized, Rejected},
		{"server error", http.StatusBadGateway, Network},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			cfg := DefaultUploadConfig()
			cfg.URL, cfg.Secret = srv.URL, "x"
			u, err := NewHTTPUploader(cfg, nil)
			require.NoError(t, err)

			_, err = u.Deliver(context.Background(), finished(10, 10), testMeta())
			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.want, de.Kind)
			assert.Equal(t, tt.want == Rejected, IsRejected(err))
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		cfg := DefaultUploadConfig()
		cfg.URL, cfg.Secret = url, "x"
		u, err := NewHTTPUploader(cfg, nil)
		require.NoError(t, err)
		_, err = u.Deliver(context.Background(), finished(10, 10), testMeta())
		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, Network, de.Kind)
	})
}

func TestUploadConfigValidate(t *testing.T) {
	require.NoError(t, DefaultUploadConfig().Validate(), "disabled config is always valid")

	cfg := DefaultUploadConfig()
	cfg.Enabled = true
	require.Error(t, cfg.Validate())

	cfg.URL, cfg.Secret = "http://x", "y"
	require.NoError(t, cfg.Validate())
	cfg.Quality = "ultra"
	require.Error(t, cfg.Validate())

	p, err := PresetFor("Medium")
	require.NoError(t, err)
	assert.Equal(t, 80, p.JPEGQuality)
}

type recordingDeliverer struct {
	name  string
	err   error
	calls int
}

func (r *recordingDeliverer) Name() string { return r.name }
func (r *recordingDeliverer) Deliver(context.Context, image.Image, Metadata) (Ack, error) {
	r.calls++
	if r.err != nil {
		return Ack{}, r.err
	}
	return Ack{Deliverer: r.name, Location: r.name + "-loc"}, nil
}

func TestMulti(t *testing.T) {
	a := &recordingDeliverer{name: "a"}
	b := &recordingDeliverer{name: "b", err: &Error{Kind: Network, Err: errors.New("down")}}
	c := &recordingDeliverer{name: "c"}

	ack, err := Multi{a, c}.Deliver(context.Background(), finished(1, 1), testMeta())
	require.NoError(t, err)
	assert.Equal(t, "a-loc", ack.Location)

	_, err = Multi{a, b, c}.Deliver(context.Background(), finished(1, 1), testMeta())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b:")
	assert.Equal(t, 1, c.calls, "later deliverers are skipped after a failure")
}

func TestPrintSheetDeliverer(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPrintSheetDeliverer(dir, 5, 7)
	require.NoError(t, err)

	w, h := p.PageSize(1500, 2100)
	assert.Equal(t, [2]float64{5, 7}, [2]float64{w, h})
	w, h = p.PageSize(2100, 1500)
	assert.Equal(t, [2]float64{7, 5}, [2]float64{w, h})

	img := image.NewNRGBA(image.Rect(0, 0, 70, 50))
	img.Set(1, 1, color.White)
	ack, err := p.Deliver(context.Background(), img, testMeta())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ack.Location, ".pdf"))

	data, err := os.ReadFile(ack.Location)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	_, err = NewPrintSheetDeliverer("", 5, 7)
	require.Error(t, err)
}
