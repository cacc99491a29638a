// Package download saves wallpapers to disk and counts them against the
// user's profile.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/unsplash"
)

const (
	maxImageBytes = 64 << 20
	jpegQuality   = 90
)

// PhotoSource resolves a wallpaper id. *unsplash.Client implements it.
type PhotoSource interface {
	Photo(ctx context.Context, id string) (unsplash.Wallpaper, error)
}

// Recorder counts a download. *library.Profiles implements it.
type Recorder interface {
	RecordDownload(ctx context.Context, userID string) error
}

// Options configure New.
type Options struct {
	Dir    string
	UserID string
	// MaxWidth downsizes wider images, keeping the aspect ratio. Zero keeps
	// the original bytes.
	MaxWidth   uint
	HTTPClient *http.Client
	Photos     PhotoSource
	Recorder   Recorder
	Notifier   notify.Notifier
	Logger     logrus.FieldLogger
}

// Fetcher downloads wallpaper images.
type Fetcher struct {
	opts Options
	http *http.Client
	log  logrus.FieldLogger
}

// New returns a Fetcher writing into opts.Dir.
func New(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Fetcher{opts: opts, http: client, log: log.WithField("component", "download")}
}

// DownloadID looks the wallpaper up and downloads it.
func (f *Fetcher) DownloadID(ctx context.Context, id string) (string, error) {
	if f.opts.Photos == nil {
		return "", fmt.Errorf("download %s: no photo source configured", id)
	}
	w, err := f.opts.Photos.Photo(ctx, id)
	if err != nil {
		return "", &library.NetworkError{Op: "look up photo", Err: err}
	}
	return f.Download(ctx, w)
}

// Download saves w's largest rendition and records the download. The
// returned path is valid even when recording fails.
func (f *Fetcher) Download(ctx context.Context, w unsplash.Wallpaper) (string, error) {
	log := f.log.WithField("wallpaper_id", w.ID)
	if strings.TrimSpace(w.ID) == "" {
		return "", &library.ValidationError{Field: "wallpaper", Reason: "id is empty"}
	}
	source := w.URLs.Best()
	if source == "" {
		return "", &library.ValidationError{Field: "wallpaper", Reason: "no image url"}
	}

	body, contentType, err := f.fetch(ctx, source)
	if err != nil {
		log.WithError(err).Warn("image fetch failed")
		f.notify("Download failed.", notify.Error)
		return "", &library.NetworkError{Op: "download image", Err: err}
	}

	ext := extensionFor(contentType)
	if f.opts.MaxWidth > 0 {
		body, ext, err = shrink(body, ext, f.opts.MaxWidth)
		if err != nil {
			log.WithError(err).Warn("image resize failed")
			f.notify("Download failed.", notify.Error)
			return "", err
		}
	}

	path := filepath.Join(f.opts.Dir, sanitize(w.ID)+ext)
	if err := writeFile(path, body); err != nil {
		f.notify("Download failed.", notify.Error)
		return "", err
	}
	log.WithFields(logrus.Fields{"path": path, "bytes": len(body)}).Info("wallpaper saved")

	if f.opts.Recorder != nil && f.opts.UserID != "" {
		if err := f.opts.Recorder.RecordDownload(ctx, f.opts.UserID); err != nil {
			log.WithError(err).Warn("record download failed")
			return path, fmt.Errorf("record download: %w", err)
		}
	}
	f.notify("Wallpaper downloaded.", notify.Success)
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("image request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(body) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// shrink re-encodes body as JPEG when it is wider than maxWidth. Formats
// without a registered decoder, such as WebP, are kept as they are.
func shrink(body []byte, ext string, maxWidth uint) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(body))
	if errors.Is(err, image.ErrFormat) {
		return body, ext, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if uint(img.Bounds().Dx()) <= maxWidth {
		return body, ext, nil
	}
	scaled := resize.Resize(maxWidth, 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), ".jpg", nil
}

func writeFile(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backdrop-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename image: %w", err)
	}
	return nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func (f *Fetcher) notify(text string, severity notify.Severity) {
	if f.opts.Notifier != nil {
		f.opts.Notifier.Enqueue(text, severity)
	}
}
