// Package assets downloads product images, renders thumbnails, and records
// the attribution the source requires.
package assets

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/catalog"
)

// Config captures the parameters for the image cache.
type Config struct {
	// ImagesDir is the root directory for cached images. Thumbnails live in a
	// thumbs/ subdirectory next to it.
	ImagesDir string
	// MaxBytes caps a single download. Zero means 20 MiB.
	MaxBytes int64
	// ThumbnailWidth is the target thumbnail width in pixels. Zero disables
	// thumbnail generation.
	ThumbnailWidth int
	// AllowedLicenses restricts which image licenses get cached. Empty allows
	// everything.
	AllowedLicenses []string
	// FetchTimeout bounds one download. Zero means 30s.
	FetchTimeout time.Duration
}

const defaultMaxBytes = 20 << 20

// Cache is a filesystem-backed image cache. Concurrent Acquire calls for the
// same camera are serialized so a camera's image is downloaded at most once.
type Cache struct {
	cfg     Config
	store   catalog.Store
	client  *http.Client
	logger  *zap.Logger
	allowed map[string]struct{}

	locks sync.Map // camera id -> *sync.Mutex
}

// New creates a Cache rooted at cfg.ImagesDir, creating the directory tree if
// needed.
func New(cfg Config, store catalog.Store, logger *zap.Logger) (*Cache, error) {
	if strings.TrimSpace(cfg.ImagesDir) == "" {
		return nil, fmt.Errorf("images directory is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	for _, dir := range []string{cfg.ImagesDir, filepath.Join(cfg.ImagesDir, "thumbs")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create images directory: %w", err)
		}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedLicenses))
	for _, lic := range cfg.AllowedLicenses {
		allowed[strings.ToLower(strings.TrimSpace(lic))] = struct{}{}
	}
	return &Cache{
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		logger:  logger.Named("assets"),
		allowed: allowed,
	}, nil
}

// Acquire downloads cam's source image, writes a thumbnail, and records the
// attribution. Cameras whose image is already cached, that name no source
// image, or whose license is not allowed are skipped.
func (c *Cache) Acquire(ctx context.Context, cam catalog.CameraRecord) error {
	if cam.ID == "" {
		return fmt.Errorf("%w: camera id is required", catalog.ErrAssetAcquisition)
	}
	if cam.ImageURL == nil || *cam.ImageURL == "" {
		return catalog.Skip("camera %s has no source image", cam.ID)
	}
	if !c.licenseAllowed(cam.ImageLicense) {
		return catalog.Skip("camera %s image license %q is not allowed", cam.ID, deref(cam.ImageLicense))
	}

	mu := c.lockFor(cam.ID)
	mu.Lock()
	defer mu.Unlock()

	if cam.HasImage() {
		return nil
	}
	// Another Acquire may have finished while this one waited for the lock.
	if existing, err := c.store.Lookup(ctx, cam.ID); err == nil && existing.HasImage() {
		return nil
	}

	imagePath, err := c.download(ctx, cam.ID, *cam.ImageURL)
	if err != nil {
		return err
	}

	thumbPath := ""
	if c.cfg.ThumbnailWidth > 0 {
		thumbPath, err = c.writeThumbnail(cam.ID, imagePath)
		if err != nil {
			// A missing thumbnail is recoverable; the original is cached.
			c.logger.Warn("thumbnail generation failed",
				zap.String("camera_id", cam.ID),
				zap.Error(err))
			thumbPath = ""
		}
	}

	attr := catalog.ImageAttributionRecord{
		CameraID:        cam.ID,
		ImageURL:        *cam.ImageURL,
		LocalPath:       imagePath,
		Author:          deref(cam.ImageAuthor),
		License:         deref(cam.ImageLicense),
		AttributionText: attributionText(cam),
	}
	if err := c.store.SetImageAssets(ctx, cam.ID, thumbPath, attr); err != nil {
		return fmt.Errorf("record image assets for %s: %w", cam.ID, err)
	}

	c.logger.Debug("image cached",
		zap.String("camera_id", cam.ID),
		zap.String("path", imagePath),
		zap.Bool("thumbnail", thumbPath != ""))
	return nil
}

func (c *Cache) lockFor(id string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Cache) licenseAllowed(license *string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	if license == nil || *license == "" {
		return false
	}
	_, ok := c.allowed[strings.ToLower(strings.TrimSpace(*license))]
	return ok
}

// download fetches url into ImagesDir/<id>.<ext> via a temp file so readers
// never observe a partial image.
func (c *Cache) download(ctx context.Context, id, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request for %s: %v", catalog.ErrAssetAcquisition, id, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch image for %s: %v", catalog.ErrAssetAcquisition, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch image for %s: status %d", catalog.ErrAssetAcquisition, id, resp.StatusCode)
	}

	ext := imageExt(resp.Header.Get("Content-Type"), url)
	finalPath := filepath.Join(c.cfg.ImagesDir, id+ext)

	tmp, err := os.CreateTemp(c.cfg.ImagesDir, id+".*.part")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file for %s: %v", catalog.ErrAssetAcquisition, id, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	limited := io.LimitReader(resp.Body, c.cfg.MaxBytes+1)
	n, err := io.Copy(tmp, limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: download image for %s: %v", catalog.ErrAssetAcquisition, id, err)
	}
	if n > c.cfg.MaxBytes {
		return "", fmt.Errorf("%w: image for %s exceeds %d bytes", catalog.ErrAssetAcquisition, id, c.cfg.MaxBytes)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: image for %s is empty", catalog.ErrAssetAcquisition, id)
	}

	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: store image for %s: %v", catalog.ErrAssetAcquisition, id, err)
	}
	return finalPath, nil
}

func (c *Cache) writeThumbnail(id, imagePath string) (string, error) {
	thumbPath := filepath.Join(c.cfg.ImagesDir, "thumbs", id+".jpg")
	if err := renderThumbnail(imagePath, thumbPath, c.cfg.ThumbnailWidth); err != nil {
		return "", err
	}
	return thumbPath, nil
}

func imageExt(contentType, url string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/jpeg":
			return ".jpg"
		case "image/png":
			return ".png"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		}
	}
	if ext := strings.ToLower(path.Ext(path.Base(url))); ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".gif" || ext == ".webp" {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}
	return ".jpg"
}

func attributionText(cam catalog.CameraRecord) string {
	author := deref(cam.ImageAuthor)
	license := deref(cam.ImageLicense)
	switch {
	case author != "" && license != "":
		return fmt.Sprintf("Photo by %s, %s", author, license)
	case author != "":
		return fmt.Sprintf("Photo by %s", author)
	case license != "":
		return fmt.Sprintf("Image licensed under %s", license)
	default:
		return ""
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
