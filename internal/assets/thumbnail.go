package assets

import (
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const thumbnailJPEGQuality = 85

// renderThumbnail decodes srcPath, scales it to the target width preserving
// aspect ratio, and writes a JPEG to dstPath via a temp file.
func renderThumbnail(srcPath, dstPath string, width int) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return fmt.Errorf("source image has empty bounds")
	}
	// Never upscale.
	if width > bounds.Dx() {
		width = bounds.Dx()
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp thumbnail: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	err = jpeg.Encode(tmp, dst, &jpeg.Options{Quality: thumbnailJPEGQuality})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	return nil
}
