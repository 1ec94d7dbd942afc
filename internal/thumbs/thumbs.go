// Package thumbs generates bounded-size JPEG previews of original photos.
package thumbs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const jpegQuality = 85

// Make renders a thumbnail of the image at srcPath into dstPath, scaled to fit
// within maxEdge on both sides while preserving aspect ratio. EXIF orientation
// is applied. Images already within the box are re-encoded without upscaling.
// The write is atomic: temp file in the destination directory plus rename.
func Make(srcPath, dstPath string, maxEdge int) error {
	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}

	thumb := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)

	dir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create thumb dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".thumb*.jpg")
	if err != nil {
		return fmt.Errorf("create temp thumb: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := imaging.Encode(tmp, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		tmp.Close()
		return fmt.Errorf("encode thumb: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp thumb: %w", err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return fmt.Errorf("rename thumb into place: %w", err)
	}
	return nil
}
