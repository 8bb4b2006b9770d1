package lbltools

import (
	"fmt"

	"github.com/disintegration/imaging"
)

// FrameSizeFromImage returns the dimensions of the image at path, e.g. a frame extracted from the
// annotated video. The EXIF orientation is applied, so that the size matches the displayed image.
func FrameSizeFromImage(path string) (width, height int, err error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read the frame image %q: %w", path, err)
	}

	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
