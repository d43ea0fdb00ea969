package dataset

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// decodeGray decodes raw image bytes into width*height grayscale intensities
// in [0, 255], row-major.
func decodeGray(raw []byte, width, height int) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, fmt.Errorf("image is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}
	pixels := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			pixels[y*width+x] = float64(g.Y)
		}
	}
	return pixels, nil
}
