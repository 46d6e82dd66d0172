package report

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelHeight = 16

// Slice is a named 2D plane of a volume, row-major.
type Slice struct {
	Name   string
	Height int
	Width  int
	Values []float64
}

// Gray converts a probability slice to an 8-bit grayscale image. Values
// are clamped to [0, 1].
func Gray(s Slice) (*image.Gray, error) {
	if len(s.Values) != s.Height*s.Width {
		return nil, errors.Errorf("%s: %d values for %dx%d slice", s.Name, len(s.Values), s.Height, s.Width)
	}

	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := s.Values[y*s.Width+x]
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return img, nil
}

// Montage lays slices side by side, each scaled to cell x cell pixels
// with nearest neighbor interpolation and labelled with its name.
func Montage(slices []Slice, cell int) (image.Image, error) {
	if len(slices) == 0 {
		return nil, errors.New("no slices")
	}

	canvas := imaging.New(len(slices)*cell, cell+labelHeight, color.Black)
	for i, s := range slices {
		img, err := Gray(s)
		if err != nil {
			return nil, err
		}
		scaled := resize.Resize(uint(cell), uint(cell), img, resize.NearestNeighbor)
		canvas = imaging.Paste(canvas, scaled, image.Pt(i*cell, labelHeight))

		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.White,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(i*cell+2, labelHeight-3),
		}
		d.DrawString(fmt.Sprintf("%s %dx%d", s.Name, s.Width, s.Height))
	}

	return canvas, nil
}

// SaveImage writes img to path. ".tif" and ".tiff" are TIFF encoded; every
// other extension is handled by imaging.
func SaveImage(path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := tiff.Encode(f, img, nil); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return imaging.Save(img, path)
	}
}
