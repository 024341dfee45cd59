// Image helpers shared by the texture loader.
//
// Everything returned here is an *image.NRGBA, the format imaging works in natively and the one
// textures are handed out in. ImageToPrefer() converts anything else.
package image

import (
	"github.com/anthonynsimon/bild/transform"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"
)

// Which package does the resizing.
type Method string

const (
	// github.com/nfnt/resize, Lanczos3.
	//
	// Much faster than imaging on ARM, the default.
	MethodNfnt Method = "nfnt"

	// github.com/disintegration/imaging, Lanczos.
	MethodImaging Method = "imaging"
)

// func ParseMethod {{{

// Empty means the default.
func ParseMethod(s string) (Method, bool) {
	switch Method(strings.ToLower(s)) {
	case "", MethodNfnt:
		return MethodNfnt, true
	case MethodImaging:
		return MethodImaging, true
	}

	return MethodNfnt, false
} // }}}

// func Fit {{{

// Given the image point (ip), we want it to fit within wanted point (wp).
// Return the resulting dimensions and percentage to scale by to achieve it.
//
// The returning float64 is what to scale the image to, or 0 if no scaling needed.
func Fit(ip, wp image.Point, enlarge bool) (image.Point, float64) {
	// Both dimensions already fit.
	if !enlarge && ip.X <= wp.X && ip.Y <= wp.Y {
		return ip, 0
	}

	dx := float64(wp.X) / float64(ip.X)
	dy := float64(wp.Y) / float64(ip.Y)
	by := dx

	if dy < dx {
		by = dy
	}

	np := image.Point{
		X: int(math.Round(float64(ip.X) * by)),
		Y: int(math.Round(float64(ip.Y) * by)),
	}

	// Never scale a dimension away entirely.
	if np.X < 1 {
		np.X = 1
	}

	if np.Y < 1 {
		np.Y = 1
	}

	return np, by
} // }}}

// func LoadReader {{{

// Given an io.Reader attempt to load an image from it.
//
// The image will be rotated automatically if needed.
func LoadReader(r io.Reader) (image.Image, error) {
	// Works for every format registered with image, only JPEG gets rotated though.
	return imaging.Decode(r, imaging.AutoOrientation(true))
} // }}}

// func LoadWebP {{{

func LoadWebP(r io.Reader) (image.Image, error) {
	return webp.Decode(r)
} // }}}

// func Resize {{{

// Resizes img to exactly size.
func Resize(img image.Image, size image.Point, method Method) *image.NRGBA {
	if method == MethodImaging {
		return imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
	}

	return ImageToPrefer(resize.Resize(uint(size.X), uint(size.Y), img, resize.Lanczos3))
} // }}}

// func Mipmaps {{{

// Returns the chain of images below img, each half the size of the one before, down to 1x1.
//
// img itself is not included.
func Mipmaps(img image.Image) []*image.NRGBA {
	var out []*image.NRGBA

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	src := img

	for w > 1 || h > 1 {
		if w > 1 {
			w /= 2
		}

		if h > 1 {
			h /= 2
		}

		level := ImageToPrefer(transform.Resize(src, w, h, transform.Linear))
		out = append(out, level)

		// Each level comes from the previous one, like a box filter pyramid.
		src = level
	}

	return out
} // }}}

// func ImageToPrefer {{{

// Converts a provided image.Image to image.NRGBA format.
func ImageToPrefer(in image.Image) *image.NRGBA {
	if nrgba, ok := in.(*image.NRGBA); ok {
		return nrgba
	}

	bnds := in.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, bnds.Dx(), bnds.Dy()))

	draw.Draw(nrgba, nrgba.Bounds(), in, bnds.Min, draw.Src)

	return nrgba
} // }}}
