package loaders

import (
	"bytes"
	fimg "engine/image"
	"engine/types"
	"image"
	"io"
	"path"
	"strings"
)

// func NewTextureLoader {{{

// Returns the texture constructor for co.
//
// PNG, JPEG, GIF, BMP, TIFF and WebP are understood. JPEGs are rotated according to their
// EXIF orientation, anything larger than MaxResolution is scaled down to fit.
func NewTextureLoader(co Conf) types.Constructor {
	return func(r io.Reader, name string) (interface{}, error) {
		return loadTexture(co, r, name)
	}
} // }}}

// func loadTexture {{{

func loadTexture(co Conf, r io.Reader, name string) (*Texture, error) {
	// EXIF and pixels are decoded separately, so keep the bytes around.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &types.ParseError{Reason: "unknown image format", Err: err}
	}

	if cfg.Width < 1 || cfg.Height < 1 {
		return nil, types.NewParseError("empty image %dx%d", cfg.Width, cfg.Height)
	}

	// Decoders allocate the whole bitmap from the header alone.
	limit := co.MaxPixels
	if limit < 1 {
		limit = DefaultMaxPixels
	}

	if int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, types.NewParseError("image %dx%d too large", cfg.Width, cfg.Height)
	}

	var img image.Image

	if format == "webp" || strings.EqualFold(path.Ext(name), ".webp") {
		img, err = fimg.LoadWebP(bytes.NewReader(data))
	} else {
		img, err = fimg.LoadReader(bytes.NewReader(data))
	}

	if err != nil {
		return nil, &types.ParseError{Reason: "decode " + format, Err: err}
	}

	tex := &Texture{
		Name:     name,
		Format:   format,
		Image:    fimg.ImageToPrefer(img),
		Original: img.Bounds().Size(),
		Exif:     fimg.Exif(data),
	}

	if co.MaxResolution.X > 0 && co.MaxResolution.Y > 0 {
		size, by := fimg.Fit(tex.Original, co.MaxResolution, false)
		if by != 0 && size != tex.Original {
			tex.Image = fimg.Resize(tex.Image, size, co.Resize)
		}
	}

	if co.Mipmaps {
		tex.Mipmaps = fimg.Mipmaps(tex.Image)
	}

	return tex, nil
} // }}}
