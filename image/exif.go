package image

import (
	"bytes"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"strings"
)

type exifWalker map[string]string

func (ew exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	// String() gives a readable value for every format, StringVal() only for ASCII.
	if s, err := tag.StringVal(); err == nil {
		ew[string(name)] = strings.TrimSpace(s)
		return nil
	}

	ew[string(name)] = tag.String()

	return nil
}

// func Exif {{{

// Returns the EXIF fields found in data, nil if there are none.
//
// Missing or broken EXIF data is not an error, most textures have none.
func Exif(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	ew := make(exifWalker, 16)
	x.Walk(ew)

	if len(ew) == 0 {
		return nil
	}

	return ew
} // }}}
