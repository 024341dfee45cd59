// Constructors for the resource types an engine usually needs.
//
// Each one turns a stream into a ready to use object, textures, meshes, materials or plain
// bytes. RegisterAll() hands them to the resource manager.
package loaders

import (
	fimg "engine/image"
	"engine/types"
	"errors"
	"fmt"
	units "github.com/docker/go-units"
	"io"
	"path"
	"strings"
)

// func ConfYAML.Conf {{{

func (cy ConfYAML) Conf() (Conf, error) {
	var co Conf

	if cy.MaxResolution != "" {
		num, err := fmt.Sscanf(cy.MaxResolution, "%dx%d", &co.MaxResolution.X, &co.MaxResolution.Y)
		if err != nil || num != 2 || co.MaxResolution.X < 1 || co.MaxResolution.Y < 1 {
			return co, errors.New("invalid maxresolution")
		}
	}

	method, ok := fimg.ParseMethod(cy.Resize)
	if !ok {
		return co, fmt.Errorf("invalid resize %q", cy.Resize)
	}

	co.Resize = method
	co.Mipmaps = cy.Mipmaps

	if cy.MaxPixels != "" {
		pixels, err := units.FromHumanSize(cy.MaxPixels)
		if err != nil || pixels < 1 {
			return co, fmt.Errorf("invalid maxpixels %q", cy.MaxPixels)
		}

		co.MaxPixels = pixels
	}

	return co, nil
} // }}}

// func RegisterAll {{{

func RegisterAll(reg types.Registrar, co Conf) error {
	ctors := []struct {
		Tag  types.TypeTag
		Ctor types.Constructor
	}{
		{TagTexture, NewTextureLoader(co)},
		{TagMesh, LoadMesh},
		{TagMaterial, LoadMaterial},
		{TagRaw, LoadRaw},
	}

	for _, c := range ctors {
		if err := reg.Register(c.Tag, c.Ctor); err != nil {
			return fmt.Errorf("%s: %w", c.Tag, err)
		}
	}

	return nil
} // }}}

// func TagFor {{{

// Guesses the type tag from the file extension, compressed copies count as the plain file.
func TagFor(filename string) types.TypeTag {
	name := strings.ToLower(filename)
	name = strings.TrimSuffix(name, ".xz")
	name = strings.TrimSuffix(name, ".lz4")

	switch path.Ext(name) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".tex":
		return TagTexture
	case ".obj":
		return TagMesh
	case ".mat", ".yaml", ".yml":
		return TagMaterial
	}

	return TagRaw
} // }}}

// func LoadRaw {{{

func LoadRaw(r io.Reader, name string) (interface{}, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return &Blob{Name: name, Data: data}, nil
} // }}}
