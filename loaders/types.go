package loaders

import (
	fimg "engine/image"
	"engine/types"
	"github.com/go-gl/mathgl/mgl32"
	"image"
)

// Type tags RegisterAll() uses.
const (
	TagTexture  types.TypeTag = "texture"
	TagMesh     types.TypeTag = "mesh"
	TagMaterial types.TypeTag = "material"
	TagRaw      types.TypeTag = "raw"
)

// type ConfYAML struct {{{

// The "textures" section of a configuration file.
type ConfYAML struct {
	// "2048x2048", larger textures are scaled down to fit.
	MaxResolution string `yaml:"maxresolution"`

	// "nfnt" or "imaging"
	Resize string `yaml:"resize"`

	Mipmaps bool `yaml:"mipmaps"`

	// "64M", images whose header claims more pixels are rejected before decoding.
	MaxPixels string `yaml:"maxpixels"`
} // }}}

// Used when Conf.MaxPixels is zero.
const DefaultMaxPixels = 64 << 20

// type Conf struct {{{

type Conf struct {
	// Zero means no limit.
	MaxResolution image.Point

	Resize fimg.Method

	Mipmaps bool

	// Zero means DefaultMaxPixels.
	MaxPixels int64
} // }}}

// type Texture struct {{{

type Texture struct {
	Name string

	// As reported by the decoder, "png", "jpeg" and so on.
	Format string

	Image *image.NRGBA

	// Size of the file before any scaling.
	Original image.Point

	// Halving chain below Image, only with mipmaps enabled.
	Mipmaps []*image.NRGBA

	// nil if the file had none.
	Exif map[string]string
} // }}}

func (t *Texture) Size() image.Point {
	return t.Image.Bounds().Size()
}

// type Vertex struct {{{

type Vertex struct {
	Position mgl32.Vec3
	UV       mgl32.Vec2
	Normal   mgl32.Vec3
} // }}}

// type Mesh struct {{{

// Indexed triangle list.
type Mesh struct {
	Name string

	// Unique vertices, faces refer to them through Indices.
	Vertices []Vertex

	// Three per triangle.
	Indices []uint32

	// Axis aligned bounding box.
	Min mgl32.Vec3
	Max mgl32.Vec3

	// From mtllib and usemtl statements, in order of appearance.
	MaterialLibs []string
	Materials    []string
} // }}}

func (m *Mesh) Triangles() int {
	return len(m.Indices) / 3
}

// type Material struct {{{

type Material struct {
	Name   string
	Shader string

	// slot => texture filename, "diffuse", "normal" and so on.
	Textures map[string]string

	Diffuse  mgl32.Vec4
	Specular mgl32.Vec3

	Shininess float32

	Params map[string]float64
} // }}}

type materialYAML struct {
	Name      string             `yaml:"name"`
	Shader    string             `yaml:"shader"`
	Textures  map[string]string  `yaml:"textures"`
	Diffuse   []float32          `yaml:"diffuse"`
	Specular  []float32          `yaml:"specular"`
	Shininess float32            `yaml:"shininess"`
	Params    map[string]float64 `yaml:"params"`
}

// type Blob struct {{{

// A file nobody knows how to parse.
type Blob struct {
	Name string
	Data []byte
} // }}}
