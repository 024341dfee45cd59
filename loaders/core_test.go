package loaders

import (
	"bytes"
	"encoding/binary"
	fimg "engine/image"
	"engine/types"
	"errors"
	"github.com/go-gl/mathgl/mgl32"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

type testRegistrar map[types.TypeTag]types.Constructor

func (tr testRegistrar) Register(tag types.TypeTag, ctor types.Constructor) error {
	if _, ok := tr[tag]; ok {
		return errors.New("duplicate")
	}

	tr[tag] = ctor
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x), B: uint8(y), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

// A valid 1x1 PNG whose header claims w x h.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()

	data := pngBytes(t, 1, 1)

	// Signature, then the IHDR length and type, then width and height.
	binary.BigEndian.PutUint32(data[16:], w)
	binary.BigEndian.PutUint32(data[20:], h)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))

	return data
}

func isParseError(err error) bool {
	var pe *types.ParseError
	return errors.As(err, &pe)
}

// func TestTexture {{{

func TestTexture(t *testing.T) {
	data := pngBytes(t, 64, 32)

	tests := []struct {
		Conf    Conf
		Size    image.Point
		Mipmaps int
	}{
		{Conf{}, image.Point{64, 32}, 0},
		{Conf{MaxResolution: image.Point{32, 32}, Resize: fimg.MethodNfnt}, image.Point{32, 16}, 0},
		{Conf{MaxResolution: image.Point{16, 16}, Resize: fimg.MethodImaging, Mipmaps: true}, image.Point{16, 8}, 4},
		{Conf{MaxResolution: image.Point{128, 128}, Mipmaps: true}, image.Point{64, 32}, 6},
	}

	for i, test := range tests {
		v, err := NewTextureLoader(test.Conf)(bytes.NewReader(data), "materials/wall.tex")
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}

		tex, ok := v.(*Texture)
		if !ok {
			t.Fatalf("%d: Expected *Texture, Got %T", i, v)
		}

		if tex.Format != "png" || tex.Original != (image.Point{64, 32}) {
			t.Fatalf("%d: Unexpected %s %v", i, tex.Format, tex.Original)
		}

		if tex.Size() != test.Size {
			t.Fatalf("%d: Expected %v != Got %v", i, test.Size, tex.Size())
		}

		if len(tex.Mipmaps) != test.Mipmaps {
			t.Fatalf("%d: Expected %d mipmaps != Got %d", i, test.Mipmaps, len(tex.Mipmaps))
		}
	}

	if _, err := NewTextureLoader(Conf{})(strings.NewReader("garbage"), "bad.tex"); !isParseError(err) {
		t.Fatalf("Expected a ParseError != Got %v", err)
	}

	// Truncated after the header.
	if _, err := NewTextureLoader(Conf{})(bytes.NewReader(data[:60]), "cut.png"); !isParseError(err) {
		t.Fatalf("Expected a ParseError != Got %v", err)
	}
} // }}}

// func TestTextureMaxPixels {{{

func TestTextureMaxPixels(t *testing.T) {
	// 14GB of pixels if anyone tried to decode it.
	_, err := NewTextureLoader(Conf{})(bytes.NewReader(hugePNG(t, 60000, 60000)), "bomb.png")
	if !isParseError(err) || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("Expected too large != Got %v", err)
	}

	data := pngBytes(t, 64, 32)

	if _, err := NewTextureLoader(Conf{MaxPixels: 2047})(bytes.NewReader(data), "wall.png"); !isParseError(err) {
		t.Fatalf("Expected a ParseError != Got %v", err)
	}

	// Exactly the limit is fine.
	if _, err := NewTextureLoader(Conf{MaxPixels: 2048})(bytes.NewReader(data), "wall.png"); err != nil {
		t.Fatalf("At the limit: %s", err)
	}
} // }}}

const cubeSide = `# one side and a triangle
mtllib cube.mtl
o side
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 1
vn 0 0 1
usemtl wall
f 1/1/1 2/1/1 3/2/1 4/2/1
f -4//1 -3//1 -1//1
`

// func TestMesh {{{

func TestMesh(t *testing.T) {
	v, err := LoadMesh(strings.NewReader(cubeSide), "models/side.obj")
	if err != nil {
		t.Fatalf("LoadMesh: %s", err)
	}

	mesh := v.(*Mesh)

	// The quad becomes two triangles.
	if mesh.Triangles() != 3 {
		t.Fatalf("Expected 3 triangles != Got %d", mesh.Triangles())
	}

	// 4 from the quad, 3 more from the triangle since it has no uvs.
	if len(mesh.Vertices) != 7 {
		t.Fatalf("Expected 7 vertices != Got %d", len(mesh.Vertices))
	}

	if mesh.Min != (mgl32.Vec3{0, 0, 0}) || mesh.Max != (mgl32.Vec3{1, 1, 0}) {
		t.Fatalf("Bounds %v %v", mesh.Min, mesh.Max)
	}

	if uv := mesh.Vertices[2].UV; uv != (mgl32.Vec2{1, 0}) {
		t.Fatalf("Expected flipped uv, Got %v", uv)
	}

	if len(mesh.MaterialLibs) != 1 || len(mesh.Materials) != 1 || mesh.Materials[0] != "wall" {
		t.Fatalf("Materials %v %v", mesh.MaterialLibs, mesh.Materials)
	}

	bad := []string{
		"v 0 0 0\nf 1 2 3\n",
		"v 0 0\n",
		"v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2\n",
		"v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 x\n",
		"bogus 1 2 3\n",
		"# nothing\n",
	}

	for _, obj := range bad {
		if _, err := LoadMesh(strings.NewReader(obj), "bad.obj"); !isParseError(err) {
			t.Fatalf("%q: Expected a ParseError != Got %v", obj, err)
		}
	}
} // }}}

// func TestMaterial {{{

func TestMaterial(t *testing.T) {
	yml := `shader: lit
textures:
  diffuse: materials/wall.tex
diffuse: [0.5, 0.5, 0.5]
specular: [1, 1, 1]
shininess: 16
`

	v, err := LoadMaterial(strings.NewReader(yml), "materials/wall.mat")
	if err != nil {
		t.Fatalf("LoadMaterial: %s", err)
	}

	mat := v.(*Material)
	if mat.Name != "wall" || mat.Shader != "lit" || mat.Textures["diffuse"] != "materials/wall.tex" {
		t.Fatalf("Unexpected %#v", mat)
	}

	if mat.Diffuse != (mgl32.Vec4{0.5, 0.5, 0.5, 1}) || mat.Shininess != 16 {
		t.Fatalf("Unexpected %#v", mat)
	}

	bad := []string{
		"",
		"shader: [unclosed",
		"colour: red\n",
		"diffuse: [1, 2]\n",
		"shininess: -1\n",
	}

	for _, yml := range bad {
		if _, err := LoadMaterial(strings.NewReader(yml), "bad.mat"); !isParseError(err) {
			t.Fatalf("%q: Expected a ParseError != Got %v", yml, err)
		}
	}
} // }}}

// func TestRegisterAll {{{

func TestRegisterAll(t *testing.T) {
	tr := testRegistrar{}

	if err := RegisterAll(tr, Conf{}); err != nil {
		t.Fatalf("RegisterAll: %s", err)
	}

	for _, tag := range []types.TypeTag{TagTexture, TagMesh, TagMaterial, TagRaw} {
		if tr[tag] == nil {
			t.Fatalf("%s not registered", tag)
		}
	}

	v, err := tr[TagRaw](strings.NewReader("hello"), "a.bin")
	if err != nil || string(v.(*Blob).Data) != "hello" {
		t.Fatalf("raw: %v %v", v, err)
	}

	if err := RegisterAll(tr, Conf{}); err == nil {
		t.Fatal("Expected the registrar error")
	}
} // }}}

func TestTagFor(t *testing.T) {
	tests := map[string]types.TypeTag{
		"materials/wall.tex":   TagTexture,
		"Textures/Sky.PNG":     TagTexture,
		"textures/sky.webp.xz": TagTexture,
		"models/crate.obj.lz4": TagMesh,
		"materials/wall.mat":   TagMaterial,
		"maps/e1m1.bsp":        TagRaw,
		"README":               TagRaw,
	}

	for name, want := range tests {
		if got := TagFor(name); got != want {
			t.Fatalf("%s: Expected %s != Got %s", name, want, got)
		}
	}
}

func TestConf(t *testing.T) {
	co, err := ConfYAML{MaxResolution: "2048x1024", Resize: "imaging", Mipmaps: true}.Conf()
	if err != nil {
		t.Fatal(err)
	}

	if co.MaxResolution != (image.Point{2048, 1024}) || co.Resize != fimg.MethodImaging || !co.Mipmaps {
		t.Fatalf("Unexpected %#v", co)
	}

	if _, err := (ConfYAML{MaxResolution: "big"}).Conf(); err == nil {
		t.Fatal("Expected an error")
	}

	if _, err := (ConfYAML{Resize: "gimp"}).Conf(); err == nil {
		t.Fatal("Expected an error")
	}

	if co, err := (ConfYAML{MaxPixels: "16M"}).Conf(); err != nil || co.MaxPixels != 16000000 {
		t.Fatalf("maxpixels: %d %v", co.MaxPixels, err)
	}

	if _, err := (ConfYAML{MaxPixels: "lots"}).Conf(); err == nil {
		t.Fatal("Expected an error")
	}
}
