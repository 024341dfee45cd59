package loaders

import (
	"bufio"
	"engine/types"
	"github.com/go-gl/mathgl/mgl32"
	"io"
	"math"
	"strconv"
	"strings"
)

// func LoadMesh {{{

// Wavefront OBJ.
//
// Only polygonal geometry is used. Faces with more than three corners are split into a
// triangle fan, identical corners share one vertex. Free form geometry and grouping
// statements are skipped.
//
// Object format: http://paulbourke.net/dataformats/obj/
func LoadMesh(r io.Reader, name string) (interface{}, error) {
	var (
		positions []mgl32.Vec3
		normals   []mgl32.Vec3
		uvs       []mgl32.Vec2
	)

	mesh := &Mesh{Name: name}
	seen := make(map[Vertex]uint32, 256)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0

	for sc.Scan() {
		line++

		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "v": // x, y, z, [w]
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, types.NewParseError("line %d: vertex: %s", line, err)
			}
			positions = append(positions, mgl32.Vec3{v[0], v[1], v[2]})

		case "vt": // u, [v, w]
			v, err := parseFloats(fields[1:], 1)
			if err != nil {
				return nil, types.NewParseError("line %d: uv: %s", line, err)
			}

			uv := mgl32.Vec2{v[0], 0}
			if len(v) > 1 {
				// OBJ has v going up, images go down.
				uv[1] = 1 - v[1]
			}
			uvs = append(uvs, uv)

		case "vn": // i, j, k
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, types.NewParseError("line %d: normal: %s", line, err)
			}
			normals = append(normals, mgl32.Vec3{v[0], v[1], v[2]})

		case "f": // v/vt/vn v/vt/vn v/vt/vn ...
			if len(fields) < 4 {
				return nil, types.NewParseError("line %d: face with %d corners", line, len(fields)-1)
			}

			corners := make([]uint32, 0, len(fields)-1)

			for _, f := range fields[1:] {
				vert, err := faceVertex(f, positions, uvs, normals)
				if err != nil {
					return nil, types.NewParseError("line %d: face: %s", line, err)
				}

				idx, ok := seen[vert]
				if !ok {
					idx = uint32(len(mesh.Vertices))
					seen[vert] = idx
					mesh.Vertices = append(mesh.Vertices, vert)
				}

				corners = append(corners, idx)
			}

			for i := 1; i+1 < len(corners); i++ {
				mesh.Indices = append(mesh.Indices, corners[0], corners[i], corners[i+1])
			}

		case "mtllib":
			mesh.MaterialLibs = append(mesh.MaterialLibs, fields[1:]...)

		case "usemtl":
			if len(fields) > 1 {
				mesh.Materials = append(mesh.Materials, fields[1])
			}

		case "vp", "cstype", "deg", "bmat", "step",
			"p", "l", "curv", "curv2", "surf",
			"parm", "trim", "hole", "scrv", "sp", "end", "con",
			"g", "s", "mg", "o",
			"bevel", "c_interp", "d_interp", "lod", "shadow_obj", "trace_obj", "ctech", "stech":

		default:
			return nil, types.NewParseError("line %d: unknown statement %q", line, fields[0])
		}
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(mesh.Indices) == 0 {
		return nil, types.NewParseError("no faces")
	}

	mesh.bounds()

	return mesh, nil
} // }}}

// func Mesh.bounds {{{

func (m *Mesh) bounds() {
	inf := float32(math.Inf(1))

	m.Min = mgl32.Vec3{inf, inf, inf}
	m.Max = mgl32.Vec3{-inf, -inf, -inf}

	for _, v := range m.Vertices {
		for i := 0; i < 3; i++ {
			if v.Position[i] < m.Min[i] {
				m.Min[i] = v.Position[i]
			}

			if v.Position[i] > m.Max[i] {
				m.Max[i] = v.Position[i]
			}
		}
	}
} // }}}

// func faceVertex {{{

// One face corner, "v", "v/vt", "v//vn" or "v/vt/vn".
func faceVertex(f string, positions []mgl32.Vec3, uvs []mgl32.Vec2, normals []mgl32.Vec3) (Vertex, error) {
	var vert Vertex

	parts := strings.Split(f, "/")
	if len(parts) > 3 {
		return vert, types.NewParseError("bad corner %q", f)
	}

	i, err := objIndex(parts[0], len(positions))
	if err != nil {
		return vert, err
	}
	vert.Position = positions[i]

	if len(parts) > 1 && parts[1] != "" {
		if i, err = objIndex(parts[1], len(uvs)); err != nil {
			return vert, err
		}
		vert.UV = uvs[i]
	}

	if len(parts) > 2 && parts[2] != "" {
		if i, err = objIndex(parts[2], len(normals)); err != nil {
			return vert, err
		}
		vert.Normal = normals[i]
	}

	return vert, nil
} // }}}

// func objIndex {{{

// OBJ indices start at 1, negative ones count back from the last element defined so far.
func objIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, types.NewParseError("bad index %q", s)
	}

	switch {
	case i > 0 && i <= n:
		return i - 1, nil
	case i < 0 && -i <= n:
		return n + i, nil
	}

	return 0, types.NewParseError("index %d out of range (%d defined)", i, n)
} // }}}

// func parseFloats {{{

func parseFloats(fields []string, want int) ([]float32, error) {
	if len(fields) < want {
		return nil, types.NewParseError("expected %d values, got %d", want, len(fields))
	}

	out := make([]float32, 0, len(fields))

	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(v))
	}

	return out, nil
} // }}}
