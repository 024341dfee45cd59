package loaders

import (
	"engine/types"
	"errors"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
	"io"
	"path"
	"strings"
)

// func LoadMaterial {{{

// A material definition in YAML.
//
//	name: wall
//	shader: lit
//	textures:
//	  diffuse: materials/wall.tex
//	diffuse: [1, 1, 1, 1]
//	specular: [0.5, 0.5, 0.5]
//	shininess: 32
//
// Unknown keys are rejected, a typo should not silently give a default material.
func LoadMaterial(r io.Reader, name string) (interface{}, error) {
	var in materialYAML

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewParseError("empty material")
		}

		return nil, &types.ParseError{Reason: "yaml", Err: err}
	}

	mat := &Material{
		Name:      in.Name,
		Shader:    in.Shader,
		Textures:  in.Textures,
		Diffuse:   mgl32.Vec4{1, 1, 1, 1},
		Shininess: in.Shininess,
		Params:    in.Params,
	}

	if mat.Name == "" {
		mat.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}

	switch len(in.Diffuse) {
	case 0:
	case 3:
		mat.Diffuse = mgl32.Vec4{in.Diffuse[0], in.Diffuse[1], in.Diffuse[2], 1}
	case 4:
		mat.Diffuse = mgl32.Vec4{in.Diffuse[0], in.Diffuse[1], in.Diffuse[2], in.Diffuse[3]}
	default:
		return nil, types.NewParseError("diffuse needs 3 or 4 values, got %d", len(in.Diffuse))
	}

	switch len(in.Specular) {
	case 0:
	case 3:
		mat.Specular = mgl32.Vec3{in.Specular[0], in.Specular[1], in.Specular[2]}
	default:
		return nil, types.NewParseError("specular needs 3 values, got %d", len(in.Specular))
	}

	if mat.Shininess < 0 {
		return nil, types.NewParseError("negative shininess")
	}

	return mat, nil
} // }}}
