package resmanager

import (
	"context"
	"engine/types"
	"fmt"
)

// func FetchAs {{{

// Fetch() with the object checked against T, types.ErrWrongType if it is something else.
//
//	tex, err := resmanager.FetchAs[*loaders.Texture](m, id)
func FetchAs[T any](m *Manager, id types.ResourceID) (T, error) {
	v, err := m.Fetch(id)
	return as[T](v, err)
} // }}}

// func AwaitAs {{{

func AwaitAs[T any](ctx context.Context, m *Manager, id types.ResourceID) (T, error) {
	v, err := m.Await(ctx, id)
	return as[T](v, err)
} // }}}

func as[T any](v interface{}, err error) (T, error) {
	var zero T

	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", types.ErrWrongType, v, zero)
	}

	return t, nil
}
