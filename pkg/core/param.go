package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	ErrParamIndex = errors.New("positional argument out of range")
	ErrParamType  = errors.New("argument has unexpected type")
)

// JobParam is an immutable bundle of constructor arguments for a future job.
type JobParam struct {
	args   []any
	kwargs map[string]any
}

func NewJobParam(args ...any) JobParam {
	return JobParam{args: slices.Clone(args)}
}

// With returns a copy of p with the named argument set.
func (p JobParam) With(name string, value any) JobParam {
	kwargs := make(map[string]any, len(p.kwargs)+1)
	maps.Copy(kwargs, p.kwargs)
	kwargs[name] = value
	return JobParam{args: p.args, kwargs: kwargs}
}

// FromList produces one JobParam per item, each holding prefix followed by
// that single item as positional values.
func FromList(items []any, prefix ...any) []JobParam {
	params := make([]JobParam, 0, len(items))
	for _, item := range items {
		args := make([]any, 0, len(prefix)+1)
		args = append(args, prefix...)
		args = append(args, item)
		params = append(params, JobParam{args: args})
	}
	return params
}

// FromSlice is FromList for typed collections.
func FromSlice[T any](items []T, prefix ...any) []JobParam {
	values := make([]any, len(items))
	for i, item := range items {
		values[i] = item
	}
	return FromList(values, prefix...)
}

func (p JobParam) Args() []any {
	return slices.Clone(p.args)
}

func (p JobParam) Kwargs() map[string]any {
	return maps.Clone(p.kwargs)
}

func (p JobParam) Len() int {
	return len(p.args)
}

func (p JobParam) Arg(i int) (any, error) {
	if i < 0 || i >= len(p.args) {
		return nil, fmt.Errorf("%w: index %d, have %d", ErrParamIndex, i, len(p.args))
	}
	return p.args[i], nil
}

func (p JobParam) Kwarg(name string) (any, bool) {
	v, ok := p.kwargs[name]
	return v, ok
}

func (p JobParam) StringArg(i int) (string, error) {
	return argAs[string](p, i)
}

func (p JobParam) IntArg(i int) (int, error) {
	return argAs[int](p, i)
}

// KwargOr returns the named argument converted to T, or def when it is absent.
func KwargOr[T any](p JobParam, name string, def T) (T, error) {
	v, ok := p.kwargs[name]
	if !ok {
		return def, nil
	}
	typed, ok := v.(T)
	if !ok {
		return def, fmt.Errorf("%w: %q is %T, want %T", ErrParamType, name, v, def)
	}
	return typed, nil
}

func argAs[T any](p JobParam, i int) (T, error) {
	var zero T
	v, err := p.Arg(i)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: index %d is %T, want %T", ErrParamType, i, v, zero)
	}
	return typed, nil
}

func (p JobParam) GoString() string {
	var b strings.Builder
	b.WriteString("JobParam(")
	for i, arg := range p.args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v", arg)
	}
	for i, name := range slices.Sorted(maps.Keys(p.kwargs)) {
		if i > 0 || len(p.args) > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", name, p.kwargs[name])
	}
	b.WriteString(")")
	return b.String()
}
