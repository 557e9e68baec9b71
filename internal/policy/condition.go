package policy

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Condition is a compiled policy condition tree.
type Condition interface {
	Match(ctx model.ProjectContext) bool
}

// All matches when every child matches. An empty All always matches.
type All []Condition

func (a All) Match(ctx model.ProjectContext) bool {
	for _, c := range a {
		if !c.Match(ctx) {
			return false
		}
	}
	return true
}

// Any matches when at least one child matches.
type Any []Condition

func (a Any) Match(ctx model.ProjectContext) bool {
	for _, c := range a {
		if c.Match(ctx) {
			return true
		}
	}
	return false
}

// Equals compares one context field against a scalar. A nil Value accepts a
// missing field.
type Equals struct {
	Field string
	Value any
}

func (e Equals) Match(ctx model.ProjectContext) bool {
	actual, ok := ctx[e.Field]
	if !ok || actual == nil {
		return e.Value == nil
	}
	return valuesEqual(actual, e.Value)
}

// OneOf matches when the field equals one of Values. When the field holds a
// list, any element in Values is enough.
type OneOf struct {
	Field  string
	Values []any
}

func (o OneOf) Match(ctx model.ProjectContext) bool {
	actual, ok := ctx[o.Field]
	if !ok {
		return containsValue(o.Values, nil)
	}
	if items, isList := asList(actual); isList {
		for _, item := range items {
			if containsValue(o.Values, item) {
				return true
			}
		}
		return false
	}
	return containsValue(o.Values, actual)
}

// ContainsAny matches when the field is non-empty and holds at least one of
// Values. String fields match by substring.
type ContainsAny struct {
	Field  string
	Values []any
}

func (c ContainsAny) Match(ctx model.ProjectContext) bool {
	actual, ok := ctx[c.Field]
	if !ok || isEmpty(actual) {
		return false
	}
	if s, isString := actual.(string); isString {
		for _, v := range c.Values {
			if strings.Contains(s, fmt.Sprint(v)) {
				return true
			}
		}
		return false
	}
	items, isList := asList(actual)
	if !isList {
		items = []any{actual}
	}
	for _, v := range c.Values {
		if containsValue(items, v) {
			return true
		}
	}
	return false
}

// ParseCondition compiles a raw conditions map into a Condition tree.
// An `any` key takes precedence over everything else in the map, then an
// `all` key; sibling keys next to either are ignored. Otherwise every field
// key must match, evaluated in sorted order so the tree is deterministic.
func ParseCondition(raw map[string]any) (Condition, error) {
	if len(raw) == 0 {
		return All{}, nil
	}
	if val, ok := raw["any"]; ok {
		children, err := parseChildren("any", val)
		if err != nil {
			return nil, err
		}
		return Any(children), nil
	}
	if val, ok := raw["all"]; ok {
		children, err := parseChildren("all", val)
		if err != nil {
			return nil, err
		}
		return All(children), nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make(All, 0, len(keys))
	for _, key := range keys {
		leaf, err := parseLeaf(key, raw[key])
		if err != nil {
			return nil, err
		}
		parts = append(parts, leaf)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

func parseChildren(key string, val any) ([]Condition, error) {
	if m, ok := asMap(val); ok {
		c, err := ParseCondition(m)
		if err != nil {
			return nil, err
		}
		return []Condition{c}, nil
	}
	items, ok := asList(val)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list of conditions, got %T", key, val)
	}
	out := make([]Condition, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected a condition map, got %T", key, i, item)
		}
		c, err := ParseCondition(m)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseLeaf(field string, expected any) (Condition, error) {
	if m, ok := asMap(expected); ok {
		values, has := m["contains"]
		if !has || len(m) != 1 {
			return nil, fmt.Errorf("%s: unsupported operator map (only \"contains\" is allowed)", field)
		}
		list, isList := asList(values)
		if !isList {
			list = []any{values}
		}
		return ContainsAny{Field: field, Values: list}, nil
	}
	if list, ok := asList(expected); ok {
		return OneOf{Field: field, Values: list}, nil
	}
	return Equals{Field: field, Value: expected}, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.ProjectContext:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if l, ok := asList(v); ok {
		return len(l) == 0
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if item == nil && v == nil {
			return true
		}
		if item != nil && v != nil && valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// valuesEqual is strict equality with numeric kinds normalised, so an int
// from YAML equals a float64 from JSON.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
