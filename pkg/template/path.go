package template

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type lookupResult int

const (
	found lookupResult = iota
	absent
	undefined
)

// Lookup resolves a dotted path such as "payload.video_id" or "actor_ids.0"
// against an event. ok is false when any segment is absent or nil.
func Lookup(event map[string]any, path string) (any, bool) {
	v, res := lookup(event, path)
	return v, res == found
}

func lookup(event map[string]any, path string) (any, lookupResult) {
	if path == "" {
		return nil, absent
	}
	var cur any = event
	for _, seg := range strings.Split(path, ".") {
		if cur == nil {
			return nil, undefined
		}
		next, res := step(cur, seg)
		if res != found {
			return nil, res
		}
		cur = next
	}
	if isNil(cur) {
		return nil, undefined
	}
	return cur, found
}

func step(cur any, seg string) (any, lookupResult) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		if !ok {
			return nil, absent
		}
		if isNil(v) {
			return nil, undefined
		}
		return v, found
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, absent
		}
		if isNil(c[i]) {
			return nil, undefined
		}
		return c[i], found
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, absent
		}
		mv := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, absent
		}
		if isNil(mv.Interface()) {
			return nil, undefined
		}
		return mv.Interface(), found
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, absent
		}
		return rv.Index(i).Interface(), found
	}
	return nil, absent
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Format renders a resolved value for substitution into a heading.
// Integral floats (the shape JSON numbers decode to) print without exponent.
func Format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.String:
		return rv.String()
	}
	return fmt.Sprint(v)
}
