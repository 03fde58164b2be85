package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fieldReader reads typed values out of a generic document map, remembers
// which keys it consumed and keeps the first type error it met.
type fieldReader struct {
	m    map[string]any
	used map[string]bool
	err  error
}

func newFieldReader(m map[string]any) *fieldReader {
	if m == nil {
		m = map[string]any{}
	}
	return &fieldReader{m: m, used: make(map[string]bool)}
}

func (r *fieldReader) fail(key string, v any, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: cannot use %T as %s", key, v, want)
	}
}

// lookup returns the first present key among names, marking all of them used.
func (r *fieldReader) lookup(names ...string) (string, any, bool) {
	var (
		key   string
		value any
		found bool
	)
	for _, n := range names {
		r.used[n] = true
		if v, ok := r.m[n]; ok && v != nil && !found {
			key, value, found = n, v, true
		}
	}
	return key, value, found
}

func (r *fieldReader) float(def float64, names ...string) float64 {
	v, ok := r.optFloat(names...)
	if !ok {
		return def
	}
	return v
}

func (r *fieldReader) optFloat(names ...string) (float64, bool) {
	key, v, ok := r.lookup(names...)
	if !ok {
		return 0, false
	}
	f, err := toFloat(v)
	if err != nil {
		r.fail(key, v, "number")
		return 0, false
	}
	return f, true
}

func (r *fieldReader) int(def int, names ...string) int {
	f, ok := r.optFloat(names...)
	if !ok {
		return def
	}
	return int(f)
}

func (r *fieldReader) str(def string, names ...string) string {
	key, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	s, err := toString(v)
	if err != nil {
		r.fail(key, v, "string")
		return def
	}
	return s
}

func (r *fieldReader) bool(def bool, names ...string) bool {
	key, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			r.fail(key, v, "bool")
			return def
		}
		return p
	default:
		f, err := toFloat(v)
		if err != nil {
			r.fail(key, v, "bool")
			return def
		}
		return f != 0
	}
}

// raw returns the untouched value for a key.
func (r *fieldReader) raw(names ...string) (any, bool) {
	_, v, ok := r.lookup(names...)
	return v, ok
}

// extra collects the keys nobody asked for.
func (r *fieldReader) extra() map[string]any {
	var out map[string]any
	for k, v := range r.m {
		if r.used[k] {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

// toFloat accepts any finite number, including numeric strings. NaN and
// infinities are rejected so they never reach the duration arithmetic.
func toFloat(v any) (float64, error) {
	f, err := anyFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return f, nil
}

func anyFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case float64:
		return formatFloat(s), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case bool:
		return strconv.FormatBool(s), nil
	}
	return "", fmt.Errorf("not a string: %T", v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// fieldWriter builds a document map starting from the extra side-bag so
// known fields always win over stale unknown copies.
type fieldWriter map[string]any

func newFieldWriter(extra map[string]any) fieldWriter {
	w := make(fieldWriter, len(extra)+8)
	for k, v := range extra {
		w[k] = v
	}
	return w
}

func (w fieldWriter) set(key string, v any) { w[key] = v }

func (w fieldWriter) setString(key, v string) {
	if v != "" {
		w[key] = v
	}
}

// clamp01 is used at ingestion for opacities, alphas and volumes.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
