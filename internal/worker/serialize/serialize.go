// Package serialize turns interpreter values into bounded JSON-safe
// descriptors for result payloads. Every descriptor carries a type tag; long
// strings are cut, collections keep their first elements, and tabular values
// serialize to previews with per-column statistics. Serialization never
// fails; anything it cannot handle degrades to an error-shaped record.
package serialize

import (
	"math"
	gotime "time"
	"unicode/utf8"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/t-brandt/kapsel/internal/worker/table"
)

const (
	maxStringLen = 10000
	maxItems     = 100
	maxReprLen   = 1000
	previewRows  = 10
)

// Describe serializes the named value into its descriptor, degrading to
// {type, error, repr} if serialization panics instead of letting the
// failure escape.
func Describe(name string, v starlark.Value) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{
				"type":  typeName(v),
				"error": stringify(r),
				"repr":  safeRepr(v),
			}
		}
		if name != "" {
			out["name"] = name
		}
	}()
	return describe(v)
}

func describe(v starlark.Value) map[string]any {
	switch x := v.(type) {
	case starlark.NoneType:
		return map[string]any{"type": "NoneType", "value": nil}

	case starlark.Bool:
		return map[string]any{"type": "bool", "value": bool(x)}

	case starlark.Int:
		return map[string]any{"type": "int", "value": intValue(x)}

	case starlark.Float:
		return map[string]any{"type": "float", "value": floatValue(x)}

	case starlark.String:
		s := string(x)
		value, truncated := truncateRunes(s, maxStringLen)
		return map[string]any{
			"type":            "string",
			"value":           value,
			"truncated":       truncated,
			"original_length": utf8.RuneCountInString(s),
		}

	case startime.Time:
		return map[string]any{"type": "time", "value": isoTime(x)}

	case *starlark.List:
		return sequenceRecord("list", x.Len(), x.Index)

	case starlark.Tuple:
		return sequenceRecord("tuple", len(x), func(i int) starlark.Value { return x[i] })

	case *starlark.Set:
		items := setItems(x)
		return sequenceRecord("set", len(items), func(i int) starlark.Value { return items[i] })

	case *starlark.Dict:
		return dictRecord(x)

	case *table.Frame:
		return frameRecord(x)

	case *table.Series:
		return seriesRecord(x)

	case *table.Array:
		return arrayRecord(x)

	default:
		repr, _ := truncateRunes(v.String(), maxReprLen)
		return map[string]any{"type": typeName(v), "repr": repr}
	}
}

// truncateRunes cuts a string to max runes on a rune boundary, so truncation
// never leaves a split UTF-8 sequence behind.
func truncateRunes(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	i := 0
	for n := 0; n < max; n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], true
}

// element renders one collection member as a raw JSON value: scalars keep
// their value, nested collections recurse bounded, anything else degrades to
// its repr.
func element(v starlark.Value) any {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		return intValue(x)
	case starlark.Float:
		return floatValue(x)
	case starlark.String:
		s, _ := truncateRunes(string(x), maxStringLen)
		return s
	case startime.Time:
		return isoTime(x)
	case *starlark.List:
		return elements(x.Len(), x.Index)
	case starlark.Tuple:
		return elements(len(x), func(i int) starlark.Value { return x[i] })
	case *starlark.Set:
		items := setItems(x)
		return elements(len(items), func(i int) starlark.Value { return items[i] })
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for i, item := range x.Items() {
			if i >= maxItems {
				break
			}
			out[keyString(item[0])] = element(item[1])
		}
		return out
	default:
		return safeRepr(v)
	}
}

func elements(n int, at func(int) starlark.Value) []any {
	if n > maxItems {
		n = maxItems
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = element(at(i))
	}
	return out
}

func sequenceRecord(kind string, n int, at func(int) starlark.Value) map[string]any {
	return map[string]any{
		"type":      kind,
		"length":    n,
		"data":      elements(n, at),
		"truncated": n > maxItems,
	}
}

func dictRecord(d *starlark.Dict) map[string]any {
	items := d.Items()
	n := len(items)
	bounded := n
	if bounded > maxItems {
		bounded = maxItems
	}
	keys := make([]string, bounded)
	data := make(map[string]any, bounded)
	for i := 0; i < bounded; i++ {
		k := keyString(items[i][0])
		keys[i] = k
		data[k] = element(items[i][1])
	}
	return map[string]any{
		"type":      "dict",
		"length":    n,
		"keys":      keys,
		"data":      data,
		"truncated": n > maxItems,
	}
}

func frameRecord(f *table.Frame) map[string]any {
	rows := f.NumRows()
	n := rows
	if n > previewRows {
		n = previewRows
	}
	preview := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, f.NumCols())
		for name, cell := range f.Row(i) {
			row[name] = element(cell)
		}
		preview[i] = row
	}

	dtypes := make(map[string]string, f.NumCols())
	info := make([]map[string]any, 0, f.NumCols())
	for _, col := range f.Columns() {
		dtype := table.NewSeries(col.Name, col.Values).Dtype()
		dtypes[col.Name] = dtype
		info = append(info, map[string]any{
			"name":         col.Name,
			"dtype":        dtype,
			"null_count":   nullCount(col.Values),
			"unique_count": uniqueCount(col.Values),
		})
	}

	return map[string]any{
		"type":         "DataFrame",
		"shape":        []int{rows, f.NumCols()},
		"column_names": f.ColumnNames(),
		"dtypes":       dtypes,
		"columns_info": info,
		"preview":      preview,
		"preview_rows": n,
		"markdown":     f.Markdown(previewRows),
	}
}

func seriesRecord(s *table.Series) map[string]any {
	vals := s.Values()
	return map[string]any{
		"type":        "Series",
		"series_name": s.Name(),
		"dtype":       s.Dtype(),
		"length":      s.Len(),
		"data":        elements(len(vals), func(i int) starlark.Value { return vals[i] }),
		"truncated":   len(vals) > maxItems,
		"null_count":  s.NullCount(),
	}
}

func arrayRecord(a *table.Array) map[string]any {
	vals := a.Values()
	return map[string]any{
		"type":      "ndarray",
		"dtype":     a.Dtype(),
		"shape":     a.Shape(),
		"size":      a.Size(),
		"data":      elements(len(vals), func(i int) starlark.Value { return vals[i] }),
		"truncated": len(vals) > maxItems,
	}
}

func setItems(s *starlark.Set) []starlark.Value {
	items := make([]starlark.Value, 0, s.Len())
	iter := s.Iterate()
	var e starlark.Value
	for iter.Next(&e) {
		items = append(items, e)
	}
	iter.Done()
	return items
}

func intValue(x starlark.Int) any {
	if i, ok := x.Int64(); ok {
		return i
	}
	// Arbitrary precision beyond int64 survives as its decimal form.
	return x.String()
}

func floatValue(x starlark.Float) any {
	f := float64(x)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func isoTime(x startime.Time) string {
	return gotime.Time(x).Format(gotime.RFC3339Nano)
}

func keyString(k starlark.Value) string {
	if s, ok := starlark.AsString(k); ok {
		return s
	}
	return k.String()
}

func nullCount(vals []starlark.Value) int {
	n := 0
	for _, v := range vals {
		if v == starlark.None {
			n++
		} else if f, ok := v.(starlark.Float); ok && math.IsNaN(float64(f)) {
			n++
		}
	}
	return n
}

func uniqueCount(vals []starlark.Value) int {
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		seen[v.String()] = true
	}
	return len(seen)
}

func typeName(v starlark.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Type()
}

func stringify(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}

func safeRepr(v starlark.Value) (repr string) {
	defer func() {
		if recover() != nil {
			repr = "<unprintable>"
		}
	}()
	return v.String()
}
