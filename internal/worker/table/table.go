// Package table provides tabular values for sandboxed code: column-oriented
// frames, named series, and n-dimensional arrays. They exist so session code
// can build structured results that serialize with previews and per-column
// statistics instead of opaque reprs.
package table

import (
	"fmt"
	"math"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Module is the preloaded "table" module.
var Module = &starlarkstruct.Module{
	Name: "table",
	Members: starlark.StringDict{
		"frame":  starlark.NewBuiltin("table.frame", makeFrame),
		"series": starlark.NewBuiltin("table.series", makeSeries),
		"array":  starlark.NewBuiltin("table.array", makeArray),
	},
}

// dtypeOf infers a column type from its cells. Mixed numeric promotes to
// float64, anything else degrades to object. Nulls degrade the column the
// way a missing value does in a dataframe: an int column with nulls becomes
// float64, everything else non-float becomes object.
func dtypeOf(values []starlark.Value) string {
	dtype := ""
	hasNull := false
	for _, v := range values {
		if v == starlark.None {
			hasNull = true
			continue
		}
		var cur string
		switch v.(type) {
		case starlark.Bool:
			cur = "bool"
		case starlark.Int:
			cur = "int64"
		case starlark.Float:
			cur = "float64"
		case starlark.String:
			cur = "str"
		default:
			cur = "object"
		}
		switch {
		case dtype == "" || dtype == cur:
			dtype = cur
		case (dtype == "int64" && cur == "float64") || (dtype == "float64" && cur == "int64"):
			dtype = "float64"
		default:
			return "object"
		}
	}
	if dtype == "" {
		return "object"
	}
	if hasNull {
		switch dtype {
		case "int64", "float64":
			return "float64"
		default:
			return "object"
		}
	}
	return dtype
}

func nullCount(values []starlark.Value) int {
	n := 0
	for _, v := range values {
		if v == starlark.None {
			n++
		}
		if f, ok := v.(starlark.Float); ok && math.IsNaN(float64(f)) {
			n++
		}
	}
	return n
}

func uniqueCount(values []starlark.Value) int {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		seen[v.String()] = true
	}
	return len(seen)
}

// cellString renders one cell for markdown previews.
func cellString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	if v == starlark.None {
		return ""
	}
	return v.String()
}

// ---- Series ----

// Series is a named, typed column of values.
type Series struct {
	name   string
	values []starlark.Value
	dtype  string
	frozen bool
}

func NewSeries(name string, values []starlark.Value) *Series {
	return &Series{name: name, values: values, dtype: dtypeOf(values)}
}

func makeSeries(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values *starlark.List
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "name?", &name); err != nil {
		return nil, err
	}
	cells := make([]starlark.Value, values.Len())
	for i := 0; i < values.Len(); i++ {
		cells[i] = values.Index(i)
	}
	return NewSeries(name, cells), nil
}

func (s *Series) Name() string              { return s.name }
func (s *Series) Dtype() string             { return s.dtype }
func (s *Series) Values() []starlark.Value  { return s.values }
func (s *Series) NullCount() int            { return nullCount(s.values) }
func (s *Series) Len() int                  { return len(s.values) }
func (s *Series) Index(i int) starlark.Value { return s.values[i] }

func (s *Series) String() string {
	return fmt.Sprintf("series(%q, len=%d, dtype=%s)", s.name, len(s.values), s.dtype)
}
func (s *Series) Type() string          { return "series" }
func (s *Series) Truth() starlark.Bool  { return len(s.values) > 0 }
func (s *Series) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: series") }
func (s *Series) Freeze() {
	if s.frozen {
		return
	}
	s.frozen = true
	for _, v := range s.values {
		v.Freeze()
	}
}

func (s *Series) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(s.name), nil
	case "dtype":
		return starlark.String(s.dtype), nil
	}
	return nil, nil
}
func (s *Series) AttrNames() []string { return []string{"dtype", "name"} }

// ---- Frame ----

// Column is one named column of a Frame.
type Column struct {
	Name   string
	Values []starlark.Value
}

// Frame is a column-oriented table. Columns keep insertion order and share
// one row count.
type Frame struct {
	cols   []Column
	nrows  int
	frozen bool
}

func NewFrame(cols []Column) (*Frame, error) {
	f := &Frame{cols: cols}
	for i, c := range cols {
		if i == 0 {
			f.nrows = len(c.Values)
			continue
		}
		if len(c.Values) != f.nrows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), f.nrows)
		}
	}
	return f, nil
}

func makeFrame(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data); err != nil {
		return nil, err
	}
	cols := make([]Column, 0, data.Len())
	for _, item := range data.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("%s: column names must be strings, got %s", b.Name(), item[0].Type())
		}
		list, ok := item[1].(*starlark.List)
		if !ok {
			return nil, fmt.Errorf("%s: column %q must be a list, got %s", b.Name(), name, item[1].Type())
		}
		cells := make([]starlark.Value, list.Len())
		for i := 0; i < list.Len(); i++ {
			cells[i] = list.Index(i)
		}
		cols = append(cols, Column{Name: name, Values: cells})
	}
	return NewFrame(cols)
}

func (f *Frame) NumRows() int { return f.nrows }
func (f *Frame) NumCols() int { return len(f.cols) }

func (f *Frame) Columns() []Column { return f.cols }

func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Row returns row i keyed by column name.
func (f *Frame) Row(i int) map[string]starlark.Value {
	row := make(map[string]starlark.Value, len(f.cols))
	for _, c := range f.cols {
		row[c.Name] = c.Values[i]
	}
	return row
}

// Markdown renders at most maxRows rows as a markdown table.
func (f *Frame) Markdown(maxRows int) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range f.cols {
		fmt.Fprintf(&b, " %s |", c.Name)
	}
	b.WriteString("\n|")
	for range f.cols {
		b.WriteString(" --- |")
	}
	rows := f.nrows
	if rows > maxRows {
		rows = maxRows
	}
	for i := 0; i < rows; i++ {
		b.WriteString("\n|")
		for _, c := range f.cols {
			fmt.Fprintf(&b, " %s |", cellString(c.Values[i]))
		}
	}
	if f.nrows > maxRows {
		fmt.Fprintf(&b, "\n\n(%d more rows)", f.nrows-maxRows)
	}
	return b.String()
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame(%d rows x %d columns)", f.nrows, len(f.cols))
}
func (f *Frame) Type() string          { return "frame" }
func (f *Frame) Truth() starlark.Bool  { return f.nrows > 0 }
func (f *Frame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: frame") }
func (f *Frame) Freeze() {
	if f.frozen {
		return
	}
	f.frozen = true
	for _, c := range f.cols {
		for _, v := range c.Values {
			v.Freeze()
		}
	}
}

func (f *Frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		names := make([]starlark.Value, len(f.cols))
		for i, c := range f.cols {
			names[i] = starlark.String(c.Name)
		}
		return starlark.NewList(names), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(f.nrows), starlark.MakeInt(len(f.cols))}, nil
	}
	return nil, nil
}
func (f *Frame) AttrNames() []string { return []string{"columns", "shape"} }

// ---- Array ----

// Array is an n-dimensional array stored flat in row-major order.
type Array struct {
	values []starlark.Value
	shape  []int
	dtype  string
	frozen bool
}

func NewArray(values []starlark.Value, shape []int) *Array {
	return &Array{values: values, shape: shape, dtype: dtypeOf(values)}
}

func makeArray(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values *starlark.List
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values); err != nil {
		return nil, err
	}
	flat, shape, err := flatten(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewArray(flat, shape), nil
}

// flatten walks nested lists, inferring the shape and rejecting ragged input.
func flatten(list *starlark.List) ([]starlark.Value, []int, error) {
	n := list.Len()
	shape := []int{n}
	if n == 0 {
		return nil, shape, nil
	}

	if inner, ok := list.Index(0).(*starlark.List); ok {
		innerLen := inner.Len()
		var flat []starlark.Value
		var innerShape []int
		for i := 0; i < n; i++ {
			sub, ok := list.Index(i).(*starlark.List)
			if !ok || sub.Len() != innerLen {
				return nil, nil, fmt.Errorf("ragged nested lists")
			}
			subFlat, subShape, err := flatten(sub)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				innerShape = subShape
			}
			flat = append(flat, subFlat...)
		}
		return flat, append(shape, innerShape...), nil
	}

	flat := make([]starlark.Value, n)
	for i := 0; i < n; i++ {
		if _, ok := list.Index(i).(*starlark.List); ok {
			return nil, nil, fmt.Errorf("ragged nested lists")
		}
		flat[i] = list.Index(i)
	}
	return flat, shape, nil
}

func (a *Array) Values() []starlark.Value  { return a.values }
func (a *Array) Shape() []int              { return a.shape }
func (a *Array) Dtype() string             { return a.dtype }
func (a *Array) Size() int                 { return len(a.values) }
func (a *Array) Len() int                  { return a.shape[0] }
func (a *Array) Index(i int) starlark.Value {
	if len(a.shape) == 1 {
		return a.values[i]
	}
	stride := len(a.values) / a.shape[0]
	return NewArray(a.values[i*stride:(i+1)*stride], a.shape[1:])
}

func (a *Array) String() string {
	return fmt.Sprintf("array(shape=%v, dtype=%s)", a.shape, a.dtype)
}
func (a *Array) Type() string          { return "array" }
func (a *Array) Truth() starlark.Bool  { return len(a.values) > 0 }
func (a *Array) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: array") }
func (a *Array) Freeze() {
	if a.frozen {
		return
	}
	a.frozen = true
	for _, v := range a.values {
		v.Freeze()
	}
}

func (a *Array) Attr(name string) (starlark.Value, error) {
	switch name {
	case "shape":
		dims := make(starlark.Tuple, len(a.shape))
		for i, d := range a.shape {
			dims[i] = starlark.MakeInt(d)
		}
		return dims, nil
	case "dtype":
		return starlark.String(a.dtype), nil
	}
	return nil, nil
}
func (a *Array) AttrNames() []string { return []string{"dtype", "shape"} }
