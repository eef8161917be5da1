package serialize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	gotime "time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/t-brandt/kapsel/internal/worker/table"
)

func TestScalars(t *testing.T) {
	cases := []struct {
		v        starlark.Value
		wantType string
		wantVal  any
	}{
		{starlark.None, "NoneType", nil},
		{starlark.Bool(true), "bool", true},
		{starlark.MakeInt(42), "int", int64(42)},
		{starlark.Float(2.5), "float", 2.5},
	}
	for _, tc := range cases {
		got := Describe("", tc.v)
		assert.Equal(t, tc.wantType, got["type"])
		assert.Equal(t, tc.wantVal, got["value"])
	}
}

func TestNameIncluded(t *testing.T) {
	got := Describe("x", starlark.MakeInt(42))
	assert.Equal(t, "x", got["name"])
	assert.Equal(t, "int", got["type"])
	assert.Equal(t, int64(42), got["value"])

	_, present := Describe("", starlark.MakeInt(1))["name"]
	assert.False(t, present)
}

func TestNonFiniteFloatsBecomeNull(t *testing.T) {
	assert.Nil(t, Describe("", starlark.Float(math.NaN()))["value"])
	assert.Nil(t, Describe("", starlark.Float(math.Inf(1)))["value"])
}

func TestBigIntFallsBackToString(t *testing.T) {
	big := starlark.MakeInt(1)
	for i := 0; i < 80; i++ {
		big = big.Mul(starlark.MakeInt(2))
	}
	got := Describe("", big)
	assert.Equal(t, big.String(), got["value"])
}

func TestString(t *testing.T) {
	got := Describe("", starlark.String("hi"))
	assert.Equal(t, "string", got["type"])
	assert.Equal(t, "hi", got["value"])
	assert.Equal(t, false, got["truncated"])
	assert.Equal(t, 2, got["original_length"])
}

func TestLongStringTruncated(t *testing.T) {
	long := strings.Repeat("x", maxStringLen+500)
	got := Describe("", starlark.String(long))
	assert.Len(t, got["value"], maxStringLen)
	assert.Equal(t, true, got["truncated"])
	assert.Equal(t, maxStringLen+500, got["original_length"])
}

func TestLongStringTruncatedOnRuneBoundary(t *testing.T) {
	// Two-byte runes: a byte-index cut would split the final rune.
	long := strings.Repeat("é", maxStringLen+1)
	got := Describe("", starlark.String(long))

	value := got["value"].(string)
	assert.True(t, utf8.ValidString(value))
	assert.Equal(t, maxStringLen, utf8.RuneCountInString(value))
	assert.Equal(t, true, got["truncated"])
	assert.Equal(t, maxStringLen+1, got["original_length"])
}

func TestTime(t *testing.T) {
	ts := gotime.Date(2026, 8, 26, 12, 0, 0, 0, gotime.UTC)
	got := Describe("", startime.Time(ts))
	assert.Equal(t, "time", got["type"])
	assert.Equal(t, "2026-08-26T12:00:00Z", got["value"])
}

func TestListBounded(t *testing.T) {
	vals := make([]starlark.Value, maxItems+50)
	for i := range vals {
		vals[i] = starlark.MakeInt(i)
	}
	got := Describe("", starlark.NewList(vals))
	assert.Equal(t, "list", got["type"])
	assert.Equal(t, maxItems+50, got["length"])
	assert.Equal(t, true, got["truncated"])
	data := got["data"].([]any)
	assert.Len(t, data, maxItems)
	assert.Equal(t, int64(0), data[0])
}

func TestNestedList(t *testing.T) {
	inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.None})
	outer := starlark.NewList([]starlark.Value{inner, starlark.String("s")})

	data := Describe("", outer)["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, []any{int64(1), nil}, data[0])
	assert.Equal(t, "s", data[1])
}

func TestDict(t *testing.T) {
	d := starlark.NewDict(2)
	require.NoError(t, d.SetKey(starlark.String("a"), starlark.MakeInt(1)))
	require.NoError(t, d.SetKey(starlark.MakeInt(7), starlark.String("v")))

	got := Describe("", d)
	assert.Equal(t, "dict", got["type"])
	assert.Equal(t, 2, got["length"])
	assert.Equal(t, []string{"a", "7"}, got["keys"])
	data := got["data"].(map[string]any)
	assert.Equal(t, int64(1), data["a"])
	assert.Equal(t, "v", data["7"])
	assert.Equal(t, false, got["truncated"])
}

func TestFrameRecord(t *testing.T) {
	vals := make([]starlark.Value, 15)
	names := make([]starlark.Value, 15)
	for i := range vals {
		vals[i] = starlark.MakeInt(i)
		names[i] = starlark.String(fmt.Sprintf("row%d", i%5))
	}
	names[3] = starlark.None

	f, err := table.NewFrame([]table.Column{
		{Name: "label", Values: names},
		{Name: "n", Values: vals},
	})
	require.NoError(t, err)

	got := Describe("", f)
	assert.Equal(t, "DataFrame", got["type"])
	assert.Equal(t, []int{15, 2}, got["shape"])
	assert.Equal(t, []string{"label", "n"}, got["column_names"])
	assert.Equal(t, map[string]string{"label": "object", "n": "int64"}, got["dtypes"])
	assert.Equal(t, 10, got["preview_rows"])

	preview := got["preview"].([]map[string]any)
	require.Len(t, preview, 10)
	assert.Equal(t, int64(0), preview[0]["n"])

	assert.Contains(t, got["markdown"], "| label | n |")

	info := got["columns_info"].([]map[string]any)
	require.Len(t, info, 2)
	assert.Equal(t, "label", info[0]["name"])
	assert.Equal(t, 1, info[0]["null_count"])
	assert.Equal(t, "int64", info[1]["dtype"])
	assert.Equal(t, 15, info[1]["unique_count"])

	// Everything must survive a JSON round trip.
	_, err = json.Marshal(got)
	require.NoError(t, err)
}

func TestFrameShortPreview(t *testing.T) {
	f, err := table.NewFrame([]table.Column{
		{Name: "a", Values: []starlark.Value{starlark.MakeInt(1), starlark.MakeInt(2), starlark.MakeInt(3)}},
	})
	require.NoError(t, err)

	got := Describe("", f)
	assert.Equal(t, []int{3, 1}, got["shape"])
	assert.Equal(t, 3, got["preview_rows"])
}

func TestFrameTimeColumnStringified(t *testing.T) {
	ts := startime.Time(gotime.Date(2026, 1, 2, 0, 0, 0, 0, gotime.UTC))
	f, err := table.NewFrame([]table.Column{
		{Name: "when", Values: []starlark.Value{ts}},
	})
	require.NoError(t, err)

	preview := Describe("", f)["preview"].([]map[string]any)
	assert.Equal(t, "2026-01-02T00:00:00Z", preview[0]["when"])
}

func TestSeriesRecord(t *testing.T) {
	s := table.NewSeries("temps", []starlark.Value{
		starlark.Float(21.5), starlark.None, starlark.Float(19.0),
	})
	got := Describe("", s)
	assert.Equal(t, "Series", got["type"])
	assert.Equal(t, "temps", got["series_name"])
	assert.Equal(t, "float64", got["dtype"])
	assert.Equal(t, 3, got["length"])
	assert.Equal(t, 1, got["null_count"])
	assert.Equal(t, false, got["truncated"])
	assert.Equal(t, []any{21.5, nil, 19.0}, got["data"])
}

func TestArrayRecord(t *testing.T) {
	a := table.NewArray([]starlark.Value{
		starlark.MakeInt(1), starlark.MakeInt(2), starlark.MakeInt(3), starlark.MakeInt(4),
	}, []int{2, 2})

	got := Describe("", a)
	assert.Equal(t, "ndarray", got["type"])
	assert.Equal(t, []int{2, 2}, got["shape"])
	assert.Equal(t, 4, got["size"])
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, got["data"])
	assert.Equal(t, false, got["truncated"])
}

// panicValue blows up when rendered, to exercise the degraded path.
type panicValue struct{}

func (panicValue) String() string        { panic("boom") }
func (panicValue) Type() string          { return "grenade" }
func (panicValue) Freeze()               {}
func (panicValue) Truth() starlark.Bool  { return true }
func (panicValue) Hash() (uint32, error) { return 0, nil }

func TestDegradesOnPanic(t *testing.T) {
	got := Describe("", panicValue{})
	assert.Equal(t, "grenade", got["type"])
	assert.Equal(t, "boom", got["error"])
	assert.Equal(t, "<unprintable>", got["repr"])
}

func TestUnknownTypeUsesRepr(t *testing.T) {
	b := starlark.NewBuiltin("f", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.None, nil
	})
	got := Describe("", b)
	assert.Equal(t, "builtin_function_or_method", got["type"])
	assert.Equal(t, "<built-in function f>", got["repr"])
}
