package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcal/internal/model"
)

func titles(t *testing.T, res Result) []string {
	t.Helper()
	out := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		for _, k := range []string{"title", "eventTitle", "name"} {
			if s, ok := r.Fields[k].(string); ok {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func TestParseArray(t *testing.T) {
	res := Parse([]byte(`[{"title":"a"},{"title":"b"}]`))
	assert.False(t, res.Text)
	assert.Equal(t, []string{"a", "b"}, titles(t, res))
}

func TestParseNestedListPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"events", `{"events":[{"title":"e"}],"items":[{"title":"i"}]}`, []string{"e"}},
		{"items", `{"items":[{"title":"i"}],"data":[{"title":"d"}]}`, []string{"i"}},
		{"data", `{"data":[{"title":"d"}],"results":[{"title":"r"}]}`, []string{"d"}},
		{"results", `{"results":[{"title":"r"}]}`, []string{"r"}},
		{"non-array events is ignored", `{"events":"nope","data":[{"title":"d"}]}`, []string{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(t, Parse([]byte(tt.body))))
		})
	}
}

func TestParseObjectWithoutListIsOneEvent(t *testing.T) {
	res := Parse([]byte(`{"title":"solo","venue":"A101"}`))
	require.Len(t, res.Records, 1)
	assert.Equal(t, "solo", res.Records[0].Fields["title"])
	assert.Equal(t, model.ShapeGeneric, res.Records[0].Shape)
}

func TestParsePlainText(t *testing.T) {
	res := Parse([]byte("  Algorithms  \r\n\n\t\nOperating Systems\n"))
	assert.True(t, res.Text)
	assert.Equal(t, []string{"Algorithms", "Operating Systems"}, titles(t, res))
}

func TestParseJSONStringIsText(t *testing.T) {
	res := Parse([]byte(`"one\ntwo"`))
	assert.True(t, res.Text)
	assert.Equal(t, []string{"one", "two"}, titles(t, res))
}

func TestParseDegradesWithoutPanicking(t *testing.T) {
	for _, body := range []string{"", "   ", "42", "true", "null", "[]", "{}"} {
		assert.NotPanics(t, func() {
			res := Parse([]byte(body))
			if body == "{}" {
				assert.Len(t, res.Records, 1)
				return
			}
			assert.Empty(t, res.Records, "body %q", body)
		})
	}
}

func TestParseMalformedJSONFallsBackToText(t *testing.T) {
	res := Parse([]byte("[{\"title\": \"cut off\"\nsecond line"))
	assert.True(t, res.Text)
	assert.Equal(t, []string{`[{"title": "cut off"`, "second line"}, titles(t, res))
}

func TestParseListElements(t *testing.T) {
	res := Parse([]byte(`[null, 5, "x", {"name":"n"}]`))
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Records, 3)
	for _, r := range res.Records {
		assert.Equal(t, model.ShapeGeneric, r.Shape)
	}
	assert.Equal(t, "n", res.Records[2].Fields["name"])
}

func TestParseKeepsNumbersExact(t *testing.T) {
	res := Parse([]byte(`[{"eventTitle":"x","startDate_yr":2024}]`))
	require.Len(t, res.Records, 1)
	assert.Equal(t, json.Number("2024"), res.Records[0].Fields["startDate_yr"])
}

func TestDetectShape(t *testing.T) {
	tests := []struct {
		name string
		rec  model.RawRecord
		want model.Shape
	}{
		{"grid", model.RawRecord{"eventTitle": "x", "startDate_yr": json.Number("2024")}, model.ShapeGrid},
		{"grid with string year", model.RawRecord{"eventTitle": "x", "startDate_yr": "2024"}, model.ShapeGrid},
		{"missing year", model.RawRecord{"eventTitle": "x"}, model.ShapeGeneric},
		{"missing title", model.RawRecord{"startDate_yr": "2024"}, model.ShapeGeneric},
		{"empty title", model.RawRecord{"eventTitle": "", "startDate_yr": "2024"}, model.ShapeGeneric},
		{"zero year", model.RawRecord{"eventTitle": "x", "startDate_yr": json.Number("0")}, model.ShapeGeneric},
		{"generic", model.RawRecord{"title": "x"}, model.ShapeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectShape(tt.rec))
		})
	}
}

func TestElements(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []any
		ok   bool
	}{
		{"array keeps scalars and nulls", `[{"id":1},null,"x",2]`,
			[]any{map[string]any{"id": json.Number("1")}, nil, "x", json.Number("2")}, true},
		{"nested list", `{"items":[1,{"id":2}]}`,
			[]any{json.Number("1"), map[string]any{"id": json.Number("2")}}, true},
		{"single object", `{"title":"x"}`, []any{map[string]any{"title": "x"}}, true},
		{"empty array", `[]`, []any{}, true},
		{"scalar", `42`, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			got, ok := Elements(v)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
