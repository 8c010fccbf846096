package llmjson

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fallbackMarker() any {
	return map[string]any{"fallback": true}
}

func TestExtract_ValidJSONIsParsed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "object", raw: `{"title":"Sleep","chapters":[{"chapter_title":"One"}]}`},
		{name: "array", raw: `[{"topic":"A","score":80},{"topic":"B"}]`},
		{name: "padded", raw: "\n\t  [1, 2, 3]  \n"},
		{name: "string", raw: `"just a string"`},
		{name: "number", raw: `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw, fallbackMarker)
			require.Equal(t, StatusParsed, got.Status)

			want, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, want, got.Value)
		})
	}
}

func TestExtract_FencedJSON(t *testing.T) {
	want, err := Parse(`{"topic":"AI tools","keywords":["ai","tools"]}`)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "json tag", raw: "```json\n{\"topic\":\"AI tools\",\"keywords\":[\"ai\",\"tools\"]}\n```"},
		{name: "upper tag", raw: "```JSON\n{\"topic\":\"AI tools\",\"keywords\":[\"ai\",\"tools\"]}\n```"},
		{name: "no tag", raw: "```\n{\"topic\":\"AI tools\",\"keywords\":[\"ai\",\"tools\"]}\n```"},
		{name: "missing closing fence", raw: "```json\n{\"topic\":\"AI tools\",\"keywords\":[\"ai\",\"tools\"]}"},
		{name: "surrounding whitespace", raw: "  \n```json\n{\"topic\":\"AI tools\",\"keywords\":[\"ai\",\"tools\"]}\n```\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw, fallbackMarker)
			assert.Equal(t, StatusParsed, got.Status)
			assert.Equal(t, want, got.Value)
		})
	}
}

func TestExtract_FencedJSONWithProseIsRecovered(t *testing.T) {
	raw := "```json\n[{\"topic\":\"A\",\"score\":70}]\n```\nLet me know if you need more topics!"

	got := Extract(raw, fallbackMarker)

	assert.Equal(t, StatusRecovered, got.Status)
	want, _ := Parse(`[{"topic":"A","score":70}]`)
	assert.Equal(t, want, got.Value)
}

func TestExtract_EmbeddedJSONIsRecovered(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "object after prose",
			raw:  "Sure! Here is the outline you asked for:\n{\"title\": \"Guide\",\n \"chapters\": []}\nHope it helps.",
			want: `{"title":"Guide","chapters":[]}`,
		},
		{
			name: "array after prose",
			raw:  "Scores below.\n[{\"topic\":\"x\",\"score\":10}]",
			want: `[{"topic":"x","score":10}]`,
		},
		{
			name: "braces inside strings",
			raw:  "Result: {\"reason\": \"uses } and ] freely\", \"score\": 5} done",
			want: `{"reason":"uses } and ] freely","score":5}`,
		},
		{
			name: "unclosed opener is skipped",
			raw:  "note { this never closes, but [1, 2] does",
			want: `[1,2]`,
		},
		{
			name: "first structure wins",
			raw:  `first {"a": 1} then {"b": 2}`,
			want: `{"a":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw, fallbackMarker)
			require.Equal(t, StatusRecovered, got.Status)
			want, err := Parse(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want, got.Value)
		})
	}
}

func TestExtract_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   \n\t"},
		{name: "plain prose", raw: "I could not produce JSON for that request."},
		{name: "unbalanced braces", raw: "{\"title\": \"Truncated outline\", \"chapters\": [{\"chapter_title\": \"One\""},
		{name: "stray closers", raw: "}}]] nothing here [["},
		{name: "only a fence", raw: "```"},
		{name: "bare null", raw: "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw, fallbackMarker)
			assert.Equal(t, StatusFallback, got.Status)
			assert.Equal(t, fallbackMarker(), got.Value)
		})
	}
}

func TestExtract_FirstSpanFailureDoesNotTryLater(t *testing.T) {
	raw := "see [draft notes] and then {\"title\": \"Real\"}"

	got := Extract(raw, fallbackMarker)

	assert.Equal(t, StatusFallback, got.Status)
}

func TestExtract_FallbackCarriesRawText(t *testing.T) {
	raw := "no json at all"
	got := Extract(raw, func() any {
		return map[string]any{"topic": "Sleep", "raw_response": raw}
	})

	require.Equal(t, StatusFallback, got.Status)
	assert.Equal(t, map[string]any{"topic": "Sleep", "raw_response": raw}, got.Value)
}

func TestExtract_FallbackPanicPropagates(t *testing.T) {
	assert.Panics(t, func() {
		Extract("not json", func() any { panic("builder broke") })
	})
}

func TestExtract_KeepsIntegerPrecision(t *testing.T) {
	got := Extract(`{"score": 9007199254740993}`, fallbackMarker)

	require.Equal(t, StatusParsed, got.Status)
	obj := got.Value.(map[string]any)
	assert.Equal(t, json.Number("9007199254740993"), obj["score"])
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("```{\"a\":1}```"))
	assert.Equal(t, `plain`, StripFence("  plain  "))
	assert.Equal(t, `[1]`, StripFence("```javascript\n[1]"))
	assert.Equal(t, "", StripFence("```json\n```"))
	assert.Equal(t, "true", StripFence("```true```"))
	assert.Equal(t, "123", StripFence("```123```"))
}

func TestExtract_SingleLineFencedScalar(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{raw: "```true```", want: true},
		{raw: "```123```", want: json.Number("123")},
		{raw: "```json 7```", want: json.Number("7")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Extract(tt.raw, fallbackMarker)
			assert.Equal(t, StatusParsed, got.Status)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

func TestExtract_InnerSpanOfUnclosedOpener(t *testing.T) {
	got := Extract(`Outline: {"title": "Cut", "keywords": ["a", "b"] and then it stopped`, fallbackMarker)

	require.Equal(t, StatusRecovered, got.Status)
	assert.Equal(t, []any{"a", "b"}, got.Value)
}

func TestExtract_EarlierInnerSpanBeforeMismatch(t *testing.T) {
	got := Extract(`{ [1] ] then {"late": true}`, fallbackMarker)

	require.Equal(t, StatusRecovered, got.Status)
	assert.Equal(t, []any{json.Number("1")}, got.Value)
}

func TestExtract_ManyUnclosedOpenersFinishQuickly(t *testing.T) {
	raw := strings.Repeat("{", 200000)
	start := time.Now()

	got := Extract(raw, fallbackMarker)

	assert.Equal(t, StatusFallback, got.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParse_RejectsTrailingData(t *testing.T) {
	_, err := Parse(`{"a":1} trailing`)
	assert.Error(t, err)

	_, err = Parse(`{"a":1}{"b":2}`)
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	value, err := Parse(`{"title":"T","chapters":[{"chapter_title":"C1","description":"D1"}]}`)
	require.NoError(t, err)

	var dst struct {
		Title    string `json:"title"`
		Chapters []struct {
			ChapterTitle string `json:"chapter_title"`
		} `json:"chapters"`
	}
	require.NoError(t, Convert(value, &dst))
	assert.Equal(t, "T", dst.Title)
	require.Len(t, dst.Chapters, 1)
	assert.Equal(t, "C1", dst.Chapters[0].ChapterTitle)

	arr, _ := Parse(`[1,2]`)
	assert.Error(t, Convert(arr, &dst))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "parsed", StatusParsed.String())
	assert.Equal(t, "recovered", StatusRecovered.String())
	assert.Equal(t, "fallback", StatusFallback.String())
	assert.Equal(t, "unknown", Status(99).String())
}
