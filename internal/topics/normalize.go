// Package topics turns loosely shaped topic data from feeds and models into
// ranked Records.
package topics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bookforge/internal/llmjson"
)

const (
	DefaultScore  = 50
	DefaultReason = "fallback"
	minScore      = 0
	maxScore      = 100
)

// Record is a candidate topic with a ranking score and the model's reason.
type Record struct {
	Topic  string `json:"topic"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Input is one of the accepted topic shapes: Text, TextList, RecordList or
// Value. The set is closed; Normalize handles every variant.
type Input interface {
	isInput()
}

// Text is a single string. It may itself be JSON.
type Text string

// TextList is a list of plain topic strings.
type TextList []string

// RecordList is a list of partially formed records.
type RecordList []map[string]any

// Value is any other decoded value, such as a mixed []any, an object or a
// scalar.
type Value struct {
	V any
}

func (Text) isInput()       {}
func (TextList) isInput()   {}
func (RecordList) isInput() {}
func (Value) isInput()      {}

// FromValue classifies a decoded JSON value into an Input.
func FromValue(v any) Input {
	switch x := v.(type) {
	case string:
		return Text(x)
	case []string:
		return TextList(x)
	case []map[string]any:
		return RecordList(x)
	default:
		return Value{V: v}
	}
}

// Normalize converts in into records in input order. Elements without a usable
// topic are dropped; missing scores and reasons get defaults. The result is
// always a new slice.
func Normalize(in Input) []Record {
	switch x := in.(type) {
	case Text:
		return normalizeText(string(x))
	case TextList:
		out := make([]Record, 0, len(x))
		for _, s := range x {
			if r, ok := fromString(s); ok {
				out = append(out, r)
			}
		}
		return out
	case RecordList:
		out := make([]Record, 0, len(x))
		for _, m := range x {
			if r, ok := fromMap(m); ok {
				out = append(out, r)
			}
		}
		return out
	case Value:
		return normalizeValue(x.V)
	case nil:
		return []Record{}
	default:
		panic(fmt.Sprintf("topics: unhandled input type %T", in))
	}
}

func normalizeText(s string) []Record {
	parsed, err := llmjson.Parse(s)
	if err != nil {
		return single(s)
	}
	if list, ok := parsed.([]any); ok {
		return normalizeList(list)
	}
	if parsed == nil {
		// A JSON null literal is still a non-sequence value.
		return single(s)
	}
	return normalizeValue(parsed)
}

func normalizeValue(v any) []Record {
	if list, ok := v.([]any); ok {
		return normalizeList(list)
	}
	if v == nil {
		return []Record{}
	}
	return single(stringify(v))
}

func normalizeList(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, el := range list {
		var (
			r  Record
			ok bool
		)
		switch x := el.(type) {
		case map[string]any:
			r, ok = fromMap(x)
		case string:
			r, ok = fromString(x)
		case nil:
			ok = false
		default:
			r, ok = fromString(stringify(x))
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func single(s string) []Record {
	if r, ok := fromString(s); ok {
		return []Record{r}
	}
	return []Record{}
}

func fromString(s string) (Record, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Record{}, false
	}
	return Record{Topic: s, Score: DefaultScore, Reason: DefaultReason}, true
}

func fromMap(m map[string]any) (Record, bool) {
	raw, present := m["topic"]
	if !present || raw == nil {
		return Record{}, false
	}
	topic := strings.TrimSpace(stringify(raw))
	if topic == "" {
		return Record{}, false
	}
	return Record{
		Topic:  topic,
		Score:  coerceScore(m["score"]),
		Reason: coerceReason(m["reason"]),
	}, true
}

func coerceScore(v any) int {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return DefaultScore
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return DefaultScore
		}
		f = parsed
	default:
		return DefaultScore
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultScore
	}
	score := int(math.Round(f))
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

func coerceReason(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return DefaultReason
	}
	return s
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
