// Package llmjson turns untrusted model output into JSON values without failing.
//
// Generative models are asked for "JSON only" but routinely wrap it in markdown
// fences, surround it with prose or truncate it. Extract always returns a usable
// value together with the path that produced it, so callers can log how often
// the backend needed recovery or a fallback.
package llmjson

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Status reports which extraction path produced a Result.
type Status int

const (
	// StatusParsed means the cleaned text parsed directly.
	StatusParsed Status = iota
	// StatusRecovered means a JSON object or array embedded in the text parsed.
	StatusRecovered
	// StatusFallback means nothing parsed and the caller's default was used.
	StatusFallback
)

func (s Status) String() string {
	switch s {
	case StatusParsed:
		return "parsed"
	case StatusRecovered:
		return "recovered"
	case StatusFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of Extract. Value is never nil unless the fallback
// builder itself returned nil.
type Result struct {
	Value  any
	Status Status
}

const fence = "```"

var errTrailingData = errors.New("llmjson: trailing data after JSON value")

// Extract parses raw model output. It strips a surrounding markdown fence,
// tries a direct parse, then tries the first complete JSON object or array
// found in the text, and finally falls back to fallback().
//
// Only the first located object/array is attempted; if it does not parse the
// result is a fallback even when later candidates exist.
func Extract(raw string, fallback func() any) Result {
	cleaned := StripFence(raw)

	// A bare null parses but carries nothing usable.
	if v, err := Parse(cleaned); err == nil && v != nil {
		return Result{Value: v, Status: StatusParsed}
	}

	if span, ok := firstJSONSpan(cleaned); ok {
		if v, err := Parse(span); err == nil {
			return Result{Value: v, Status: StatusRecovered}
		}
	}

	return Result{Value: fallback(), Status: StatusFallback}
}

// StripFence trims whitespace and removes a leading markdown code fence
// (with an optional language tag in any case, recognised only when followed
// by whitespace) and, if present, the closing fence. Text that does not start with a fence is only trimmed.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, fence) {
		return s
	}
	s = s[len(fence):]
	if tag := strings.IndexFunc(s, func(r rune) bool { return !isFenceTagRune(r) }); tag > 0 && startsWithSpace(s[tag:]) {
		s = s[tag:]
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(strings.TrimSuffix(s, fence))
	}
	return s
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func isFenceTagRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '+' || r == '.'
}

// Parse decodes text as exactly one JSON value. Numbers are kept as
// json.Number so integer fields survive without float rounding.
func Parse(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}

// Convert re-shapes a generic value produced by Extract into dst, which must
// be a pointer. It fails when the value's shape does not fit dst.
func Convert(value any, dst any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// firstJSONSpan returns the leftmost substring that opens with '{' or '['
// and closes with the matching bracket, in a single pass. Brackets inside
// JSON string literals are ignored. An opener that is never closed is
// skipped; a mismatched closer abandons every opener still pending.
func firstJSONSpan(s string) (string, bool) {
	type opener struct {
		closer byte
		start  int
	}
	stack := make([]opener, 0, 8)
	inString := false
	escaped := false
	bestStart, bestEnd := -1, -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{':
			stack = append(stack, opener{closer: '}', start: i})
		case '[':
			stack = append(stack, opener{closer: ']', start: i})
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if top.closer != c {
				stack = stack[:0]
				if bestStart >= 0 {
					return s[bestStart : bestEnd+1], true
				}
				continue
			}
			stack = stack[:len(stack)-1]
			bestStart, bestEnd = top.start, i
			if len(stack) == 0 {
				return s[bestStart : bestEnd+1], true
			}
		}
	}
	if bestStart >= 0 {
		return s[bestStart : bestEnd+1], true
	}
	return "", false
}
