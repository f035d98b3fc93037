// Package feed extracts raw event records from captured timetable payloads.
//
// The upstream feed is not consistent about its payload shape, so parsing
// degrades instead of failing: a JSON array is used as-is, a JSON object is
// searched for a nested event list, and anything that is not JSON is read as
// one event title per non-blank line.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

// ErrNotJSON is returned by Decode for payloads that are not a single JSON value.
var ErrNotJSON = errors.New("feed: payload is not valid JSON")

// listKeys are checked in order on object payloads.
var listKeys = []string{"events", "items", "data", "results"}

// Result is the outcome of parsing one payload.
type Result struct {
	Records []model.Record
	// Skipped counts list elements that could not become a record (JSON null).
	Skipped int
	// Text is true when the payload was not JSON and was read line by line.
	Text bool
}

// Elements returns the raw list elements of a decoded payload: the array
// itself, the nested event list of an object, or the object as its only
// element. Nulls and scalars inside the list are kept as they are. ok is
// false for a bare scalar payload.
func Elements(v any) (elems []any, ok bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case map[string]any:
		if list, found := NestedList(val); found {
			return list, true
		}
		return []any{val}, true
	default:
		return nil, false
	}
}

// Parse decodes body as JSON and extracts its records, falling back to plain
// text extraction when body is not valid JSON. It never fails; an empty
// Result is a valid outcome.
func Parse(body []byte) Result {
	v, err := Decode(body)
	if err != nil {
		appLog.Debug("feed payload is not JSON; reading as text", "bytes", len(body))
		return parseText(string(body))
	}
	return ParseValue(v)
}

// Decode decodes a JSON payload keeping numbers as json.Number. The whole
// body must be a single JSON value.
func Decode(body []byte) (any, error) {
	if !json.Valid(body) {
		return nil, ErrNotJSON
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseValue extracts records from an already-decoded payload.
func ParseValue(v any) Result {
	switch val := v.(type) {
	case []any:
		return fromList(val)
	case map[string]any:
		if list, ok := NestedList(val); ok {
			return fromList(list)
		}
		appLog.Debug("feed object has no event list; treating it as one event")
		return Result{Records: []model.Record{newRecord(val)}}
	case model.RawRecord:
		return ParseValue(map[string]any(val))
	case string:
		return parseText(val)
	default:
		// Numbers, booleans and null carry no events.
		return Result{}
	}
}

// NestedList returns the first of events/items/data/results that holds a
// JSON array.
func NestedList(obj map[string]any) ([]any, bool) {
	for _, key := range listKeys {
		if list, ok := obj[key].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func fromList(list []any) Result {
	res := Result{Records: make([]model.Record, 0, len(list))}
	for i, item := range list {
		switch val := item.(type) {
		case nil:
			appLog.Warn("feed list element is null; skipping", "index", i)
			res.Skipped++
		case map[string]any:
			res.Records = append(res.Records, newRecord(val))
		default:
			// Scalars have no event fields; they still count as one untitled event.
			res.Records = append(res.Records, model.Record{Shape: model.ShapeGeneric, Fields: model.RawRecord{}})
		}
	}
	return res
}

func parseText(text string) Result {
	res := Result{Text: true}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res.Records = append(res.Records, model.Record{
			Shape:  model.ShapeGeneric,
			Fields: model.RawRecord{"title": line},
		})
	}
	return res
}

func newRecord(fields map[string]any) model.Record {
	raw := model.RawRecord(fields)
	return model.Record{Shape: DetectShape(raw), Fields: raw}
}

// DetectShape reports ShapeGrid iff both eventTitle and startDate_yr are
// present with a non-empty value.
func DetectShape(r model.RawRecord) model.Shape {
	if Truthy(r["eventTitle"]) && Truthy(r["startDate_yr"]) {
		return model.ShapeGrid
	}
	return model.ShapeGeneric
}

// Truthy reports whether a decoded JSON value counts as set: not null, not
// false, not an empty string and not numerically zero.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		f, err := val.Float64()
		return err != nil || f != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}
