// Package diff detects record-level changes between two captures of the same
// feed. List elements are compared as decoded, before recurrence expansion,
// using a field-order independent canonical key.
package diff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gridcal/internal/feed"
	appLog "gridcal/internal/log"
	"gridcal/internal/model"
)

// errNotRecords is reported when a payload decodes to a bare scalar.
var errNotRecords = errors.New("payload is not a record list")

// Diff compares the records of two raw payloads. Added keeps the order of
// current, Removed the order of previous; both are de-duplicated.
//
// If either payload is not usable JSON the result carries Error and
// HasChanges falls back to plain byte inequality.
func Diff(previous, current []byte) model.DiffResult {
	prevRecs, err := records(previous)
	if err != nil {
		return fallback(previous, current, "previous", err)
	}
	curRecs, err := records(current)
	if err != nil {
		return fallback(previous, current, "current", err)
	}
	return Records(prevRecs, curRecs)
}

// Records compares two already-extracted element lists.
func Records(previous, current []any) model.DiffResult {
	prevKeys := keySet(previous)
	curKeys := keySet(current)

	res := model.DiffResult{
		Added:         only(current, prevKeys),
		Removed:       only(previous, curKeys),
		TotalPrevious: len(previous),
		TotalCurrent:  len(current),
	}
	res.HasChanges = len(res.Added) > 0 || len(res.Removed) > 0
	return res
}

// CanonicalKey returns a stable string for v. encoding/json writes map keys
// in sorted order at every depth, so two records that differ only in field
// order share a key. Numbers decoded as json.Number keep their literal text.
func CanonicalKey(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Only unsupported Go values end up here; decoded JSON never does.
		return fmt.Sprintf("%#v", v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func records(body []byte) ([]any, error) {
	v, err := feed.Decode(body)
	if err != nil {
		return nil, err
	}
	elems, ok := feed.Elements(v)
	if !ok {
		return nil, errNotRecords
	}
	return elems, nil
}

func fallback(previous, current []byte, which string, err error) model.DiffResult {
	appLog.Warn("diff: falling back to raw comparison", "payload", which, "reason", err.Error())
	return model.DiffResult{
		HasChanges: !bytes.Equal(previous, current),
		Error:      fmt.Sprintf("failed to decode %s payload: %v", which, err),
	}
}

func keySet(recs []any) map[string]struct{} {
	set := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		set[CanonicalKey(r)] = struct{}{}
	}
	return set
}

// only returns the elements of recs whose key is not in exclude, first
// occurrence wins.
func only(recs []any, exclude map[string]struct{}) []any {
	var out []any
	seen := make(map[string]struct{})
	for _, r := range recs {
		key := CanonicalKey(r)
		if _, ok := exclude[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
