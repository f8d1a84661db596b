package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// normalizeShape resolves a JSON document into a row collection.
//
// Accepted top-level shapes:
//
//	[ {...}, ... ]              the document is the collection
//	{ "k": [ ... ], ... }       first list-valued field, in document order
//	{ "a": 1, ... }             object with no list field: single record
//
// Anything else, and empty collections, yield a ShapeError.
func normalizeShape(body []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &core.ShapeError{Msg: "empty response body"}
	}

	switch trimmed[0] {
	case '[':
		rows, err := decodeList(trimmed)
		if err != nil {
			return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON array: %v", err)}
		}
		if len(rows) == 0 {
			return nil, &core.ShapeError{Msg: "endpoint returned an empty list"}
		}
		return rows, nil
	case '{':
		return normalizeObject(trimmed)
	default:
		return nil, &core.ShapeError{Msg: "top-level JSON value is not an object or array"}
	}
}

// normalizeObject walks the object's keys in document order and returns the
// first list-valued field as the collection. Objects without any list field
// are treated as a single record.
func normalizeObject(body []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil { // opening brace
		return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON object: %v", err)}
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil { // key
			return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON object: %v", err)}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON object: %v", err)}
		}
		value := bytes.TrimSpace(raw)
		if len(value) > 0 && value[0] == '[' {
			rows, err := decodeList(value)
			if err != nil {
				return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON array: %v", err)}
			}
			if len(rows) == 0 {
				return nil, &core.ShapeError{Msg: "endpoint returned an empty list"}
			}
			return rows, nil
		}
	}

	// No list field anywhere: the object itself is the one record.
	record, err := decodeRecord(body)
	if err != nil {
		return nil, &core.ShapeError{Msg: fmt.Sprintf("malformed JSON object: %v", err)}
	}
	return []any{record}, nil
}

// decodeList decodes a JSON array, converting object elements to Record and
// leaving everything else as-is for the normalizer to count as errors.
func decodeList(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	rows := make([]any, len(raw))
	for i, elem := range raw {
		if m, ok := elem.(map[string]any); ok {
			rows[i] = core.Record(m)
		} else {
			rows[i] = elem
		}
	}
	return rows, nil
}

func decodeRecord(data []byte) (core.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return core.Record(m), nil
}
