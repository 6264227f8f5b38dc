package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// SingleObjectPolicy governs decoding when the capability collapses a
// multi-URL batch into one merged object instead of an array.
type SingleObjectPolicy string

const (
	// SingleObjectAsItem treats the merged object as exactly one extracted
	// item. This mirrors upstream behavior most of the time but is a
	// heuristic, not a contract.
	SingleObjectAsItem SingleObjectPolicy = "single-item"
	// SingleObjectDiscard drops the payload and leaves recovery to the
	// per-URL fallback pass.
	SingleObjectDiscard SingleObjectPolicy = "discard"
)

// Keys under which the capability has been observed nesting the item array.
var nestedArrayKeys = []string{"results", "items", "data", "extractions", "opportunities"}

// DecodeItems splits an extraction payload into raw items. The payload may
// be an array (ideal), an object nesting an array under a known key, or a
// single merged object handled per policy.
func DecodeItems(payload json.RawMessage, policy SingleObjectPolicy, logger zerolog.Logger) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		return decodeArray(trimmed)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("extraction payload is neither array nor object")
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return nil, fmt.Errorf("decode extraction object: %w", err)
	}

	for _, key := range nestedArrayKeys {
		nested, ok := object[key]
		if !ok {
			continue
		}
		nestedTrimmed := bytes.TrimSpace(nested)
		if len(nestedTrimmed) == 0 || nestedTrimmed[0] != '[' {
			continue
		}
		return decodeArray(nestedTrimmed)
	}

	switch policy {
	case SingleObjectDiscard:
		logger.Warn().Msg("extraction returned a single merged object; discarding per policy")
		return nil, nil
	default:
		logger.Warn().Msg("extraction returned a single merged object; treating as one item")
		return []json.RawMessage{trimmed}, nil
	}
}

func decodeArray(raw []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode extraction array: %w", err)
	}

	filtered := items[:0]
	for _, item := range items {
		itemTrimmed := bytes.TrimSpace(item)
		if len(itemTrimmed) == 0 || string(itemTrimmed) == "null" {
			continue
		}
		filtered = append(filtered, itemTrimmed)
	}
	return filtered, nil
}
