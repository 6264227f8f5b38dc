package extract

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestDecodeItems_Array(t *testing.T) {
	t.Parallel()

	items, err := DecodeItems(json.RawMessage(`[{"title":"a"},{"title":"b"},null]`), SingleObjectAsItem, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestDecodeItems_NestedUnderKnownKey(t *testing.T) {
	t.Parallel()

	items, err := DecodeItems(json.RawMessage(`{"results":[{"title":"a"},{"title":"b"}]}`), SingleObjectAsItem, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 nested items, got %d", len(items))
	}
}

func TestDecodeItems_SingleMergedObjectAsItem(t *testing.T) {
	t.Parallel()

	items, err := DecodeItems(json.RawMessage(`{"title":"merged"}`), SingleObjectAsItem, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 item for merged object, got %d", len(items))
	}
}

func TestDecodeItems_SingleMergedObjectDiscardPolicy(t *testing.T) {
	t.Parallel()

	items, err := DecodeItems(json.RawMessage(`{"title":"merged"}`), SingleObjectDiscard, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected 0 items under discard policy, got %d", len(items))
	}
}

func TestDecodeItems_EmptyPayload(t *testing.T) {
	t.Parallel()

	items, err := DecodeItems(nil, SingleObjectAsItem, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items for empty payload, got %d", len(items))
	}
}

func TestDecodeItems_ScalarPayloadIsError(t *testing.T) {
	t.Parallel()

	if _, err := DecodeItems(json.RawMessage(`"oops"`), SingleObjectAsItem, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for scalar payload")
	}
}
