package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed opportunity_item.schema.json
var opportunityItemSchemaJSON string

// OpportunityItem is one structured record extracted from a listing page.
type OpportunityItem struct {
	Title             string   `json:"title"`
	Provider          string   `json:"provider"`
	Description       string   `json:"description"`
	Deadline          string   `json:"deadline"`
	AwardAmount       *string  `json:"award_amount,omitempty"`
	Requirements      []string `json:"requirements,omitempty"`
	RequiredDocuments []string `json:"required_documents,omitempty"`
	EssayPrompts      []string `json:"essay_prompts,omitempty"`
	ContactInfo       *string  `json:"contact_info,omitempty"`
	Region            *string  `json:"region,omitempty"`
	ApplicationURL    *string  `json:"application_url,omitempty"`

	// Fields the extraction capability sometimes returns that feed the
	// description fallback when description itself is absent.
	Eligibility        *string `json:"eligibility,omitempty"`
	ApplicationProcess *string `json:"application_process,omitempty"`
}

// SubmitSchemaJSON is the strict JSON schema sent with every extraction
// submission; the same document validates responses.
func SubmitSchemaJSON() json.RawMessage {
	return json.RawMessage(opportunityItemSchemaJSON)
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateOpportunityItem validates a raw extraction item against the
// schema and unmarshals it. Callers treat validation failure as lenient:
// the item is re-decoded without validation so field defaulting can run.
func ValidateOpportunityItem(payload json.RawMessage) (*OpportunityItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode item JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize item JSON: %w", err)
	}

	var item OpportunityItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}

	return &item, nil
}

// DecodeOpportunityItemLenient unmarshals without schema validation so
// downstream defaulting can repair missing fields.
func DecodeOpportunityItemLenient(payload json.RawMessage) (*OpportunityItem, error) {
	var item OpportunityItem
	if err := json.Unmarshal(bytes.TrimSpace(payload), &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("opportunity_item.schema.json", strings.NewReader(opportunityItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("opportunity_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("item is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("item contains trailing content")
	}

	return value, nil
}
