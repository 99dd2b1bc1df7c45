package vision

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fields is the normalized shape we want from the provider. Each field is
// independently nullable; null means the provider was not confident.
type Fields struct {
	FullName       *string `json:"full_name"`
	DOB            *string `json:"dob"`
	DocumentNumber *string `json:"document_number"`
}

// FieldExtractor is the interface the pipeline depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, frontImage []byte) (Fields, error)
}

// fieldsSchema pins the provider contract: exactly three nullable string
// keys and nothing else. Replies that fail validation are absorbed as
// all-null rather than failing the job.
var fieldsSchema = jsonschema.MustCompileString("id_fields.json", `{
	"type": "object",
	"properties": {
		"full_name": {"type": ["string", "null"]},
		"dob": {"type": ["string", "null"]},
		"document_number": {"type": ["string", "null"]}
	},
	"required": ["full_name", "dob", "document_number"],
	"additionalProperties": false
}`)

// decodeFields parses and validates provider output. The second return is
// false when the content is not valid JSON matching the contract.
func decodeFields(content string) (Fields, bool) {
	content = stripCodeFence(strings.TrimSpace(content))

	var doc interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return Fields{}, false
	}
	if err := fieldsSchema.Validate(doc); err != nil {
		return Fields{}, false
	}
	var out Fields
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Fields{}, false
	}
	return out, true
}

// stripCodeFence removes a markdown ```json wrapper some models emit despite
// the JSON-only instruction.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
