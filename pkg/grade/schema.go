// Package grade defines the JSON contract for model-produced grading output
// and the normalization rules for draft responses.
package grade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resultSchemaJSON = `{
  "type": "object",
  "required": ["total_points", "parts", "deductions", "final_feedback"],
  "properties": {
    "total_points": {"type": "number"},
    "parts": {"type": "array"},
    "deductions": {"type": "array"}
  }
}`

var resultSchema = jsonschema.MustCompileString("grade_result.schema.json", resultSchemaJSON)

// ValidateResult checks a decoded model response against the grading output
// contract: all four top-level keys present, parts and deductions arrays.
// Error messages name the offending key so they stay useful after being
// persisted onto a failed job.
func ValidateResult(data map[string]interface{}) error {
	if data == nil {
		return errors.New("grade result is not an object")
	}
	err := resultSchema.Validate(map[string]interface{}(data))
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return err
	}
	return fmt.Errorf("invalid grade result: %s", strings.Join(leafMessages(validationErr), "; "))
}

func leafMessages(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		location := strings.TrimPrefix(err.InstanceLocation, "/")
		if location == "" {
			return []string{err.Message}
		}
		return []string{fmt.Sprintf("%s: %s", location, err.Message)}
	}
	var messages []string
	for _, cause := range err.Causes {
		messages = append(messages, leafMessages(cause)...)
	}
	return messages
}
