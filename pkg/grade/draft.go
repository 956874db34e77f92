package grade

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldShape tags the three shapes a draft-response field may legally take.
type FieldShape int

const (
	// ShapeText is a plain string.
	ShapeText FieldShape = iota
	// ShapeLines is an ordered list of strings.
	ShapeLines
	// ShapeStructured is a nested JSON value (object, or mixed array).
	ShapeStructured
)

// DraftField is a model-returned field classified by shape. Models answer
// rubric/assignment draft requests with whichever of the three shapes they
// feel like, so storage always goes through Canonical.
type DraftField struct {
	Shape FieldShape
	text  string
	lines []string
	value interface{}
}

// ClassifyField sorts a decoded JSON value into the draft-field union. An
// unsupported shape fails with an error naming the field.
func ClassifyField(value interface{}, fieldName string) (DraftField, error) {
	switch v := value.(type) {
	case nil:
		return DraftField{Shape: ShapeText}, nil
	case string:
		return DraftField{Shape: ShapeText, text: v}, nil
	case []interface{}:
		lines := make([]string, 0, len(v))
		allStrings := true
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				allStrings = false
				break
			}
			lines = append(lines, s)
		}
		if allStrings {
			return DraftField{Shape: ShapeLines, lines: lines}, nil
		}
		return DraftField{Shape: ShapeStructured, value: v}, nil
	case map[string]interface{}:
		return DraftField{Shape: ShapeStructured, value: v}, nil
	default:
		return DraftField{}, fmt.Errorf("draft response expected %s as string, list of strings, or object, got %T", fieldName, value)
	}
}

// Canonical renders the field as a single string for storage: text is
// trimmed, lines are newline-joined, structured values are re-serialized as
// indented JSON.
func (f DraftField) Canonical() string {
	switch f.Shape {
	case ShapeLines:
		trimmed := make([]string, 0, len(f.lines))
		for _, line := range f.lines {
			trimmed = append(trimmed, strings.TrimSpace(line))
		}
		return strings.TrimSpace(strings.Join(trimmed, "\n"))
	case ShapeStructured:
		encoded, err := json.MarshalIndent(f.value, "", "  ")
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return strings.TrimSpace(f.text)
	}
}

// NormalizeField is the one-step helper used by the draft runners.
func NormalizeField(value interface{}, fieldName string) (string, error) {
	field, err := ClassifyField(value, fieldName)
	if err != nil {
		return "", err
	}
	return field.Canonical(), nil
}
