package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseJSON extracts a JSON object from a raw model response. Models wrap
// their output in markdown fences or prose more often than not, so the
// recovery order is: direct parse, fenced code block, substring between the
// first '{' and the last '}'. The first successful parse wins.
func ParseJSON(raw string) (map[string]interface{}, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "\uFEFF")
	if cleaned == "" {
		return nil, fmt.Errorf("empty response")
	}

	if data, err := decodeObject(cleaned); err == nil {
		return data, nil
	}

	if match := fencedJSON.FindStringSubmatch(cleaned); match != nil {
		if data, err := decodeObject(strings.TrimSpace(match[1])); err == nil {
			return data, nil
		}
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start != -1 && end > start {
		candidate := strings.TrimSpace(cleaned[start : end+1])
		if data, err := decodeObject(candidate); err == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("no JSON object found in response")
}

func decodeObject(text string) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, err
	}
	return data, nil
}
