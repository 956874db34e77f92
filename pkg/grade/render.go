package grade

import (
	"fmt"
	"strings"
)

// Render turns a validated grade object into the human-readable text shown to
// instructors and exported to CSV.
func Render(data map[string]interface{}) string {
	lines := []string{
		fmt.Sprintf("TOTAL: %s", formatValue(data["total_points"])),
		fmt.Sprintf("PARTS: %s", renderParts(data)),
		"",
	}

	deductions, _ := data["deductions"].([]interface{})
	for _, entry := range deductions {
		deduction, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		reason, _ := deduction["reason"].(string)
		hint, _ := deduction["hint"].(string)
		lines = append(lines, fmt.Sprintf("- %s Hint: %s", reason, hint))
	}
	if len(deductions) > 0 {
		lines = append(lines, "")
	}

	feedback, _ := data["final_feedback"].(string)
	lines = append(lines, feedback)

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func renderParts(data map[string]interface{}) string {
	parts, _ := data["parts"].([]interface{})
	rendered := make([]string, 0, len(parts))
	for _, entry := range parts {
		part, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		rendered = append(rendered, fmt.Sprintf("%s/%s",
			formatValue(part["points_awarded"]), formatValue(part["points_possible"])))
	}
	return strings.Join(rendered, ", ")
}

// formatValue renders JSON numbers without a trailing ".0" so whole-point
// scores read naturally.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PartPoints extracts the points_awarded column values in part order, for the
// CSV export. Missing or malformed entries come back as empty strings.
func PartPoints(data map[string]interface{}) []string {
	parts, _ := data["parts"].([]interface{})
	values := make([]string, 0, len(parts))
	for _, entry := range parts {
		part, ok := entry.(map[string]interface{})
		if !ok {
			values = append(values, "")
			continue
		}
		values = append(values, formatValue(part["points_awarded"]))
	}
	return values
}

// TotalPoints extracts total_points as a float pointer, nil when absent or
// not numeric.
func TotalPoints(data map[string]interface{}) *float64 {
	if value, ok := data["total_points"].(float64); ok {
		return &value
	}
	return nil
}
