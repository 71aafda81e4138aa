package summary

import (
	"encoding/json"
	"fmt"
)

// JSON renders the summary data as an indented JSON document.
func JSON(data *Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("summary data cannot be nil")
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(out) + "\n", nil
}
