// Package jsonpath queries JSON documents with a small JSONPath subset
// ($.a.b[0], $['a']) translated to gjson paths. Plain gjson paths pass through.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Get evaluates path against a JSON document.
func Get(doc []byte, path string) gjson.Result {
	return gjson.GetBytes(doc, ToGjson(path))
}

// Extract returns the value at path as a string. Missing paths are an error;
// JSON null is returned as "null".
func Extract(doc []byte, path string) (string, error) {
	if len(doc) == 0 {
		return "", fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if !gjson.ValidBytes(doc) {
		return "", fmt.Errorf("invalid JSON document")
	}

	res := Get(doc, path)
	if !res.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if res.Type == gjson.Null {
		return "null", nil
	}
	return res.String(), nil
}

// ToGjson converts a JSONPath expression into gjson syntax.
func ToGjson(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" || path == "" {
		return "@this"
	}
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return b.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(key)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
