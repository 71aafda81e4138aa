package jsonpath

import (
	"testing"
)

const doc = `{
	"data": {
		"origin": "10.0.0.1",
		"headers": {"Host": "example.test"},
		"args": []
	},
	"items": [{"name": "a"}, {"name": "b"}],
	"scores": [10, 20, 30],
	"metadata": null
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		expected      string
		expectedError bool
	}{
		{name: "nested field", path: "$.data.origin", expected: "10.0.0.1"},
		{name: "bracket key", path: "$['data']['headers']['Host']", expected: "example.test"},
		{name: "array element", path: "$.items[1].name", expected: "b"},
		{name: "gjson passthrough", path: "scores.2", expected: "30"},
		{name: "gjson modifier", path: "scores.#", expected: "3"},
		{name: "null value", path: "$.metadata", expected: "null"},
		{name: "missing", path: "$.nope", expectedError: true},
		{name: "empty path", path: "", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(doc), tt.path)
			if tt.expectedError {
				if err == nil {
					t.Errorf("Extract(%q) expected error, got %q", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) error = %v", tt.path, err)
			}
			if got != tt.expected {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestExtract_InvalidDocument(t *testing.T) {
	if _, err := Extract(nil, "$.a"); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := Extract([]byte(`{"a":`), "$.a"); err == nil {
		t.Error("expected error for invalid document")
	}
}

func TestToGjson(t *testing.T) {
	tests := []struct {
		jsonPath  string
		gjsonPath string
	}{
		{"$.name", "name"},
		{"$['name']", "name"},
		{`$["name"]`, "name"},
		{"$.user.name", "user.name"},
		{"$.items[0]", "items.0"},
		{"$.items[0].name", "items.0.name"},
		{"$.deeply.nested[0].array[1].value", "deeply.nested.0.array.1.value"},
		{"$", "@this"},
		{"", "@this"},
		{"$[0]", "0"},
		{"$[0].name", "0.name"},
		{"data.origin", "data.origin"},
	}

	for _, tt := range tests {
		t.Run(tt.jsonPath, func(t *testing.T) {
			if got := ToGjson(tt.jsonPath); got != tt.gjsonPath {
				t.Errorf("ToGjson(%q) = %q, want %q", tt.jsonPath, got, tt.gjsonPath)
			}
		})
	}
}
