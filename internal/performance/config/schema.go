package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "options.schema.json"

// Schema returns the JSON schema every document is checked against.
func Schema() string {
	return schemaJSON
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// validateSchema checks the structure of a decoded JSON document and
// records one error per failing leaf.
func validateSchema(doc any, errs *ValidationErrors) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}

	seen := map[string]bool{}
	var leaves []*ValidationError
	collectLeaves(verr, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].Field < leaves[j].Field })
	for _, leaf := range leaves {
		key := leaf.Field + "\x00" + leaf.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		errs.Add(leaf.Field, leaf.Message)
	}
	return nil
}

// collectLeaves flattens the cause tree. Only the innermost causes carry a
// useful message.
func collectLeaves(err *jsonschema.ValidationError, out *[]*ValidationError) {
	if len(err.Causes) == 0 {
		*out = append(*out, &ValidationError{Field: fieldPath(err.InstanceLocation), Message: err.Message})
		return
	}
	for _, cause := range err.Causes {
		collectLeaves(cause, out)
	}
}

// fieldPath turns a JSON pointer ("/scenarios/a/vus") into "scenarios.a.vus".
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
