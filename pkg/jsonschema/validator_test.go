package jsonschema

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crocodileSchema = `{
	"type": "object",
	"properties": {
		"id": { "type": "integer", "minimum": 1 },
		"name": { "type": "string", "minLength": 1 },
		"sex": { "enum": ["M", "F"] }
	},
	"required": ["id", "name"]
}`

func TestSchema_Validate(t *testing.T) {
	s, err := Compile("crocodile", crocodileSchema)
	require.NoError(t, err)

	tests := []struct {
		name       string
		doc        string
		wantErrors int
		wantParse  bool
	}{
		{name: "valid", doc: `{"id": 1, "name": "Bert", "sex": "M"}`},
		{name: "missing required", doc: `{"id": 2}`, wantErrors: 1},
		{name: "several violations", doc: `{"id": 0, "name": "", "sex": "X"}`, wantErrors: 3},
		{name: "wrong root type", doc: `[1, 2]`, wantErrors: 1},
		{name: "not JSON", doc: `{"id": `, wantParse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.doc))
			if tt.wantErrors == 0 && !tt.wantParse {
				assert.NoError(t, err)
				assert.True(t, s.Match([]byte(tt.doc)))
				return
			}
			require.Error(t, err)
			assert.False(t, s.Match([]byte(tt.doc)))

			var verrs ValidationErrors
			if tt.wantParse {
				assert.False(t, errors.As(err, &verrs))
				assert.Contains(t, err.Error(), "invalid JSON")
				return
			}
			require.True(t, errors.As(err, &verrs))
			assert.Len(t, verrs, tt.wantErrors)
			assert.Contains(t, err.Error(), "validation error at")
		})
	}
}

func TestSchema_ConcurrentUse(t *testing.T) {
	s := MustCompile("crocodile", crocodileSchema)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.True(t, s.Match([]byte(`{"id": 3, "name": "Lyle"}`)))
			}
		}()
	}
	wg.Wait()
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken"))

	_, err = Compile("syntax", `{"type": `)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompile("broken", `{"type": 12}`) })
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "", ValidationErrors{}.Error())
	assert.Equal(t, "a; b", ValidationErrors{errors.New("a"), errors.New("b")}.Error())
}
