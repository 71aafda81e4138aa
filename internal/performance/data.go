package performance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/masoud-msk/dev-stack/pkg/jsonpath"
)

// SetupData is the value returned by the setup phase. It is stored as
// serialized JSON and never mutated; every consumer decodes its own copy, so
// no VU can observe another VU's changes.
type SetupData struct {
	raw []byte
}

// NewSetupData serializes v. A nil v yields empty data.
func NewSetupData(v any) (SetupData, error) {
	if v == nil {
		return SetupData{}, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return SetupData{}, fmt.Errorf("setup data is not valid JSON")
		}
		return SetupData{raw: bytes.Clone(raw)}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return SetupData{}, fmt.Errorf("setup data is not serializable: %w", err)
	}
	return SetupData{raw: raw}, nil
}

// IsZero reports whether setup returned nothing.
func (d SetupData) IsZero() bool {
	return len(d.raw) == 0
}

// Raw returns a copy of the serialized value.
func (d SetupData) Raw() []byte {
	return bytes.Clone(d.raw)
}

// Decode unmarshals a fresh copy into v.
func (d SetupData) Decode(v any) error {
	if d.IsZero() {
		return nil
	}
	return json.Unmarshal(d.raw, v)
}

// Value returns a fresh generic copy (maps, slices, float64, string, bool).
func (d SetupData) Value() (any, error) {
	if d.IsZero() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(d.raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Get queries the value with a JSONPath or gjson path.
func (d SetupData) Get(path string) gjson.Result {
	return jsonpath.Get(d.raw, path)
}

func (d SetupData) String() string {
	return string(d.raw)
}
