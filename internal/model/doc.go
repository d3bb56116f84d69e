package model

import "encoding/json"

// ToDoc converts a typed entity into the map[string]any shape the store
// package persists. Round-tripping through encoding/json keeps this in sync
// with each struct's json tags without hand-written field-by-field mapping.
func ToDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromDoc decodes a stored document back into a typed entity pointer.
func FromDoc(doc map[string]any, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
