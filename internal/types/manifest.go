package types

import (
	"encoding/json"
	"fmt"
)

// MTFNamespace is the _meta key carrying MTF extensions in a manifest.
const MTFNamespace = "org.mpaktrust"

// Manifest is a parsed manifest.json. The core only requires that it is a
// JSON object; field contracts belong to the controls that read them.
type Manifest map[string]any

// ParseManifest decodes a manifest document. Anything that is not a JSON
// object is an error.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode manifest: not a JSON object")
	}
	return m, nil
}

// Get walks nested objects by key and returns the value, or nil.
func (m Manifest) Get(path ...string) any {
	var cur any = map[string]any(m)
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

// String returns the string at path, or "".
func (m Manifest) String(path ...string) string {
	s, _ := m.Get(path...).(string)
	return s
}

// Object returns the object at path, or nil.
func (m Manifest) Object(path ...string) map[string]any {
	obj, _ := m.Get(path...).(map[string]any)
	return obj
}

// List returns the array at path, or nil.
func (m Manifest) List(path ...string) []any {
	list, _ := m.Get(path...).([]any)
	return list
}

// Has reports whether key is present at the top level.
func (m Manifest) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// MTF returns the _meta["org.mpaktrust"] extension object, or nil.
func (m Manifest) MTF() map[string]any {
	return m.Object("_meta", MTFNamespace)
}

// AsString returns v as a string when it is one.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsObject returns v as a JSON object when it is one.
func AsObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}
