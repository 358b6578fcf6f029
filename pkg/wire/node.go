// ABOUTME: Generic JSON node handling for wire formats
// ABOUTME: Parsing with exact numbers, node kinds, and typed member accessors

package wire

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// JSON node kinds as reported in format errors
const (
	KindObject  = "object"
	KindArray   = "array"
	KindString  = "string"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindNull    = "null"
)

// Parse decodes data into a generic node tree. Numbers decode as json.Number.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, &FormatError{Msg: "invalid JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &FormatError{Msg: "trailing data after JSON value"}
	}
	return node, nil
}

// KindOf names the JSON kind of a generic node
func KindOf(node any) string {
	switch node.(type) {
	case nil:
		return KindNull
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case string:
		return KindString
	case bool:
		return KindBoolean
	case json.Number, float64, float32, int, int64, int32, uint64, uint32:
		return KindNumber
	default:
		return "unknown"
	}
}

// Member reports whether obj has key
func Member(obj map[string]any, key string) (any, bool) {
	v, ok := obj[key]
	return v, ok
}

// Object returns obj[key] as an object. ok is false when the key is absent.
func Object(obj map[string]any, key, path string) (map[string]any, bool, error) {
	v, ok := obj[key]
	if !ok {
		return nil, false, nil
	}
	m, isObj := v.(map[string]any)
	if !isObj {
		return nil, true, KindError(path, v, KindObject)
	}
	return m, true, nil
}

// String returns obj[key] as a string
func String(obj map[string]any, key, path string) (string, bool, error) {
	v, ok := obj[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", true, KindError(path, v, KindString)
	}
	return s, true, nil
}

// Bool returns obj[key] as a boolean
func Bool(obj map[string]any, key, path string) (bool, bool, error) {
	v, ok := obj[key]
	if !ok {
		return false, false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, true, KindError(path, v, KindBoolean)
	}
	return b, true, nil
}

// Array returns obj[key] as an array
func Array(obj map[string]any, key, path string) ([]any, bool, error) {
	v, ok := obj[key]
	if !ok {
		return nil, false, nil
	}
	a, isArr := v.([]any)
	if !isArr {
		return nil, true, KindError(path, v, KindArray)
	}
	return a, true, nil
}

// Int returns obj[key] as an integer
func Int(obj map[string]any, key, path string) (int64, bool, error) {
	v, ok := obj[key]
	if !ok {
		return 0, false, nil
	}
	n, err := AsInt(v, path)
	return n, true, err
}

// AsInt converts a number node to an int64, rejecting fractions
func AsInt(v any, path string) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, Errorf(path, "expected an integer, got %s", n.String())
		}
		return i, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, Errorf(path, "expected an integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, KindError(path, v, KindNumber)
	}
}

// Path joins a parent path and a member key
func Path(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// Index formats the path of an array element
func Index(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// WriteOptions controls how wire documents are written
type WriteOptions struct {
	// UseNamespacePrefixes writes prefix:local names plus a namespaces table
	UseNamespacePrefixes bool
}
