// Package domain contains pure, dependency-free domain models and types
// for the ranking pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Field represents a type-safe key for reading and writing a top-level
// value of a Document. The type parameter T is the Go type the field is
// normalized to when read.
type Field[T any] struct{ name string }

// NewField creates a new Field with the specified name and type.
func NewField[T any](name string) Field[T] {
	return Field[T]{name: name}
}

// Name returns the stored field name.
func (f Field[T]) Name() string { return f.name }

// deepCopyValue creates a deep copy of a value so that snapshots handed to
// trigger handlers cannot be mutated through shared slices or maps.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}

	// time.Time is immutable and can be returned directly.
	if val, ok := value.(time.Time); ok {
		return val
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return value
		}
		newSlice := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			copied := deepCopyValue(v.Index(i).Interface())
			if copied == nil {
				continue
			}
			newSlice.Index(i).Set(reflect.ValueOf(copied))
		}
		return newSlice.Interface()

	case reflect.Map:
		if v.IsNil() {
			return value
		}
		newMap := reflect.MakeMapWithSize(v.Type(), v.Len())
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			copied := deepCopyValue(elem.Interface())
			if copied == nil {
				newMap.SetMapIndex(key, reflect.Zero(v.Type().Elem()))
				continue
			}
			newMap.SetMapIndex(key, reflect.ValueOf(copied))
		}
		return newMap.Interface()

	case reflect.Ptr:
		if v.IsNil() {
			return v.Interface()
		}
		newPtr := reflect.New(v.Elem().Type())
		newPtr.Elem().Set(reflect.ValueOf(deepCopyValue(v.Elem().Interface())))
		return newPtr.Interface()

	default:
		// Primitive types and structs of primitives are copied by value.
		return value
	}
}

// Document is an immutable snapshot of one stored record: its key inside a
// collection plus a field-typed payload. It uses copy-on-write semantics so
// the same snapshot can be passed to several handlers concurrently.
type Document struct {
	// id is the document key within its collection.
	id string
	// fields holds the payload. It is unexported to keep snapshots immutable.
	fields map[string]any
	// updatedAt is the server-assigned write time, zero when unknown.
	updatedAt time.Time
}

// NewDocument creates a Document with a deep copy of fields.
func NewDocument(id string, fields map[string]any) Document {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = deepCopyValue(v)
	}
	return Document{id: id, fields: copied}
}

// ID returns the document key.
func (d Document) ID() string { return d.id }

// UpdatedAt returns the server-assigned write time.
func (d Document) UpdatedAt() time.Time { return d.updatedAt }

// WithUpdatedAt returns a copy of the document stamped with t.
func (d Document) WithUpdatedAt(t time.Time) Document {
	d.updatedAt = t
	return d
}

// Get reads a top-level field and normalizes it to T. It returns false when
// the field is absent or cannot be represented as T.
//
// Example:
//
//	owner, ok := Get(doc, FieldUserID)
//	if !ok {
//	    // handle missing owner
//	}
func Get[T any](d Document, field Field[T]) (T, bool) {
	var zero T
	value, exists := d.fields[field.name]
	if !exists {
		return zero, false
	}
	return convert[T](deepCopyValue(value))
}

// Raw returns a deep copy of the raw value stored under name.
func (d Document) Raw(name string) (any, bool) {
	value, exists := d.fields[name]
	if !exists {
		return nil, false
	}
	return deepCopyValue(value), true
}

// Has reports whether the document carries a field called name.
func (d Document) Has(name string) bool {
	_, exists := d.fields[name]
	return exists
}

// With creates a new Document with the field set to value, leaving the
// receiver unchanged.
func With[T any](d Document, field Field[T], value T) Document {
	newFields := maps.Clone(d.fields)
	if newFields == nil {
		newFields = make(map[string]any)
	}
	newFields[field.name] = deepCopyValue(value)
	d.fields = newFields
	return d
}

// WithRaw is the untyped form of With.
func (d Document) WithRaw(name string, value any) Document {
	newFields := maps.Clone(d.fields)
	if newFields == nil {
		newFields = make(map[string]any)
	}
	newFields[name] = deepCopyValue(value)
	d.fields = newFields
	return d
}

// Fields returns a deep copy of the whole payload.
func (d Document) Fields() map[string]any {
	copied := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		copied[k] = deepCopyValue(v)
	}
	return copied
}

// Keys returns the field names in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String returns a string representation of the Document for debugging purposes.
func (d Document) String() string {
	return fmt.Sprintf("Document(%s)%v", d.id, d.fields)
}

// convert normalizes the loosely typed values produced by store adapters
// (JSON numbers, BSON integers, RFC 3339 strings) into T.
func convert[T any](value any) (T, bool) {
	var zero T
	if v, ok := value.(T); ok {
		return v, true
	}

	var out any
	var ok bool
	switch any(zero).(type) {
	case string:
		out, ok = value.(string)
	case int:
		var n int64
		n, ok = AsInt(value)
		out = int(n)
	case int64:
		out, ok = AsInt(value)
	case bool:
		out, ok = value.(bool)
	case time.Time:
		out, ok = AsTime(value)
	case []any:
		out, ok = AsSlice(value)
	case []string:
		out, ok = AsStrings(value)
	case map[string]any:
		out, ok = AsRecord(value)
	default:
		return zero, false
	}
	if !ok {
		return zero, false
	}
	return out.(T), true
}

// AsInt normalizes any integral numeric value into an int64.
func AsInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case float32:
		return AsInt(float64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsTime normalizes a timestamp stored either natively or as an RFC 3339 string.
func AsTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// AsSlice normalizes an ordered sequence into []any. Maps, strings and
// scalars are not sequences.
func AsSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// []byte is a blob, not a sequence of entries.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// AsStrings normalizes a sequence of strings. Any non-string element fails
// the conversion.
func AsStrings(value any) ([]string, bool) {
	if v, ok := value.([]string); ok {
		return v, true
	}
	items, ok := AsSlice(value)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// AsRecord normalizes a nested record into map[string]any.
func AsRecord(value any) (map[string]any, bool) {
	if v, ok := value.(map[string]any); ok {
		return v, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
