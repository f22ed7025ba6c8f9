package storage

import (
	"encoding/json"
	"reflect"
)

// Truthy coerces a loosely typed flag into a bool.
//
// Records written by older builds stored is_saved as a string or a number,
// so every inbound value goes through here: any non-empty string (including
// "false") and any non-zero number are true; nil, false, 0 and "" are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	case uint:
		return x != 0
	case uint64:
		return x != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Truthy(rv.Elem().Interface())
	case reflect.Int8, reflect.Int16:
		return rv.Int() != 0
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		return rv.Uint() != 0
	}
	// Objects and arrays are truthy.
	return true
}
