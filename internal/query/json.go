// ABOUTME: JSON column marshalling between structured values and stored text
// ABOUTME: Encoding happens before writes; decoding happens as rows are streamed

package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/2389/plugshell/internal/store"
)

var timeType = reflect.TypeOf(time.Time{})

// EncodeColumns serializes structured values (maps, slices, arrays, structs)
// held in the given columns of row to compact JSON text, in place. Scalars,
// strings and []byte are left untouched.
func EncodeColumns(row store.Row, jsonColumns []string) error {
	for _, col := range jsonColumns {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if raw, ok := v.(json.RawMessage); ok {
			row[col] = string(raw)
			continue
		}
		if !isStructured(v) {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding column %s: %w", col, err)
		}
		row[col] = string(b)
	}
	return nil
}

func isStructured(v any) bool {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Array:
		return true
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Struct:
		return t != timeType
	}
	return false
}

// DecodeColumns parses JSON text held in the given columns of row back into
// map[string]any or []any, in place. Text that is not a JSON object or array
// is left as is.
func DecodeColumns(row store.Row, jsonColumns []string) {
	for _, col := range jsonColumns {
		var text []byte
		switch v := row[col].(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		default:
			continue
		}
		var decoded any
		if err := json.Unmarshal(text, &decoded); err != nil {
			continue
		}
		switch decoded.(type) {
		case map[string]any, []any:
			row[col] = decoded
		}
	}
}
