package query

import (
	"fmt"
	"reflect"

	"github.com/dan-strohschein/mapigo/resultset"
)

// Maps reshapes every row of result into a map keyed by column name. The
// map values are the raw resultset.Value, letting callers decide how to
// further convert them (there is no ecosystem row-scanning library in the
// retrieval pack for this wire format, so this is a small stdlib
// reflect-based helper rather than an adopted dependency).
func Maps(result *resultset.Result) []map[string]resultset.Value {
	out := make([]map[string]resultset.Value, len(result.Rows))
	for i, row := range result.Rows {
		m := make(map[string]resultset.Value, len(result.Columns))
		for j, col := range result.Columns {
			if j < len(row) {
				m[col] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

// Map reshapes the first row of result, or nil if result has no rows.
func Map(result *resultset.Result) map[string]resultset.Value {
	maps := Maps(result)
	if len(maps) == 0 {
		return nil
	}
	return maps[0]
}

// Scalar returns the first column of the first row, or the zero Value if
// result is empty.
func Scalar(result *resultset.Result) resultset.Value {
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return resultset.Value{}
	}
	return result.Rows[0][0]
}

// tagName is the struct tag Scan looks for; a field without one is
// matched by its lowercased Go name.
const tagName = "mapi"

// Scan populates dest (a pointer to a struct slice, e.g. *[]User) from
// result by matching column names to struct fields via the "mapi" tag or
// lowercased field name. Only the field kinds a resultset.Value can
// naturally produce are supported: string, the sized int/float kinds,
// bool, and []byte.
func Scan(result *resultset.Result, dest interface{}) error {
	sliceVal := reflect.ValueOf(dest)
	if sliceVal.Kind() != reflect.Ptr || sliceVal.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("query: Scan destination must be a pointer to a slice")
	}
	elemType := sliceVal.Elem().Type().Elem()
	if elemType.Kind() != reflect.Struct {
		return fmt.Errorf("query: Scan destination slice must hold structs")
	}

	fieldForColumn := make(map[string]int, elemType.NumField())
	for i := 0; i < elemType.NumField(); i++ {
		f := elemType.Field(i)
		name := f.Tag.Get(tagName)
		if name == "" {
			name = toLowerASCII(f.Name)
		}
		fieldForColumn[name] = i
	}

	out := reflect.MakeSlice(sliceVal.Elem().Type(), 0, len(result.Rows))
	for _, row := range result.Rows {
		elem := reflect.New(elemType).Elem()
		for j, col := range result.Columns {
			idx, ok := fieldForColumn[col]
			if !ok || j >= len(row) {
				continue
			}
			if err := assignValue(elem.Field(idx), row[j]); err != nil {
				return fmt.Errorf("query: column %q: %w", col, err)
			}
		}
		out = reflect.Append(out, elem)
	}
	sliceVal.Elem().Set(out)
	return nil
}

func assignValue(field reflect.Value, v resultset.Value) error {
	if v.IsNull() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(v.Str)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int != nil {
			field.SetInt(v.Int.Int64())
		}
	case reflect.Float32, reflect.Float64:
		field.SetFloat(v.Float)
	case reflect.Bool:
		field.SetBool(v.Bool)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			field.SetBytes(v.Blob)
		}
	default:
		return fmt.Errorf("unsupported destination kind %s", field.Kind())
	}
	return nil
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
