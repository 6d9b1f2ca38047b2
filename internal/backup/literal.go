package backup

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Literal renders v as a PostgreSQL literal.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return floatLiteral(float64(x), 32)
	case float64:
		return floatLiteral(x, 64)
	case json.Number:
		return x.String()
	case string:
		return quote(x)
	case time.Time:
		return quote(x.Format(time.RFC3339Nano))
	case []byte:
		return `'\x` + hex.EncodeToString(x) + `'`
	case json.RawMessage:
		return quote(string(x))
	case fmt.Stringer:
		return quote(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL"
		}
		return Literal(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "'{}'"
		}
		elems := make([]string, rv.Len())
		for i := range elems {
			elems[i] = Literal(rv.Index(i).Interface())
		}
		return "ARRAY[" + strings.Join(elems, ", ") + "]"
	}

	data, err := json.Marshal(v)
	if err != nil {
		return quote(fmt.Sprint(v))
	}
	return quote(string(data))
}

// columnLiteral renders a scanned value using its catalog type. Drivers
// return text-like columns (json, numeric, arrays) as raw bytes; only bytea
// is binary.
func columnLiteral(v any, dataType string) string {
	if b, ok := v.([]byte); ok && dataType != "bytea" {
		return quote(string(b))
	}
	return Literal(v)
}

func floatLiteral(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'"
	case math.IsInf(f, 1):
		return "'Infinity'"
	case math.IsInf(f, -1):
		return "'-Infinity'"
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
