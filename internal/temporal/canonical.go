package temporal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields is a snapshot of an entity's domain field values, keyed by field
// name.
type Fields map[string]any

// Clone returns a shallow copy. Values are immutable primitives, so a
// shallow copy is sufficient for snapshot isolation.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Enum is implemented by enumerated field values. Canonical serialization
// uses the underlying ordinal, never a display label.
type Enum interface {
	Ordinal() int
}

// TimestampLayout is the fixed ISO-8601 rendering (with zone offset) used
// in canonical serialization and stored field documents.
const TimestampLayout = "2006-01-02T15:04:05-0700"

// Canonicalize renders a field map as a deterministic byte sequence: keys
// sorted lexicographically, one fixed encoding per supported kind, and the
// most compact JSON separators. The output is a pure function of the
// values, independent of map construction or iteration order.
//
// An unsupported value type panics: it indicates a schema defect, not a
// recoverable runtime condition.
func Canonicalize(fields Fields) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, k)
		buf.WriteByte(':')
		writeValue(&buf, fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v any) {
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(v, 10))
	case float64:
		// JSON round-trips hand integers back as float64; integral
		// values must render identically to their int form.
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			buf.WriteString(strconv.FormatInt(int64(v), 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	case string:
		writeString(buf, v)
	case time.Time:
		writeString(buf, v.Format(TimestampLayout))
	case *time.Time:
		if v == nil {
			buf.WriteString("null")
		} else {
			writeString(buf, v.Format(TimestampLayout))
		}
	case uuid.UUID:
		writeString(buf, strings.ToLower(v.String()))
	case Enum:
		buf.WriteString(strconv.Itoa(v.Ordinal()))
	default:
		panic(fmt.Sprintf("temporal: cannot canonicalize %T value", v))
	}
}

// writeString emits a JSON-escaped string; json.Marshal on a plain string
// is deterministic.
func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
