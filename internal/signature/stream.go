package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// ErrUnsupportedValue indica un tipo que no tiene representación canónica.
var ErrUnsupportedValue = errors.New("signature: unsupported payload value")

var (
	utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	delim   = []byte{0, 0, 0, 0}
)

// Encode serializa obj al stream canónico que se firma/verifica.
func Encode(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// orden por unidades UTF-16, no por bytes UTF-8
	sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })

	for _, k := range keys {
		if err := writeText(buf, k); err != nil {
			return err
		}
		buf.Write(delim)
		if err := writeValue(buf, obj[k]); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(delim)
	}
	return nil
}

func lessUTF16(a, b string) bool {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b))) < 0
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case Payload:
		return writeObject(buf, t)
	case map[string]any:
		return writeObject(buf, t)
	case []string:
		return writeObject(buf, indexed(t))
	case string:
		return writeText(buf, t)
	case float64:
		return writeText(buf, formatDecimal(t))
	case float32:
		return writeText(buf, formatDecimal(float64(t)))
	case int:
		return writeText(buf, strconv.Itoa(t))
	case int32:
		return writeText(buf, strconv.FormatInt(int64(t), 10))
	case int64:
		return writeText(buf, strconv.FormatInt(t, 10))
	case uint32:
		return writeText(buf, strconv.FormatUint(uint64(t), 10))
	case uint64:
		return writeText(buf, strconv.FormatUint(t, 10))
	case bool:
		return writeText(buf, strconv.FormatBool(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return writeText(buf, strconv.FormatInt(n, 10))
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnsupportedValue, t.String())
		}
		return writeText(buf, formatDecimal(f))
	case nil:
		return writeText(buf, "null")
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func writeText(buf *bytes.Buffer, s string) error {
	b, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return fmt.Errorf("signature: utf16 encode: %w", err)
	}
	buf.Write(b)
	return nil
}

// indexed convierte un slice al objeto {"0": v0, "1": v1, ...}.
func indexed(items []string) map[string]any {
	out := make(map[string]any, len(items))
	for i, it := range items {
		out[strconv.Itoa(i)] = it
	}
	return out
}

// formatDecimal replica el formato "#.########" con redondeo HALF_UP:
// sin ceros de relleno y sin el 0 entero delante del punto (0.5 -> ".5").
func formatDecimal(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	neg := v < 0
	r := math.Floor(math.Abs(v)*1e8+0.5) / 1e8
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if strings.HasPrefix(s, "0.") {
		s = s[1:]
	}
	if neg && r != 0 {
		s = "-" + s
	}
	return s
}
