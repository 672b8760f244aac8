package findings

import (
	"bytes"
	"encoding/json"
)

// IndentJSON encodes v with two-space indentation and without HTML escaping,
// so source text such as "->" and "Cast<T>" stays readable.
func IndentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
