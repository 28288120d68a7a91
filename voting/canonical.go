package voting

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
)

// canonical JSON: sorted keys, no extra whitespace, no HTML escaping, and a
// trailing newline. Numbers are kept as they were marshalled.
type canonicalJSON struct{}

// Encode the object in its canonical representation to the output stream given
func (c canonicalJSON) Encode(out io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var t interface{}
	if err := dec.Decode(&t); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "")
	enc.SetEscapeHTML(false)
	// t is map[string]interface instead of struct, so the keys will be sorted.
	return enc.Encode(t)
}

// Hash the object given in its canonical JSON representation
// the hash is SHA256
func (c canonicalJSON) Hash(b []byte, v interface{}) ([]byte, error) {
	h := sha256.New()
	if err := c.Encode(h, v); err != nil {
		return nil, err
	}
	return h.Sum(b), nil
}
