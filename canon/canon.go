// Package canon implements the single mandatory canonicalization choke point
// for repomesh: a deterministic, byte-exact JSON encoding used everywhere a
// content hash or signature must bind to a value tree rather than to one
// particular serialization of it.
//
// All event hashing and manifest hashing MUST pass through Canonicalize or
// Marshal. The external-ledger memo is not hashed and is encoded with
// encoding/json directly.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Marshal produces the canonical encoding of v: object keys sorted
// lexicographically by Unicode code point, arrays in source order, no
// insignificant whitespace, numbers in JSON-native form. v is first passed
// through encoding/json so struct tags and omitempty are honored, then
// recanonicalized.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize re-encodes an arbitrary JSON document into its canonical form.
// It rejects malformed JSON and non-finite numbers.
func Canonicalize(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canon: trailing data after JSON value")
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case float64:
		return encodeNumber(buf, json.Number(fmt.Sprintf("%v", t)))
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", n, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: non-finite number %q not permitted in signed payloads", n)
	}
	buf.WriteString(n.String())
	return nil
}

// encodeString mirrors encoding/json's default escaping (used identically by
// the admission-side serializer) so that structurally equal values always
// canonicalize to identical bytes.
func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("canon: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}

// Equal reports whether two arbitrary JSON documents are structurally equal:
// same scalars, same multiset of object fields, same array order.
func Equal(a, b []byte) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
