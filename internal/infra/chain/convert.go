package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// HexToDecimal returns a copy of m where every listed key holding a hex
// string is replaced by its decimal form. Other values are left as they are.
func HexToDecimal(m map[string]any, keys ...string) (map[string]any, error) {
	out := clone(m)
	for _, k := range keys {
		s, ok := out[k].(string)
		if !ok || !isHex(s) {
			continue
		}
		n, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
		if !ok || n.BitLen() > 256 {
			return nil, fmt.Errorf("%w: %s is not a 256-bit quantity: %s", ErrMalformedResponse, k, s)
		}
		out[k] = n.String()
	}
	return out, nil
}

// NumbersToStrings returns a copy of m where every listed key holding a JSON
// number is replaced by its string form.
func NumbersToStrings(m map[string]any, keys ...string) map[string]any {
	out := clone(m)
	for _, k := range keys {
		switch v := out[k].(type) {
		case json.Number:
			out[k] = v.String()
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(v)
		case int64:
			out[k] = strconv.FormatInt(v, 10)
		case uint64:
			out[k] = strconv.FormatUint(v, 10)
		}
	}
	return out
}

// Present reports whether m has a non-null value under key.
func Present(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// Object returns m[key] as an object.
func Object(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedResponse, key)
	}
	return v, nil
}

// Objects returns m[key] as a list of objects.
func Objects(m map[string]any, key string) ([]map[string]any, error) {
	arr, ok := m[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformedResponse, key)
	}
	out := make([]map[string]any, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrMalformedResponse, key, i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// Uint64 reads a non-negative integer that may be a JSON number, a decimal
// string or a hex string.
func Uint64(m map[string]any, key string) (uint64, error) {
	switch v := m[key].(type) {
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("%w: %s is not an unsigned integer", ErrMalformedResponse, key)
		}
		return uint64(v), nil
	case string:
		if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
			return strconv.ParseUint(v[2:], 16, 64)
		}
		return strconv.ParseUint(v, 10, 64)
	}
	return 0, fmt.Errorf("%w: %s is missing", ErrMalformedResponse, key)
}

func isHex(s string) bool {
	s = trimHexPrefix(s)
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
