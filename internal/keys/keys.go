// Package keys derives cache keys from a query name and its parameters.
//
// Primitive parameters are appended as text: "user:42". Everything else is
// encoded with RFC 8949 Core Deterministic CBOR (map keys sorted, shortest
// integer forms) and digested, so structurally equal parameters map to the
// same key regardless of map insertion order.
//
// CBOR only sees exported fields. Values that carry state CBOR would drop
// (unexported or "-" tagged fields) or cannot represent (channels, funcs,
// complex numbers) are digested from a reflect walk of the whole value
// instead, see canonical.go.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strconv"

	"github.com/unkn0wn-root/querycache/codec"
)

// digestLen is the number of digest bytes kept in composite keys.
const digestLen = 16

var cborCanonical = codec.MustCBOR[any](true)

// Encode returns the cache key for (name, params). Nil params map to name.
func Encode(name string, params any) string {
	if isNil(params) {
		return name
	}
	switch p := params.(type) {
	case string:
		return name + ":" + p
	case bool:
		return name + ":" + strconv.FormatBool(p)
	case int:
		return name + ":" + strconv.Itoa(p)
	case int8, int16, int32, int64:
		return name + ":" + strconv.FormatInt(reflect.ValueOf(p).Int(), 10)
	case uint, uint8, uint16, uint32, uint64, uintptr:
		return name + ":" + strconv.FormatUint(reflect.ValueOf(p).Uint(), 10)
	case float32:
		return name + ":" + strconv.FormatFloat(float64(p), 'g', -1, 32)
	case float64:
		return name + ":" + strconv.FormatFloat(p, 'g', -1, 64)
	}
	return name + ":" + Digest(params)
}

// Digest returns a short hex digest of the canonical encoding of v.
// Digest never fails.
func Digest(v any) string {
	var b []byte
	if cborSafe(reflect.ValueOf(v), 0) {
		if enc, err := cborCanonical.Encode(v); err == nil {
			b = append([]byte{'c'}, enc...)
		}
	}
	if b == nil {
		b = append([]byte{'r'}, walk(v)...)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:digestLen])
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
