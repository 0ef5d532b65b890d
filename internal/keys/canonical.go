package keys

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// maxDepth bounds both walks; deeper values (or pointer cycles) are cut off.
const maxDepth = 64

var (
	timeType      = reflect.TypeOf(time.Time{})
	bigIntType    = reflect.TypeOf(big.Int{})
	cborMarshaler = reflect.TypeOf((*cbor.Marshaler)(nil)).Elem()
	binMarshaler  = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
)

// ownEncoding reports whether t is serialized by its own marshaler, so its
// unexported fields are not lost.
func ownEncoding(t reflect.Type) bool {
	return t == timeType || t == bigIntType || t.Implements(cborMarshaler) || t.Implements(binMarshaler)
}

// cborSafe reports whether CBOR encodes everything that distinguishes v.
func cborSafe(v reflect.Value, depth int) bool {
	if depth > maxDepth {
		return false
	}
	if !v.IsValid() {
		return true
	}
	if ownEncoding(v.Type()) {
		return true
	}
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Pointer, reflect.Interface:
		return v.IsNil() || cborSafe(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !cborSafe(v.Index(i), depth+1) {
				return false
			}
		}
	case reflect.Map:
		it := v.MapRange()
		for it.Next() {
			if !cborSafe(it.Key(), depth+1) || !cborSafe(it.Value(), depth+1) {
				return false
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("cbor") == "-" || f.Tag.Get("json") == "-" {
				return false
			}
			if !cborSafe(v.Field(i), depth+1) {
				return false
			}
		}
	}
	return true
}

// walk returns a canonical byte form of v that includes unexported fields.
// Map entries are sorted by their encoded keys.
func walk(v any) []byte {
	var buf bytes.Buffer
	writeValue(&buf, reflect.ValueOf(v), 0)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v reflect.Value, depth int) {
	if depth > maxDepth {
		buf.WriteByte('~')
		return
	}
	if !v.IsValid() {
		buf.WriteByte('0')
		return
	}
	t := v.Type()
	if t == timeType {
		buf.WriteByte('t')
		if v.CanInterface() {
			writeString(buf, v.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
		} else {
			// read through an unexported field: wall and ext, location ignored
			writeUint(buf, v.Field(0).Uint())
			writeUint(buf, uint64(v.Field(1).Int()))
		}
		return
	}
	if v.CanInterface() && t.Implements(binMarshaler) && !(t.Kind() == reflect.Pointer && v.IsNil()) {
		if b, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary(); err == nil {
			buf.WriteByte('m')
			writeString(buf, string(b))
			return
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			buf.WriteByte('T')
		} else {
			buf.WriteByte('F')
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteByte('i')
		writeUint(buf, uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteByte('u')
		writeUint(buf, v.Uint())
	case reflect.Float32, reflect.Float64:
		buf.WriteByte('f')
		writeUint(buf, math.Float64bits(v.Float()))
	case reflect.Complex64, reflect.Complex128:
		buf.WriteByte('x')
		writeUint(buf, math.Float64bits(real(v.Complex())))
		writeUint(buf, math.Float64bits(imag(v.Complex())))
	case reflect.String:
		buf.WriteByte('s')
		writeString(buf, v.String())
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			buf.WriteByte('0')
			return
		}
		writeValue(buf, v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		buf.WriteByte('l')
		writeUint(buf, uint64(v.Len()))
		for i := 0; i < v.Len(); i++ {
			writeValue(buf, v.Index(i), depth+1)
		}
	case reflect.Map:
		type entry struct{ k, v []byte }
		entries := make([]entry, 0, v.Len())
		it := v.MapRange()
		for it.Next() {
			var kb, vb bytes.Buffer
			writeValue(&kb, it.Key(), depth+1)
			writeValue(&vb, it.Value(), depth+1)
			entries = append(entries, entry{kb.Bytes(), vb.Bytes()})
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })
		buf.WriteByte('d')
		writeUint(buf, uint64(len(entries)))
		for _, e := range entries {
			buf.Write(e.k)
			buf.Write(e.v)
		}
	case reflect.Struct:
		buf.WriteByte('S')
		writeString(buf, t.String())
		writeUint(buf, uint64(t.NumField()))
		for i := 0; i < t.NumField(); i++ {
			writeString(buf, t.Field(i).Name)
			writeValue(buf, v.Field(i), depth+1)
		}
	default:
		// chan, func, unsafe pointer: identity is all there is
		buf.WriteByte('p')
		writeString(buf, t.String())
		writeUint(buf, uint64(v.Pointer()))
	}
}

func writeUint(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint(buf, uint64(len(s)))
	buf.WriteString(s)
}
