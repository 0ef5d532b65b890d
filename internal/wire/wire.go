// Package wire frames query values written to a byte provider.
//
//	magic(4) | ver(1) | keyLen(u16 be) | key | written(u64 be, unix nanos) | vlen(u32 be) | payload(vlen)
//
// The key is stored alongside the payload so a record read under the wrong
// provider key (shared keyspace, hash collision) is rejected as corrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

const hdrFixed = 4 + 1 + 2 + 8 + 4

var (
	ErrCorrupt   = errors.New("querycache: corrupt record")
	ErrKeyLength = errors.New("querycache: record key length must be 1..65535")
	magic4       = [...]byte{'Q', 'R', 'Y', 'C'}
)

// Record is one stored query value.
type Record struct {
	Key       string
	WrittenAt time.Time
	Payload   []byte
}

func Encode(r Record) ([]byte, error) {
	if l := len(r.Key); l == 0 || l > 0xFFFF {
		return nil, ErrKeyLength
	}

	var buf bytes.Buffer
	buf.Grow(hdrFixed + len(r.Key) + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u2 [2]byte
	var u4 [4]byte
	var u8 [8]byte

	binary.BigEndian.PutUint16(u2[:], uint16(len(r.Key)))
	buf.Write(u2[:])
	buf.WriteString(r.Key)

	var nanos uint64
	if !r.WrittenAt.IsZero() {
		nanos = uint64(r.WrittenAt.UnixNano())
	}
	binary.BigEndian.PutUint64(u8[:], nanos)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])
	buf.Write(r.Payload)
	return buf.Bytes(), nil
}

// Decode parses b. The returned payload aliases b.
func Decode(b []byte) (Record, error) {
	if len(b) < hdrFixed || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Record{}, ErrCorrupt
	}
	off := 5

	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen == 0 || klen > len(b)-off {
		return Record{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+8+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	nanos := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: trailing bytes are corrupt
		return Record{}, ErrCorrupt
	}

	r := Record{Key: key, Payload: b[off : off+vlen]}
	if nanos != 0 {
		r.WrittenAt = time.Unix(0, int64(nanos))
	}
	return r, nil
}
