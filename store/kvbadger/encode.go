package kvbadger

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/relquery/relquery"
)

// encodeValue renders v into a byte string whose lexicographic order
// matches relquery.Cmp's total order for the scalar ranks that index
// ordering actually depends on (nil, bool, number, time, string).
// Sequences and records fall back to a JSON encoding under which byte
// order no longer tracks Cmp precisely; that is acceptable here because
// every byte-range scan this package produces is a safe over-approximation
// re-checked by store.NativeRange.Contains against the decoded record
// before a row is ever handed upstream (see cursor.Next) — the same
// defense-in-depth the rest of this engine already relies on (exec
// re-applies every hoisted predicate after a NamedSource scan regardless
// of which index served it).
func encodeValue(v relquery.Value) []byte {
	switch x := v.(type) {
	case nil:
		return []byte{0x00}
	case bool:
		if x {
			return []byte{0x01, 0x01}
		}
		return []byte{0x01, 0x00}
	case int:
		return append([]byte{0x02}, encodeFloat(float64(x))...)
	case int32:
		return append([]byte{0x02}, encodeFloat(float64(x))...)
	case int64:
		return append([]byte{0x02}, encodeFloat(float64(x))...)
	case float32:
		return append([]byte{0x02}, encodeFloat(float64(x))...)
	case float64:
		return append([]byte{0x02}, encodeFloat(x)...)
	case time.Time:
		return append([]byte{0x03}, encodeFloat(float64(x.UnixNano()))...)
	case string:
		b := append([]byte{0x04}, []byte(x)...)
		return append(b, 0x00)
	default:
		j, _ := json.Marshal(x)
		return append([]byte{0x05}, j...)
	}
}

// encodeFloat renders f as a big-endian 8-byte sortable key: flip the sign
// bit for non-negative floats and invert every bit for negative ones, the
// standard trick that makes an IEEE-754 bit pattern's unsigned-integer
// order match its numeric order.
func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// encodeVector concatenates each component's encoding in order.
func encodeVector(vec []relquery.Value) []byte {
	var b []byte
	for _, v := range vec {
		b = append(b, encodeValue(v)...)
	}
	return b
}

// indexPrefix namespaces a source's named index within the shared Badger
// keyspace, grounded on BadgerStore's own per-index key-encoding prefix
// (badger_store.go's EncodeKey dispatches on IndexType before the datom's
// own fields).
func indexPrefix(sourceName, indexName string) []byte {
	b := []byte(sourceName)
	b = append(b, 0x00)
	b = append(b, []byte(indexName)...)
	b = append(b, 0x00)
	return b
}
