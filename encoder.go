package encodeidmap

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/ruizhang0519/encodeidmap/internal/bitpack"
)

// Encoder is the pluggable capability the mapper never implements itself:
// a deterministic function from an opaque input identifier to a non-zero
// 64-bit word. Bit 56 of the result is reserved for the collision mark —
// an Encoder must never set it — and 0 is reserved as GAP.
type Encoder interface {
	Encode(inputID any) (uint64, error)
}

// payloadBits is the width of the low, encoder-owned payload: everything
// below the collision mark at bit 56.
const payloadBits = 56

var payloadMask = uint64(1)<<payloadBits - 1

// lengthField occupies the 7 bits above the collision mark. Different
// encoders are free to fill it with whatever length or confidence metadata
// suits them; the radix index treats it purely as a high-order
// discriminator and never interprets its meaning.
var lengthField = bitpack.NewField(57, 7)

// ASCIIEncoder packs up to the first 7 bytes of a string or []byte input id
// into the low 56 bits (one byte per 8-bit lane, little-endian) and stores
// the identifier's length (capped at 127) in the top 7 bits. Identifiers
// longer than 7 bytes are only distinguished by their first 7 bytes and
// their length; two such identifiers that share the same 7-byte prefix and
// the same length produce the same eId,
// which is exactly the "accidental collision" scenario the mapper's
// collision side-store exists to resolve.
type ASCIIEncoder struct{}

func (ASCIIEncoder) Encode(inputID any) (uint64, error) {
	b, err := asBytes(inputID)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil // GAP; caught by Mapper.Put
	}

	n := len(b)
	if n > 7 {
		n = 7
	}
	var payload uint64
	for i := 0; i < n; i++ {
		payload |= uint64(b[i]) << (8 * i)
	}

	length := uint64(len(b))
	if length > 127 {
		length = 127
	}
	return lengthField.Set(payload, length), nil
}

// HashEncoder encodes arbitrary-length byte or string input ids by hashing
// them with xxh3-128, a good fit for keys too long or too irregular to
// encode directly.
type HashEncoder struct{}

func (HashEncoder) Encode(inputID any) (uint64, error) {
	b, err := asBytes(inputID)
	if err != nil {
		return 0, err
	}
	h := xxh3.Hash128(b)
	payload := (h.Hi ^ h.Lo) & payloadMask
	tag := (h.Hi >> 56) & 0x7f
	if tag == 0 {
		// Keep the metadata field itself non-zero so an all-zero hash
		// (astronomically unlikely, but not impossible) doesn't collapse
		// the whole eId to GAP.
		tag = 1
	}
	return lengthField.Set(payload, tag), nil
}

// LongEncoder encodes numeric input ids (any signed or unsigned integer
// type up to 64 bits). Values that already fit in the low 56 bits are
// stored directly, with the metadata field recording how many bytes are
// significant; larger values are hashed with murmur3 (Sum64 over their 8
// little-endian bytes) and the result is truncated to the payload, instead
// of the value itself being silently truncated.
type LongEncoder struct{}

func (LongEncoder) Encode(inputID any) (uint64, error) {
	v, err := asUint64(inputID)
	if err != nil {
		return 0, err
	}
	if v&^payloadMask == 0 {
		return lengthField.Set(v, significantBytes(v)), nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	folded := murmur3.Sum64(buf[:])
	payload := folded & payloadMask
	// A metadata value of 0x7f (all confidence bits set) flags "folded",
	// distinguishing a hashed 64-bit id from one small enough to be stored
	// verbatim.
	return lengthField.Set(payload, 0x7f), nil
}

func significantBytes(v uint64) uint64 {
	n := uint64(1)
	for v >= 1<<8 {
		v >>= 8
		n++
	}
	return n
}

func asBytes(inputID any) ([]byte, error) {
	switch v := inputID.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("encodeidmap: unsupported input id type %T", inputID)
	}
}

func asUint64(inputID any) (uint64, error) {
	switch v := inputID.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case int32:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("encodeidmap: unsupported input id type %T", inputID)
	}
}
