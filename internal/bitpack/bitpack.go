// Package bitpack provides low-level bit manipulation primitives used to
// steal bits out of an otherwise opaque 64-bit word.
package bitpack

// Field describes a contiguous run of bits inside a 64-bit word: width bits
// starting at offset (counted from bit 0, the least significant bit).
type Field struct {
	offset uint
	width  uint
	mask   uint64
}

// NewField builds a Field for the given offset and width. offset+width must
// not exceed 64.
func NewField(offset, width uint) Field {
	if offset+width > 64 {
		panic("bitpack: field exceeds 64 bits")
	}
	return Field{
		offset: offset,
		width:  width,
		mask:   ((uint64(1) << width) - 1) << offset,
	}
}

// CollisionMark is the single-bit field at offset 56 that the mapper steals
// from an encoded value to flag it as colliding with another eId in the
// same group. Encoders must never write this bit.
var CollisionMark = NewField(56, 1)

// Get extracts the field's value from word, right-justified.
func (f Field) Get(word uint64) uint64 {
	return (word & f.mask) >> f.offset
}

// Set returns word with the field overwritten by value (value is masked to
// the field's width first; other bits of word are preserved).
func (f Field) Set(word, value uint64) uint64 {
	valueMask := (uint64(1) << f.width) - 1
	return (word &^ f.mask) | ((value & valueMask) << f.offset)
}

// Clear returns word with the field zeroed out.
func (f Field) Clear(word uint64) uint64 {
	return word &^ f.mask
}
