package encodeidmap

import (
	"testing"

	"github.com/ruizhang0519/encodeidmap/internal/bitpack"
)

func TestASCIIEncoderDeterministic(t *testing.T) {
	e := ASCIIEncoder{}
	a, err := e.Encode("hello")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Encode("hello")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("Encode(\"hello\") not deterministic: %d != %d", a, b)
	}
}

func TestASCIIEncoderNeverSetsCollisionBit(t *testing.T) {
	e := ASCIIEncoder{}
	for _, s := range []string{"a", "hello world", "exactly7", "much longer than seven bytes"} {
		v, err := e.Encode(s)
		if err != nil {
			t.Fatal(err)
		}
		if bitpack.CollisionMark.Get(v) != 0 {
			t.Fatalf("Encode(%q) set the collision bit: %x", s, v)
		}
	}
}

func TestASCIIEncoderSharedPrefixCollides(t *testing.T) {
	e := ASCIIEncoder{}
	a, err := e.Encode("abcdefg-AAAA")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Encode("abcdefg-BBBB")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected same-prefix, same-length ids to collide: %d != %d", a, b)
	}
}

func TestASCIIEncoderEmptyIsGap(t *testing.T) {
	e := ASCIIEncoder{}
	v, err := e.Encode("")
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("Encode(\"\") = %d, want 0 (GAP)", v)
	}
}

func TestASCIIEncoderRejectsUnsupportedType(t *testing.T) {
	e := ASCIIEncoder{}
	if _, err := e.Encode(42); err == nil {
		t.Fatal("Encode(int) succeeded, want an error")
	}
}

func TestHashEncoderDistinguishesLongIDs(t *testing.T) {
	e := HashEncoder{}
	a, err := e.Encode("this identifier is far longer than the seven bytes ASCIIEncoder can pack directly, part one")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Encode("this identifier is far longer than the seven bytes ASCIIEncoder can pack directly, part two")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("HashEncoder produced identical eIds for distinct long identifiers")
	}
	if bitpack.CollisionMark.Get(a) != 0 || bitpack.CollisionMark.Get(b) != 0 {
		t.Fatal("HashEncoder set the reserved collision bit")
	}
}

func TestHashEncoderNeverReturnsGap(t *testing.T) {
	e := HashEncoder{}
	for i := 0; i < 1000; i++ {
		v, err := e.Encode([]byte{byte(i), byte(i >> 8)})
		if err != nil {
			t.Fatal(err)
		}
		if v == 0 {
			t.Fatalf("HashEncoder.Encode produced GAP for input %d", i)
		}
	}
}

func TestLongEncoderSmallValuesStoredVerbatim(t *testing.T) {
	e := LongEncoder{}
	v, err := e.Encode(uint64(42))
	if err != nil {
		t.Fatal(err)
	}
	if got := bitpack.CollisionMark.Clear(v) &^ (uint64(0x7f) << 57); got != 42 {
		t.Fatalf("small value not stored verbatim: got payload %d, want 42", got)
	}
}

func TestLongEncoderFoldsOverflowingValues(t *testing.T) {
	e := LongEncoder{}
	huge := ^uint64(0) // all bits set, overflows the 56-bit payload
	v, err := e.Encode(huge)
	if err != nil {
		t.Fatal(err)
	}
	if v == 0 {
		t.Fatal("LongEncoder folded a huge value to GAP")
	}
}

func TestLongEncoderRejectsUnsupportedType(t *testing.T) {
	e := LongEncoder{}
	if _, err := e.Encode("not a number"); err == nil {
		t.Fatal("Encode(string) succeeded, want an error")
	}
}
