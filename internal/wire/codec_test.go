package wire

import (
	"bytes"
	"errors"
	"testing"
)

type pair struct {
	A int    `cbor:"1,keyasint"`
	B string `cbor:"2,keyasint"`
}

func TestRoundTrip(t *testing.T) {
	want := pair{A: 7, B: "hello"}
	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got pair
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestUnmarshalRejectsExtraneousData(t *testing.T) {
	data, err := Marshal(pair{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = append(data, 0xFF)
	var got pair
	err = Unmarshal(data, &got)
	if !errors.Is(err, ErrExtraneousData) {
		t.Fatalf("expected ErrExtraneousData, got %v", err)
	}
}

func TestUnmarshalNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0xFF},
		bytes.Repeat([]byte{0x00}, 1024),
		bytes.Repeat([]byte{0xFF}, 1024),
		{0x9B, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, // huge bogus array length
	}
	for i, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("input %d: Unmarshal panicked: %v", i, r)
				}
			}()
			var v any
			_ = Unmarshal(in, &v)
		}()
	}
}

func TestCanonicalOrderingShorterKeyFirst(t *testing.T) {
	m := map[string]int{
		"bb": 2,
		"a":  1,
		"ccc": 3,
	}
	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// Decode the raw map and confirm key order in the byte stream: "a" (1
	// byte) must appear before "bb" (2 bytes) before "ccc" (3 bytes).
	idxA := bytes.Index(data, []byte("a"))
	idxBB := bytes.Index(data, []byte("bb"))
	idxCCC := bytes.Index(data, []byte("ccc"))
	if !(idxA < idxBB && idxBB < idxCCC) {
		t.Fatalf("expected shorter-key-first canonical ordering in %x", data)
	}
}
