package keyblob

import (
	"bytes"
	"testing"
)

// FuzzDecode exercises the "decode never panics, always returns Ok or a
// typed error" property for arbitrary attacker-supplied bytes, mirroring
// the reference fuzz target over the same wire format.
func FuzzDecode(f *testing.F) {
	seed := sampleBlob()
	if data, err := seed.Encode(); err == nil {
		f.Add(data)
	}
	f.Add([]byte{})
	f.Add([]byte{0x80})
	f.Add(bytes.Repeat([]byte{0x00}, 1024))
	f.Add(bytes.Repeat([]byte{0xFF}, 1024))

	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Decode panicked on input %x: %v", data, r)
			}
		}()
		_, _ = Decode(data)
	})
}

func TestFuzzDecodeRegressionCorpus(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x80},
		{0x9B, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		bytes.Repeat([]byte{0x00}, 1024),
		bytes.Repeat([]byte{0xFF}, 1024),
	}
	for i, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("input %d: Decode panicked: %v", i, r)
				}
			}()
			_, _ = Decode(in)
		}()
	}
}
