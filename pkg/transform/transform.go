// Package transform turns a value into the string a store holds and back.
// The write path composes in a fixed order: serialize (custom or JSON),
// then compress when the payload is large enough to benefit, then
// obfuscate. The read path reverses the composition exactly.
//
// Obfuscation is NOT encryption. It only keeps casual eyes off values in a
// shared backend; anyone with the source can reverse it. Do not rely on it
// for secrets.
package transform

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DefaultCompressThreshold is the serialized size, in bytes, below which
// compression is not attempted.
const DefaultCompressThreshold = 1024

// Pipeline configures the encode/decode composition. The zero value is a
// plain JSON codec with no compression or obfuscation.
type Pipeline struct {
	// Serialize overrides the default JSON encoding.
	Serialize func(v any) (string, error)
	// Deserialize overrides the default JSON decoding. It must report
	// failure via ok=false rather than panicking.
	Deserialize func(s string) (v any, ok bool)

	Compress          bool
	CompressThreshold int // 0 means DefaultCompressThreshold
	Obfuscate         bool
}

// Encode produces the storable string for v.
func (p Pipeline) Encode(v any) (string, error) {
	var s string
	if p.Serialize != nil {
		out, err := p.Serialize(v)
		if err != nil {
			return "", fmt.Errorf("serialize failed: %w", err)
		}
		s = out
	} else {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("serialize failed: %w", err)
		}
		s = string(raw)
	}

	if p.Compress {
		threshold := p.CompressThreshold
		if threshold == 0 {
			threshold = DefaultCompressThreshold
		}
		if len(s) > threshold {
			s = compress(s)
		}
	}

	if p.Obfuscate {
		s = obfuscate(s)
	}
	return s, nil
}

// Decode reverses Encode. It never panics and never returns partial data:
// any failure yields (nil, false), leaving "absent vs corrupt" to the
// caller's validation step.
func (p Pipeline) Decode(s string) (any, bool) {
	if p.Obfuscate {
		out, ok := deobfuscate(s)
		if !ok {
			return nil, false
		}
		s = out
	}

	// Decompression keys off the marker byte, so it is safe to apply even
	// when the value was stored raw.
	s = decompress(s)

	if p.Deserialize != nil {
		return p.Deserialize(s)
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

const (
	compressedMarker = '\x01'
	runMarker        = '\x00'
	minRunLength     = 4
	maxRunLength     = 255
)

// compress applies a run-length scheme to runs of >=4 identical bytes,
// encoding each as runMarker + count byte + the byte. The result is kept
// only when strictly smaller than the input (including the one-byte
// compressedMarker prefix); otherwise the input is returned untouched.
func compress(s string) string {
	in := []byte(s)
	out := make([]byte, 0, len(in))

	for i := 0; i < len(in); {
		b := in[i]
		run := 1
		for i+run < len(in) && in[i+run] == b && run < maxRunLength {
			run++
		}
		if run >= minRunLength {
			out = append(out, runMarker, byte(run), b)
		} else {
			for j := 0; j < run; j++ {
				out = append(out, b)
			}
		}
		i += run
	}

	if len(out)+1 < len(in) {
		return string(compressedMarker) + string(out)
	}
	return s
}

// decompress reverses compress. Input without the marker prefix is
// returned as-is (it was stored raw).
func decompress(s string) string {
	if len(s) == 0 || s[0] != compressedMarker {
		return s
	}

	in := []byte(s[1:])
	out := make([]byte, 0, len(in)*2)
	for i := 0; i < len(in); {
		if in[i] == runMarker && i+2 < len(in) {
			count := int(in[i+1])
			for j := 0; j < count; j++ {
				out = append(out, in[i+2])
			}
			i += 3
			continue
		}
		out = append(out, in[i])
		i++
	}
	return string(out)
}

// obfuscate reverses the bytes and base64-encodes them. See the package
// comment: this is deterrence, not protection.
func obfuscate(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return base64.StdEncoding.EncodeToString(b)
}

func deobfuscate(s string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b), true
}
