// Package testutil provides deterministic content generators for tests
// across the module.
package testutil

// Pattern returns n bytes of deterministic, statistically random content
// derived from seed. Distinct seeds give distinct streams, and the output
// does not compress; both properties are relied on by transfer and codec
// tests.
func Pattern(n int, seed uint64) []byte {
	b := make([]byte, n)
	x := seed
	for i := 0; i < n; i += 8 {
		x += 0x9E3779B97F4A7C15
		z := x
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z ^= z >> 31
		for j := 0; j < 8 && i+j < n; j++ {
			b[i+j] = byte(z >> (8 * j))
		}
	}
	return b
}

// Inverted returns a copy of b with every bit flipped.
func Inverted(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = ^v
	}
	return out
}
