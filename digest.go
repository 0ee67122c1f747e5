package packstream

import "github.com/opencontainers/go-digest"

// Accumulator is a running content digest bound to a single item for a
// single build. The bytes fed to Update must be the transmitted bytes, so
// patching always happens strictly before hashing in the chunk pipeline.
type Accumulator struct {
	digester digest.Digester
	done     bool
	result   digest.Digest
}

// NewAccumulator returns an accumulator using the canonical algorithm.
func NewAccumulator() *Accumulator {
	return &Accumulator{digester: digest.Canonical.Digester()}
}

// Update feeds a chunk. It fails with ErrDigestFinalized once Finalize has
// been called.
func (a *Accumulator) Update(b []byte) error {
	if a.done {
		return ErrDigestFinalized
	}
	a.digester.Hash().Write(b)
	return nil
}

// Finalize stops accumulation and returns the digest. Further Finalize
// calls return the same digest.
func (a *Accumulator) Finalize() digest.Digest {
	if !a.done {
		a.done = true
		a.result = a.digester.Digest()
	}
	return a.result
}
