package packstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmaboy/packstream/internal/testutil"
)

func TestAccumulatorDeterminism(t *testing.T) {
	t.Parallel()

	data := testutil.Pattern(1000, 9)

	feed := func(chunk int) string {
		acc := NewAccumulator()
		for i := 0; i < len(data); i += chunk {
			end := min(i+chunk, len(data))
			require.NoError(t, acc.Update(data[i:end]))
		}
		return acc.Finalize().String()
	}

	whole := feed(len(data))
	assert.Equal(t, whole, feed(7), "chunking must not change the digest")
	assert.Equal(t, whole, feed(256))
}

func TestAccumulatorFinalizeOnce(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	require.NoError(t, acc.Update([]byte("abc")))

	d := acc.Finalize()
	assert.Equal(t, d, acc.Finalize(), "repeated finalize returns the same digest")

	err := acc.Update([]byte("more"))
	assert.ErrorIs(t, err, ErrDigestFinalized)
	assert.Equal(t, d, acc.Finalize(), "failed update must not disturb the digest")
}

func TestAccumulatorEmpty(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	id, err := IDFromDigest(acc.Finalize())
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb924", id.String(),
		"zero bytes still finalize to the well-known empty digest")
}
