package otp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	for _, digits := range []int{4, 6, 8} {
		gen, err := NewGenerator(digits)
		require.NoError(t, err)

		seen := make(map[string]struct{})
		for i := 0; i < 200; i++ {
			code, err := gen.Generate()
			require.NoError(t, err)
			require.Regexp(t, "^[0-9]+$", code)
			require.Len(t, code, digits)
			seen[code] = struct{}{}
		}
		// коды не повторяются подряд
		require.Greater(t, len(seen), 1)
	}
}

func TestNewGeneratorTooShort(t *testing.T) {
	_, err := NewGenerator(3)
	require.ErrorIs(t, err, ErrTooShort)
}
