// ABOUTME: Tests for sealing and opening protected payloads
// ABOUTME: Wrong secrets, tampering and malformed input must all fail to open

package seal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	sealed, err := Seal([]byte("meet at noon"), "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "noon")

	plain, err := Open(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", string(plain))
}

func TestSeal_FreshSaltEachTime(t *testing.T) {
	a, err := Seal([]byte("x"), "k")
	require.NoError(t, err)
	b, err := Seal([]byte("x"), "k")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpen_Failures(t *testing.T) {
	sealed, err := Seal([]byte("payload"), "right")
	require.NoError(t, err)

	_, err = Open(sealed, "wrong")
	require.ErrorIs(t, err, ErrAuthentication)

	tampered := []byte(sealed)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	_, err = Open(string(tampered), "right")
	require.Error(t, err)

	_, err = Open("!!not base64!!", "right")
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Open("c2hvcnQ", "right")
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Seal([]byte("x"), "")
	require.ErrorIs(t, err, ErrEmptySecret)
}
