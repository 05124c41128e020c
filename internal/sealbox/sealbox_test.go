package sealbox

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
}

func testKey() []byte { return bytes.Repeat([]byte{7}, KeySize) }

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	env, err := box.Seal(record{Name: "Ada", Grade: "A"})
	require.NoError(t, err)
	require.Equal(t, AlgorithmAESGCM, env.Algorithm)
	require.Len(t, env.IV, 12)

	stored, err := Marshal(env)
	require.NoError(t, err)
	loaded, err := Unmarshal(stored)
	require.NoError(t, err)

	var got record
	require.NoError(t, box.Open(loaded, &got))
	require.Equal(t, record{Name: "Ada", Grade: "A"}, got)
}

func TestSealWithIVIsDeterministic(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)
	iv := make([]byte, 12)

	a, err := box.SealWithIV([]byte("payload"), iv)
	require.NoError(t, err)
	b, err := box.SealWithIV([]byte("payload"), iv)
	require.NoError(t, err)
	require.Equal(t, a.Ciphertext, b.Ciphertext)

	_, err = box.SealWithIV([]byte("payload"), []byte{1})
	require.Error(t, err)
}

func TestFreshIVPerSeal(t *testing.T) {
	box, _ := New(testKey())
	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	require.NotEqual(t, a.IV, b.IV)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	box, _ := New(testKey())
	other, _ := New(bytes.Repeat([]byte{9}, KeySize))
	env, err := box.Seal(record{Name: "x"})
	require.NoError(t, err)

	var got record
	err = other.Open(env, &got)
	require.True(t, errors.Is(err, ErrUndecryptable), "got %v", err)
}

func TestTamperedCiphertextFails(t *testing.T) {
	box, _ := New(testKey())
	env, _ := box.Seal(record{Name: "x"})
	env.Ciphertext[0] ^= 0xff
	_, err := box.Decrypt(env)
	require.ErrorIs(t, err, ErrUndecryptable)
}

func TestUnsupportedAlgorithm(t *testing.T) {
	box, _ := New(testKey())
	env, _ := box.Seal("x")
	env.Algorithm = "aes-256-cbc"
	_, err := box.Decrypt(env)
	require.ErrorIs(t, err, ErrAlgorithm)
}

func TestKeyHandling(t *testing.T) {
	_, err := New([]byte("short"))
	require.ErrorIs(t, err, ErrKeySize)

	key, err := KeyFromHex("0x" + hex.EncodeToString(testKey()))
	require.NoError(t, err)
	require.Equal(t, testKey(), key)

	_, err = KeyFromHex("abcd")
	require.ErrorIs(t, err, ErrKeySize)

	k1 := DeriveKey([]byte("pass"), []byte("salt-0001"))
	k2 := DeriveKey([]byte("pass"), []byte("salt-0001"))
	k3 := DeriveKey([]byte("pass"), []byte("salt-0002"))
	require.Len(t, k1, KeySize)
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
}
