package safe

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAEAD(t *testing.T) (aeadKey []byte) {
	t.Helper()
	key, err := newMasterKey()
	require.NoError(t, err)
	return key
}

func encrypt(t *testing.T, key, plain []byte, contentID string, zip bool) []byte {
	t.Helper()
	aead, err := newAEAD(key)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := encodeBody(&buf, bytes.NewReader(plain), aead, contentID, zip)
	require.NoError(t, err)
	require.Equal(t, int64(len(plain)), n)
	return buf.Bytes()
}

func decrypt(key, sealed []byte, contentID string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(newDecryptReader(bytes.NewReader(sealed), aead, contentID))
}

func TestBody_RoundTripAcrossChunkBoundaries(t *testing.T) {
	key := testAEAD(t)

	for _, size := range []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 5} {
		plain := make([]byte, size)
		_, err := rand.Read(plain)
		require.NoError(t, err)

		sealed := encrypt(t, key, plain, "content", false)
		got, err := decrypt(key, sealed, "content")
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(plain, got), "size %d", size)
	}
}

func TestBody_DetectsTampering(t *testing.T) {
	key := testAEAD(t)
	plain := bytes.Repeat([]byte("abcdefgh"), chunkSize/4)
	sealed := encrypt(t, key, plain, "content", false)

	t.Run("flipped byte", func(t *testing.T) {
		for _, pos := range []int{0, noncePrefix + 2, len(sealed) / 2, len(sealed) - 1} {
			tampered := bytes.Clone(sealed)
			tampered[pos] ^= 0x01
			_, err := decrypt(key, tampered, "content")
			assert.ErrorIs(t, err, errIntegrity, "position %d", pos)
		}
	})

	t.Run("truncated to first chunk", func(t *testing.T) {
		first := noncePrefix + 4 + chunkSize + 16
		_, err := decrypt(key, sealed[:first], "content")
		assert.ErrorIs(t, err, errIntegrity)
	})

	t.Run("cut mid chunk", func(t *testing.T) {
		_, err := decrypt(key, sealed[:len(sealed)-3], "content")
		assert.ErrorIs(t, err, errIntegrity)
	})

	t.Run("other content id", func(t *testing.T) {
		_, err := decrypt(key, sealed, "other")
		assert.ErrorIs(t, err, errIntegrity)
	})

	t.Run("other key", func(t *testing.T) {
		_, err := decrypt(testAEAD(t), sealed, "content")
		assert.ErrorIs(t, err, errIntegrity)
	})
}

func TestBlob_BindsAAD(t *testing.T) {
	aead, err := newAEAD(testAEAD(t))
	require.NoError(t, err)

	sealed, err := sealBlob(aead, "header:a", []byte(`{"fileId":"a"}`))
	require.NoError(t, err)

	plain, err := openBlob(aead, "header:a", sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"fileId":"a"}`, string(plain))

	_, err = openBlob(aead, "header:b", sealed)
	assert.ErrorIs(t, err, errIntegrity)

	_, err = openBlob(aead, "header:a", sealed[:5])
	assert.ErrorIs(t, err, errIntegrity)
}

func TestMasterKey_SealedPerUser(t *testing.T) {
	alice := newUser(t, "alice")
	bob := newUser(t, "bob")
	key := testAEAD(t)

	sealed, err := sealKey(alice.ID, key)
	require.NoError(t, err)

	opened, err := openKey(alice, sealed)
	require.NoError(t, err)
	assert.Equal(t, key, opened)

	_, err = openKey(bob, sealed)
	assert.ErrorIs(t, err, errIntegrity)
}
