package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encryptAll(t *testing.T, plain []byte, password string) []byte {
	t.Helper()
	r, err := Encrypt(bytes.NewReader(plain), password)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17}
	for _, size := range sizes {
		plain := make([]byte, size)
		_, err := rand.Read(plain)
		require.NoError(t, err)

		ciphertext := encryptAll(t, plain, "hunter2")
		assert.True(t, IsEncrypted(ciphertext))
		assert.Equal(t, EncryptedSize(int64(size)), int64(len(ciphertext)), "size %d", size)

		r, err := Decrypt(bytes.NewReader(ciphertext), "hunter2")
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(plain, got), "size %d", size)
	}
}

func TestDecryptWithShortReads(t *testing.T) {
	plain := bytes.Repeat([]byte("volume data "), ChunkSize/4)
	ciphertext := encryptAll(t, plain, "pw")

	r, err := Decrypt(iotest.OneByteReader(bytes.NewReader(ciphertext)), "pw")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestWrongPassword(t *testing.T) {
	ciphertext := encryptAll(t, []byte("secret"), "right")

	r, err := Decrypt(bytes.NewReader(ciphertext), "wrong")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.True(t, errors.Is(err, ErrWrongPassword))
}

func TestTruncationDetected(t *testing.T) {
	plain := make([]byte, 2*ChunkSize+10)
	ciphertext := encryptAll(t, plain, "pw")

	headerLen := len(ciphertext) - int(int64(len(plain))+3*16)
	cut := ciphertext[:headerLen+ChunkSize+16]

	r, err := Decrypt(bytes.NewReader(cut), "pw")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.Error(t, err)
}

func TestHeaderValidation(t *testing.T) {
	_, err := Decrypt(bytes.NewReader([]byte("plain tar.gz data here, definitely long enough")), "pw")
	assert.ErrorIs(t, err, ErrNotEncrypted)

	_, err = Decrypt(bytes.NewReader([]byte("tiny")), "pw")
	assert.ErrorIs(t, err, ErrNotEncrypted)

	assert.False(t, IsEncrypted([]byte("DHOM")))

	bad := append([]byte(magic), 9)
	bad = append(bad, make([]byte, SaltSize+NonceSize)...)
	_, err = ReadEncryptionHeader(bytes.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encryption version")
}
