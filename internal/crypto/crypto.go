// Package crypto encrypts exported archives with AES-256-GCM in fixed-size
// chunks so arbitrarily large streams never have to fit in memory.
package crypto

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the salt for key derivation
	SaltSize = 32
	// KeySize is the size of the AES key (256 bits)
	KeySize = 32
	// NonceSize is the size of the GCM nonce
	NonceSize = 12
	// Iterations for PBKDF2
	Iterations = 100000
	// ChunkSize is the plaintext size of every chunk but the last.
	ChunkSize = 64 * 1024

	magic   = "DHOM-ENC"
	version = 1
)

// ErrWrongPassword is returned when a chunk fails authentication, which in
// practice means the password is wrong or the file was modified.
var ErrWrongPassword = errors.New("decryption failed: wrong password or corrupted data")

// ErrNotEncrypted is returned for input that does not start with the
// encryption header.
var ErrNotEncrypted = errors.New("not an encrypted dhom archive")

var (
	adMore  = []byte{0}
	adFinal = []byte{1}
)

// EncryptionHeader contains encryption metadata
type EncryptionHeader struct {
	Salt  []byte
	Nonce []byte
}

// DeriveKey derives an encryption key from a password using PBKDF2
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// chunkNonce mixes the chunk counter into the base nonce.
func chunkNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// EncryptReader wraps a reader with AES-256-GCM encryption
type EncryptReader struct {
	reader    *bufio.Reader
	cipher    cipher.AEAD
	baseNonce []byte
	counter   uint64
	buffer    []byte
	encrypted []byte
	done      bool
}

// NewEncryptReader creates a new encrypting reader. The returned header must
// be written before the ciphertext.
func NewEncryptReader(r io.Reader, password string) (*EncryptReader, *EncryptionHeader, error) {
	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, nil, err
	}

	return &EncryptReader{
		reader:    bufio.NewReaderSize(r, ChunkSize),
		cipher:    gcm,
		baseNonce: nonce,
		buffer:    make([]byte, ChunkSize),
	}, &EncryptionHeader{Salt: salt, Nonce: nonce}, nil
}

// Read implements io.Reader with encryption
func (er *EncryptReader) Read(p []byte) (int, error) {
	for len(er.encrypted) == 0 {
		if er.done {
			return 0, io.EOF
		}
		if err := er.sealNext(); err != nil {
			return 0, err
		}
	}
	n := copy(p, er.encrypted)
	er.encrypted = er.encrypted[n:]
	return n, nil
}

func (er *EncryptReader) sealNext() error {
	n, err := io.ReadFull(er.reader, er.buffer)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	final := err != nil
	if !final {
		if _, peekErr := er.reader.Peek(1); peekErr != nil {
			if !errors.Is(peekErr, io.EOF) {
				return peekErr
			}
			final = true
		}
	}

	ad := adMore
	if final {
		ad = adFinal
		er.done = true
	}
	er.encrypted = er.cipher.Seal(nil, chunkNonce(er.baseNonce, er.counter), er.buffer[:n], ad)
	er.counter++
	return nil
}

// DecryptReader wraps a reader with AES-256-GCM decryption
type DecryptReader struct {
	reader    *bufio.Reader
	cipher    cipher.AEAD
	baseNonce []byte
	counter   uint64
	buffer    []byte
	decrypted []byte
	done      bool
}

// NewDecryptReader creates a new decrypting reader
func NewDecryptReader(r io.Reader, password string, header *EncryptionHeader) (*DecryptReader, error) {
	gcm, err := newGCM(password, header.Salt)
	if err != nil {
		return nil, err
	}

	baseNonce := make([]byte, len(header.Nonce))
	copy(baseNonce, header.Nonce)

	return &DecryptReader{
		reader:    bufio.NewReaderSize(r, ChunkSize+gcm.Overhead()),
		cipher:    gcm,
		baseNonce: baseNonce,
		buffer:    make([]byte, ChunkSize+gcm.Overhead()),
	}, nil
}

// Read implements io.Reader with decryption
func (dr *DecryptReader) Read(p []byte) (int, error) {
	for len(dr.decrypted) == 0 {
		if dr.done {
			return 0, io.EOF
		}
		if err := dr.openNext(); err != nil {
			return 0, err
		}
	}
	n := copy(p, dr.decrypted)
	dr.decrypted = dr.decrypted[n:]
	return n, nil
}

func (dr *DecryptReader) openNext() error {
	n, err := io.ReadFull(dr.reader, dr.buffer)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("encrypted stream is truncated: %w", io.ErrUnexpectedEOF)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	final := err != nil
	if !final {
		if _, peekErr := dr.reader.Peek(1); peekErr != nil {
			if !errors.Is(peekErr, io.EOF) {
				return peekErr
			}
			final = true
		}
	}

	ad := adMore
	if final {
		ad = adFinal
	}
	plain, openErr := dr.cipher.Open(nil, chunkNonce(dr.baseNonce, dr.counter), dr.buffer[:n], ad)
	if openErr != nil {
		if final {
			return fmt.Errorf("%w (or the stream is truncated)", ErrWrongPassword)
		}
		return ErrWrongPassword
	}
	dr.counter++
	dr.decrypted = plain
	dr.done = final
	return nil
}

// WriteEncryptionHeader writes the encryption header to a writer
func WriteEncryptionHeader(w io.Writer, header *EncryptionHeader) error {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	buf.Write(header.Salt)
	buf.Write(header.Nonce)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write encryption header: %w", err)
	}
	return nil
}

// ReadEncryptionHeader reads the encryption header from a reader
func ReadEncryptionHeader(r io.Reader) (*EncryptionHeader, error) {
	prefix := make([]byte, len(magic)+1)
	n, err := io.ReadFull(r, prefix)
	if !IsEncrypted(prefix[:n]) {
		return nil, ErrNotEncrypted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption header: %w", err)
	}
	if v := prefix[len(magic)]; v != version {
		return nil, fmt.Errorf("unsupported encryption version: %d", v)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	return &EncryptionHeader{Salt: salt, Nonce: nonce}, nil
}

// Encrypt returns a reader producing the header followed by the ciphertext of r.
func Encrypt(r io.Reader, password string) (io.Reader, error) {
	enc, header, err := NewEncryptReader(r, password)
	if err != nil {
		return nil, err
	}
	var headerBuf bytes.Buffer
	if err := WriteEncryptionHeader(&headerBuf, header); err != nil {
		return nil, err
	}
	return io.MultiReader(&headerBuf, enc), nil
}

// Decrypt reads the header from r and returns a reader of the plaintext.
func Decrypt(r io.Reader, password string) (io.Reader, error) {
	header, err := ReadEncryptionHeader(r)
	if err != nil {
		return nil, err
	}
	return NewDecryptReader(r, password, header)
}

// EncryptedSize is the exact ciphertext size, header included, for a
// plaintext of n bytes.
func EncryptedSize(n int64) int64 {
	const overhead = 16
	chunks := n / ChunkSize
	if n%ChunkSize != 0 || n == 0 {
		chunks++
	}
	return int64(len(magic)+1+SaltSize+NonceSize) + n + chunks*overhead
}

// IsEncrypted reports whether data starts with the encryption magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}
