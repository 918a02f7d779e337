package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrUnsealFailed is returned when a stored value cannot be decrypted.
var ErrUnsealFailed = errors.New("storage: value cannot be unsealed")

// sealedStore encrypts values with XChaCha20-Poly1305. The key name is bound
// as additional data so a value cannot be moved to a different key.
//
// Stored form: base64(nonce || ciphertext)
type sealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// ParseSealKey decodes a hex-encoded 32-byte key.
func ParseSealKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decoding seal key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// Sealed wraps inner so that every value is encrypted before it is stored.
func Sealed(inner Store, key []byte) (Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &sealedStore{inner: inner, aead: aead}, nil
}

func (s *sealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.open(key, data)
}

func (s *sealedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *sealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Watch unseals changes from the inner store. Changes that fail to unseal
// are dropped.
func (s *sealedStore) Watch(ctx context.Context) (<-chan Change, error) {
	in, err := s.inner.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		for c := range in {
			if !c.Deleted {
				v, err := s.open(c.Key, c.Value)
				if err != nil {
					continue
				}
				c.Value = v
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *sealedStore) Close() error {
	return s.inner.Close()
}

func (s *sealedStore) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	box := s.aead.Seal(nonce, nonce, plaintext, []byte(key))

	out := make([]byte, base64.StdEncoding.EncodedLen(len(box)))
	base64.StdEncoding.Encode(out, box)
	return out, nil
}

func (s *sealedStore) open(key string, data []byte) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, ErrUnsealFailed
	}
	n := s.aead.NonceSize()
	if len(box) < n {
		return nil, ErrUnsealFailed
	}
	plaintext, err := s.aead.Open(nil, box[:n], box[n:], []byte(key))
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return plaintext, nil
}
