// Package crypto seals credential secrets with AES-256-GCM. The key is
// derived from the caller's session token, so ciphertexts stop being
// decryptable the moment the session ends, regardless of how long the
// stored record outlives it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/intentgate/intentgate/internal/models"
)

var ErrDecrypt = errors.New("crypto: decryption failed")

// keySalt is a fixed application salt; uniqueness per secret comes from
// the random nonce, the salt only domain-separates the derived keys.
var keySalt = []byte("intentgate.credential.v1")

const pbkdf2Iterations = 4096

// DeriveKey stretches a session token into a 32-byte AES key.
func DeriveKey(sessionToken string) []byte {
	return pbkdf2.Key([]byte(sessionToken), keySalt, pbkdf2Iterations, 32, sha256.New)
}

// Encrypt seals plaintext under key and returns the base64 ciphertext
// plus the nonce it was sealed with.
func Encrypt(plaintext string, key []byte) (models.EncryptedSecret, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return models.EncryptedSecret{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return models.EncryptedSecret{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.EncryptedSecret{}, err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return models.EncryptedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a sealed secret. Any failure collapses into ErrDecrypt
// so callers cannot leak partial plaintext or cipher internals.
func Decrypt(secret models.EncryptedSecret, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(secret.Ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	nonce, err := base64.StdEncoding.DecodeString(secret.IV)
	if err != nil {
		return "", ErrDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrDecrypt
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrDecrypt
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
