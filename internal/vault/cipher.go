package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingSalt   = errors.New("key salt is not configured")
	ErrInvalidFormat = errors.New("invalid encoded secret key format")
)

// EncodeSecret encrypts secret with AES-256-CBC under sha256(salt). The
// output is base64(hex(iv) + ":" + hex(ciphertext)), which keeps keys
// written by earlier deployments readable.
func EncodeSecret(secret, salt string) (string, error) {
	block, err := blockFor(salt)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	plain := pkcs7Pad([]byte(secret), aes.BlockSize)
	ct := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)
	combined := hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
	return base64.StdEncoding.EncodeToString([]byte(combined)), nil
}

func DecodeSecret(encoded, salt string) (string, error) {
	block, err := blockFor(salt)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", ErrInvalidFormat
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrInvalidFormat
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	out, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(out), nil
}

func blockFor(salt string) (cipher.Block, error) {
	if salt == "" {
		return nil, ErrMissingSalt
	}
	key := sha256.Sum256([]byte(salt))
	return aes.NewCipher(key[:])
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad block length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
