// Package decryptor implements AES-128-CBC segment decryption for HLS
// content, including key fetching and IV derivation.
package decryptor

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// KeyFetchError reports a failed key fetch. Status is zero for
// transport-level failures.
type KeyFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *KeyFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch key %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch key %s: HTTP %d", e.URL, e.Status)
}

func (e *KeyFetchError) Unwrap() error { return e.Err }

// Decryptor handles AES-128 key material for a job. Keys are cached by
// URL to avoid redundant fetches.
type Decryptor struct {
	keyCache map[string][]byte
	mu       sync.RWMutex
	client   *http.Client
	headers  map[string]string
}

// New creates a Decryptor backed by the given HTTP client.
func New(client *http.Client, headers map[string]string) *Decryptor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Decryptor{
		keyCache: make(map[string][]byte),
		client:   client,
		headers:  headers,
	}
}

// FetchKey retrieves raw key bytes from keyURL. Well-formed keys are 16
// bytes; length is deliberately not validated here, so a malformed key
// surfaces at decrypt time rather than at fetch time.
func (d *Decryptor) FetchKey(ctx context.Context, keyURL string) ([]byte, error) {
	d.mu.RLock()
	if key, ok := d.keyCache[keyURL]; ok {
		d.mu.RUnlock()
		return key, nil
	}
	d.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL, nil)
	if err != nil {
		return nil, &KeyFetchError{URL: keyURL, Err: err}
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &KeyFetchError{URL: keyURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &KeyFetchError{URL: keyURL, Status: resp.StatusCode}
	}

	key, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &KeyFetchError{URL: keyURL, Err: err}
	}

	d.mu.Lock()
	d.keyCache[keyURL] = key
	d.mu.Unlock()

	return key, nil
}

// Decrypt decrypts one segment with AES-128-CBC and strips PKCS7 padding.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV length: %d", len(iv))
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not multiple of block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext), nil
}

// ParseIV parses a hex-encoded IV attribute (optional 0x prefix) into a
// 16-byte buffer. Shorter values are left-padded with zeros.
func ParseIV(ivHex string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(ivHex, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("empty IV")
	}

	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse IV: %w", err)
	}

	if len(iv) < aes.BlockSize {
		padded := make([]byte, aes.BlockSize)
		copy(padded[aes.BlockSize-len(iv):], iv)
		iv = padded
	}
	return iv[:aes.BlockSize], nil
}

// DeriveIV builds the conventional fallback IV for a segment when the
// playlist declares no explicit IV: 16 zero bytes with the big-endian
// 32-bit value mediaSequence+index written into the last four.
func DeriveIV(mediaSequence uint64, index int) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv[12:], uint32(mediaSequence+uint64(index)))
	return iv
}

// pkcs7Unpad removes PKCS7 padding. Invalid padding returns the data
// unchanged rather than erroring, matching how players tolerate
// unpadded transport-stream segments.
func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return data
	}
	for i := 0; i < padLen; i++ {
		if data[len(data)-1-i] != byte(padLen) {
			return data
		}
	}
	return data[:len(data)-padLen]
}
