package cryptohook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// deriveAESKey decodes the 43-character EncodingAESKey into the 32-byte
// AES-256 key.
func deriveAESKey(encodingAESKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("invalid encoding AES key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encoding AES key: got %d bytes, want 32", len(key))
	}
	return key, nil
}

// signature computes the callback signature: the four values sorted
// lexicographically, concatenated and SHA-1 hashed.
func signature(token, timestamp, nonce, encrypted string) string {
	parts := []string{token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// verifySignature checks the supplied signature in constant time.
// Verification happens before any decryption attempt.
func verifySignature(token, timestamp, nonce, encrypted, supplied string) bool {
	expected := signature(token, timestamp, nonce, encrypted)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// decrypt recovers the plaintext content and receiver id from a base64
// ciphertext. The first 16 bytes of the decoded buffer are the CBC IV;
// the decrypted buffer is laid out as
// [16 random bytes][4-byte big-endian length][content][receiver id].
func decrypt(key []byte, encoded string) (content []byte, receiverID string, err error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	if len(data) < aes.BlockSize*2 || len(data)%aes.BlockSize != 0 {
		return nil, "", fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, "", err
	}

	iv := data[:aes.BlockSize]
	buf := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, data[aes.BlockSize:])

	buf, err = pkcs7Unpad(buf)
	if err != nil {
		return nil, "", err
	}

	if len(buf) < 20 {
		return nil, "", fmt.Errorf("plaintext too short: %d bytes", len(buf))
	}
	length := binary.BigEndian.Uint32(buf[16:20])
	if int(length) > len(buf)-20 {
		return nil, "", fmt.Errorf("declared content length %d exceeds payload", length)
	}

	content = buf[20 : 20+length]
	receiverID = string(buf[20+length:])
	return content, receiverID, nil
}

// encrypt is the inverse of decrypt; it backs the echo verification
// response and the round-trip tests.
func encrypt(key, content []byte, receiverID string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, 20+len(content)+len(receiverID))
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	buf = append(buf, random...)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(content)))
	buf = append(buf, length[:]...)
	buf = append(buf, content...)
	buf = append(buf, []byte(receiverID)...)
	buf = pkcs7Pad(buf, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	out := make([]byte, aes.BlockSize+len(buf))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// pkcs7Unpad strips padding whose length is the value of the last byte.
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid PKCS7 padding length %d", pad)
	}
	return data[:len(data)-pad], nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	for i := 0; i < pad; i++ {
		data = append(data, byte(pad))
	}
	return data
}
