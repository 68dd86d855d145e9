// Package crypto provides end-to-end encryption for encrypted chats.
//
// Each encrypted chat has a random 32-byte chat key. Message content is
// AES-256-GCM under that key with the chat id as additional data, carried
// as base64 in the message's content field. Chat keys are shared between
// members by sealing them to the recipient's X25519 device key: an
// ephemeral X25519 exchange, HKDF-SHA512, then AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// X25519KeySize is the size of X25519 public and private keys
	X25519KeySize = 32

	// AESKeySize is the size of AES-256 keys
	AESKeySize = 32

	// NonceSize is the size of AES-GCM nonces
	NonceSize = 12

	// TagSize is the size of AES-GCM authentication tags
	TagSize = 16

	// HKDFSalt is the salt used when deriving sealing keys
	HKDFSalt = "juice-chat-key-v1"
)

var (
	ErrInvalidKeySize      = errors.New("invalid key size")
	ErrInvalidCiphertext   = errors.New("ciphertext too short")
	ErrDecryptionFailed    = errors.New("decryption failed: authentication error")
	ErrKeyGenerationFailed = errors.New("key generation failed")
	ErrSharedSecretFailed  = errors.New("shared secret computation failed")
	ErrInvalidPublicKey    = errors.New("invalid public key")
	ErrInvalidEncoding     = errors.New("invalid base64 encoding")
)

// X25519KeyPair is a device key pair used to receive sealed chat keys
type X25519KeyPair struct {
	PublicKey  [X25519KeySize]byte
	PrivateKey [X25519KeySize]byte
}

// GenerateX25519KeyPair generates a new clamped X25519 key pair
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var privateKey [X25519KeySize]byte
	if _, err := io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}

	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	publicKey, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}

	kp := &X25519KeyPair{}
	copy(kp.PrivateKey[:], privateKey[:])
	copy(kp.PublicKey[:], publicKey)
	return kp, nil
}

// X25519PrivateToPublic derives the X25519 public key from a private key.
func X25519PrivateToPublic(privateKey []byte) ([]byte, error) {
	if len(privateKey) != X25519KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, X25519KeySize, len(privateKey))
	}

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return publicKey, nil
}

// ComputeSharedSecret performs X25519 Diffie-Hellman. Low-order public keys
// are rejected.
func ComputeSharedSecret(myPrivateKey, theirPublicKey []byte) ([]byte, error) {
	if len(myPrivateKey) != X25519KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ErrInvalidKeySize, X25519KeySize)
	}
	if len(theirPublicKey) != X25519KeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", ErrInvalidKeySize, X25519KeySize)
	}
	if isLowOrderPoint(theirPublicKey) {
		return nil, ErrInvalidPublicKey
	}

	sharedSecret, err := curve25519.X25519(myPrivateKey, theirPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSharedSecretFailed, err)
	}
	return sharedSecret, nil
}

// GenerateChatKey returns a fresh random chat key
func GenerateChatKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return key, nil
}

// deriveSealingKey binds the sealing key to both public keys
func deriveSealingKey(sharedSecret, ephemeralPublic, recipientPublic []byte) ([]byte, error) {
	info := make([]byte, 0, 2*X25519KeySize)
	info = append(info, ephemeralPublic...)
	info = append(info, recipientPublic...)

	r := hkdf.New(sha512.New, sharedSecret, []byte(HKDFSalt), info)
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// SealChatKey encrypts chatKey so only the holder of recipientPublic's
// private key can open it. Returns base64(ephemeralPublic || nonce || ciphertext || tag).
func SealChatKey(chatKey, recipientPublic []byte) (string, error) {
	if len(chatKey) != AESKeySize {
		return "", fmt.Errorf("%w: chat key must be %d bytes", ErrInvalidKeySize, AESKeySize)
	}

	ephemeral, err := GenerateX25519KeyPair()
	if err != nil {
		return "", err
	}
	shared, err := ComputeSharedSecret(ephemeral.PrivateKey[:], recipientPublic)
	if err != nil {
		return "", err
	}
	sealingKey, err := deriveSealingKey(shared, ephemeral.PublicKey[:], recipientPublic)
	if err != nil {
		return "", err
	}
	sealed, err := EncryptMessage(sealingKey, chatKey, ephemeral.PublicKey[:])
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, X25519KeySize+len(sealed))
	out = append(out, ephemeral.PublicKey[:]...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenChatKey reverses SealChatKey with the recipient's key pair
func OpenChatKey(sealed string, recipient *X25519KeyPair) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(raw) < X25519KeySize+NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	ephemeralPublic := raw[:X25519KeySize]
	shared, err := ComputeSharedSecret(recipient.PrivateKey[:], ephemeralPublic)
	if err != nil {
		return nil, err
	}
	sealingKey, err := deriveSealingKey(shared, ephemeralPublic, recipient.PublicKey[:])
	if err != nil {
		return nil, err
	}
	chatKey, err := DecryptMessage(sealingKey, raw[X25519KeySize:], ephemeralPublic)
	if err != nil {
		return nil, err
	}
	if len(chatKey) != AESKeySize {
		return nil, fmt.Errorf("%w: opened key is %d bytes", ErrInvalidKeySize, len(chatKey))
	}
	return chatKey, nil
}

// EncryptContent encrypts message content for chatID and returns base64
func EncryptContent(chatKey []byte, chatID, plaintext string) (string, error) {
	sealed, err := EncryptMessage(chatKey, []byte(plaintext), []byte(chatID))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptContent reverses EncryptContent. Content moved between chats
// fails authentication.
func DecryptContent(chatKey []byte, chatID, content string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	plaintext, err := DecryptMessage(chatKey, raw, []byte(chatID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptMessage encrypts plaintext using AES-256-GCM with additional data.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func EncryptMessage(key, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, additionalData), nil
}

// DecryptMessage decrypts a ciphertext produced by EncryptMessage with the
// same additional data.
func DecryptMessage(key, ciphertext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKeySize, AESKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// lowOrderPoints are X25519 public keys that force a predictable shared secret
var lowOrderPoints = [][32]byte{
	// Point at infinity (all zeros)
	{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	// Order 2 point
	{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	// Order 4 points
	{0xe0, 0xeb, 0x7a, 0x7c, 0x3b, 0x41, 0xb8, 0xae, 0x16, 0x56, 0xe3, 0xfa, 0xf1, 0x9f, 0xc4, 0x6a, 0xda, 0x09, 0x8d, 0xeb, 0x9c, 0x32, 0xb1, 0xfd, 0x86, 0x62, 0x05, 0x16, 0x5f, 0x49, 0xb8, 0x00},
	{0x5f, 0x9c, 0x95, 0xbc, 0xa3, 0x50, 0x8c, 0x24, 0xb1, 0xd0, 0xb1, 0x55, 0x9c, 0x83, 0xef, 0x5b, 0x04, 0x44, 0x5c, 0xc4, 0x58, 0x1c, 0x8e, 0x86, 0xd8, 0x22, 0x4e, 0xdd, 0xd0, 0x9f, 0x11, 0x57},
	// Order 8 points
	{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	{0xed, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	{0xee, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
}

func isLowOrderPoint(key []byte) bool {
	if len(key) != X25519KeySize {
		return true
	}

	var keyArray [32]byte
	copy(keyArray[:], key)
	for _, lowOrder := range lowOrderPoints {
		if keyArray == lowOrder {
			return true
		}
	}
	return false
}
