package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/juicebox/juicechat/pkg/client"
)

const (
	// DeviceKeyConfig is the config key holding the hex device private key
	DeviceKeyConfig = "device_private_key"

	// chatKeyPrefix prefixes the config key of each chat key
	chatKeyPrefix = "chat_key:"
)

var (
	ErrKeyNotFound   = errors.New("encryption key not found")
	ErrKeyCorrupt    = errors.New("stored key is corrupt")
	ErrInvalidChatID = errors.New("invalid chat ID")
)

// KeyStore keeps the device key pair and chat keys in the client state.
// It is safe for concurrent use.
type KeyStore struct {
	state client.StateInterface

	mu       sync.Mutex
	device   *X25519KeyPair
	chatKeys map[string][]byte
}

// NewKeyStore creates a KeyStore over state
func NewKeyStore(state client.StateInterface) *KeyStore {
	return &KeyStore{
		state:    state,
		chatKeys: make(map[string][]byte),
	}
}

// DeviceKey loads the device key pair, generating and saving one on first
// use. Reports whether the key was newly generated.
func (ks *KeyStore) DeviceKey() (*X25519KeyPair, bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.device != nil {
		return ks.device, false, nil
	}

	stored, err := ks.state.GetConfig(DeviceKeyConfig)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read device key: %w", err)
	}
	if stored != "" {
		privateKey, err := decodeKey(stored, X25519KeySize)
		if err != nil {
			return nil, false, err
		}
		publicKey, err := X25519PrivateToPublic(privateKey)
		if err != nil {
			return nil, false, err
		}
		kp := &X25519KeyPair{}
		copy(kp.PrivateKey[:], privateKey)
		copy(kp.PublicKey[:], publicKey)
		ks.device = kp
		return kp, false, nil
	}

	kp, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := ks.state.SetConfig(DeviceKeyConfig, hex.EncodeToString(kp.PrivateKey[:])); err != nil {
		return nil, false, fmt.Errorf("failed to save device key: %w", err)
	}
	ks.device = kp
	return kp, true, nil
}

// PublicKey returns the device public key as base64, for sharing with
// members who will seal chat keys to it
func (ks *KeyStore) PublicKey() (string, error) {
	kp, _, err := ks.DeviceKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(kp.PublicKey[:]), nil
}

// SaveChatKey stores the key for chatID
func (ks *KeyStore) SaveChatKey(chatID string, key []byte) error {
	if chatID == "" {
		return ErrInvalidChatID
	}
	if len(key) != AESKeySize {
		return fmt.Errorf("%w: chat key must be %d bytes", ErrInvalidKeySize, AESKeySize)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.state.SetConfig(chatKeyPrefix+chatID, hex.EncodeToString(key)); err != nil {
		return fmt.Errorf("failed to save chat key: %w", err)
	}
	ks.chatKeys[chatID] = append([]byte(nil), key...)
	return nil
}

// ChatKey returns the key for chatID or ErrKeyNotFound
func (ks *KeyStore) ChatKey(chatID string) ([]byte, error) {
	if chatID == "" {
		return nil, ErrInvalidChatID
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if key, ok := ks.chatKeys[chatID]; ok {
		return key, nil
	}

	stored, err := ks.state.GetConfig(chatKeyPrefix + chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat key: %w", err)
	}
	if stored == "" {
		return nil, ErrKeyNotFound
	}
	key, err := decodeKey(stored, AESKeySize)
	if err != nil {
		return nil, err
	}
	ks.chatKeys[chatID] = key
	return key, nil
}

// HasChatKey reports whether a key for chatID is stored
func (ks *KeyStore) HasChatKey(chatID string) bool {
	_, err := ks.ChatKey(chatID)
	return err == nil
}

// DeleteChatKey forgets the key for chatID. Deleting a missing key is not an error.
func (ks *KeyStore) DeleteChatKey(chatID string) error {
	if chatID == "" {
		return ErrInvalidChatID
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.state.SetConfig(chatKeyPrefix+chatID, ""); err != nil {
		return fmt.Errorf("failed to delete chat key: %w", err)
	}
	delete(ks.chatKeys, chatID)
	return nil
}

// NewChatKey generates and stores a fresh key for chatID
func (ks *KeyStore) NewChatKey(chatID string) ([]byte, error) {
	key, err := GenerateChatKey()
	if err != nil {
		return nil, err
	}
	if err := ks.SaveChatKey(chatID, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ShareChatKey seals the key for chatID to a member's base64 public key
func (ks *KeyStore) ShareChatKey(chatID, recipientPublic string) (string, error) {
	key, err := ks.ChatKey(chatID)
	if err != nil {
		return "", err
	}
	pub, err := base64.StdEncoding.DecodeString(recipientPublic)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return SealChatKey(key, pub)
}

// ImportChatKey opens a key sealed to this device and stores it for chatID
func (ks *KeyStore) ImportChatKey(chatID, sealed string) error {
	kp, _, err := ks.DeviceKey()
	if err != nil {
		return err
	}
	key, err := OpenChatKey(sealed, kp)
	if err != nil {
		return err
	}
	return ks.SaveChatKey(chatID, key)
}

// Encrypt encrypts message content for chatID
func (ks *KeyStore) Encrypt(chatID, plaintext string) (string, error) {
	key, err := ks.ChatKey(chatID)
	if err != nil {
		return "", err
	}
	return EncryptContent(key, chatID, plaintext)
}

// Decrypt decrypts message content for chatID
func (ks *KeyStore) Decrypt(chatID, content string) (string, error) {
	key, err := ks.ChatKey(chatID)
	if err != nil {
		return "", err
	}
	return DecryptContent(key, chatID, content)
}

func decodeKey(stored string, size int) ([]byte, error) {
	key, err := hex.DecodeString(stored)
	if err != nil || len(key) != size {
		return nil, ErrKeyCorrupt
	}
	return key, nil
}
