// Package crypto provides key loading, EIP-712 order signing, and L2 HMAC
// authentication for the Polymarket CLOB API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 1 << 15
	scryptR   = 8
	scryptP   = 1
	saltLen   = 16
	aesKeyLen = 32

	sealedVersion = 2
)

// sealedKey is the on-disk format written by SealKey.
type sealedKey struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. A raw key wins over a file.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	Password         string
}

// SealKey encrypts a hex private key with scrypt + AES-256-GCM.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    sealedVersion,
		KDF:        "scrypt",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// OpenKey decrypts a file written by SealKey, or a standard Ethereum V3
// keystore file, and returns the private key.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if _, ok := probe["crypto"]; ok {
		k, err := keystore.DecryptKey(data, password)
		if err != nil {
			return nil, fmt.Errorf("crypto: keystore: %w", err)
		}
		return k.PrivateKey, nil
	}

	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if sk.Version != sealedVersion || sk.KDF != "scrypt" {
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d (%s)", sk.Version, sk.KDF)
	}
	salt, err1 := base64.StdEncoding.DecodeString(sk.Salt)
	nonce, err2 := base64.StdEncoding.DecodeString(sk.Nonce)
	ct, err3 := base64.StdEncoding.DecodeString(sk.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("crypto: decoding sealed key: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return ethcrypto.ToECDSA(plain)
}

// LoadKey resolves the wallet private key from src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawPrivateKey != "" {
		b, err := decodeKeyHex(src.RawPrivateKey)
		if err != nil {
			return nil, err
		}
		return ethcrypto.ToECDSA(b)
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		return OpenKey(data, src.Password)
	}
	return nil, errors.New("crypto: no private key source configured")
}

func decodeKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	dk, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, aesKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving key: %w", err)
	}
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
