// Package keyvault generates custodial wallet keypairs and encrypts private
// keys at rest. Decrypted keys exist only as transient in-memory values while
// signing and are never persisted or logged.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/scrypt"
)

const (
	// MinSecretLen is the minimum length of the server-held encryption
	// secret. Anything shorter is a fatal configuration error.
	MinSecretLen = 32

	saltLen = 16

	// scrypt parameters, interactive-grade.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var (
	ErrSecretTooShort = fmt.Errorf("keyvault: encryption secret must be at least %d bytes", MinSecretLen)
	ErrMalformed      = errors.New("keyvault: malformed ciphertext")
)

// Wallet is a freshly generated custodial address/keypair. PrivateKey is hex
// and must be passed to Encrypt before anything touches storage.
type Wallet struct {
	Address    string
	PublicKey  string
	PrivateKey string
}

type Vault struct {
	secret  []byte
	network string
}

// New validates the server secret up front; a short secret is refused here
// rather than at first use.
func New(secret, network string) (*Vault, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Vault{secret: []byte(secret), network: network}, nil
}

// GenerateWallet creates a new secp256k1 keypair and its P2PKH address.
func (v *Vault) GenerateWallet() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()

	return &Wallet{
		Address:    AddressFromPubKey(pub, v.network),
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
	}, nil
}

// Encrypt seals plaintext as saltHex:nonceHex:cipherHex. The salt is random
// per call and stored alongside the ciphertext, the AES-256-GCM key is
// derived from the server secret via scrypt.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(salt),
		hex.EncodeToString(nonce),
		hex.EncodeToString(sealed),
	), nil
}

// Decrypt reverses Encrypt. Callers must discard the result as soon as the
// signing operation it serves is done.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", ErrMalformed
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != saltLen {
		return "", ErrMalformed
	}
	nonce, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformed
	}
	sealed, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrMalformed
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("keyvault: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.secret, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// AddressFromPubKey computes the legacy base58check P2PKH address for a
// serialized public key.
func AddressFromPubKey(pub []byte, network string) string {
	sha := sha256.Sum256(pub)
	rip := ripemd160.New()
	rip.Write(sha[:])
	hash160 := rip.Sum(nil)

	version := byte(0x00)
	if network == "testnet" {
		version = 0x6f
	}
	return base58Check(version, hash160)
}

// ParsePrivateKey restores a secp256k1 key from the hex form Decrypt returns.
func ParsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, errors.New("keyvault: invalid private key encoding")
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func base58Check(version byte, payload []byte) string {
	data := append([]byte{version}, payload...)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	data = append(data, second[:4]...)

	// Big-endian base conversion.
	var digits []byte
	for _, b := range data {
		carry := int(b)
		for i := 0; i < len(digits); i++ {
			carry += int(digits[i]) << 8
			digits[i] = byte(carry % 58)
			carry /= 58
		}
		for carry > 0 {
			digits = append(digits, byte(carry%58))
			carry /= 58
		}
	}

	var sb strings.Builder
	for _, b := range data {
		if b != 0 {
			break
		}
		sb.WriteByte(base58Alphabet[0])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		sb.WriteByte(base58Alphabet[digits[i]])
	}
	return sb.String()
}
