package dcn

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer proves ownership of the account used to log in.
type Signer interface {
	Address() string
	SignText(message string) (string, error)
}

// KeySigner signs personal messages (EIP-191) with a secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner parses a hex private key, with or without a 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("dcn: private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("dcn: parse private key: %w", err)
	}
	return newKeySigner(key), nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("dcn: generate key: %w", err)
	}
	return newKeySigner(key), nil
}

func newKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (s *KeySigner) Address() string { return s.address }

// SignText returns the 65-byte personal_sign signature as 0x-prefixed hex.
func (s *KeySigner) SignText(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("dcn: sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address that produced a SignText signature.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("dcn: decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("dcn: signature must be %d bytes", crypto.SignatureLength)
	}
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("dcn: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
